package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"algotrader/internal/application/service/engine"
	appinstruments "algotrader/internal/application/service/instruments"
	appmarketdata "algotrader/internal/application/service/marketdata"
	apppnl "algotrader/internal/application/service/pnl"
	"algotrader/internal/config"
	trading "algotrader/internal/domain/entity/trading"
	interfaces "algotrader/internal/domain/interfaces"
	"algotrader/internal/infrastructure/events"
	infrainstruments "algotrader/internal/infrastructure/instruments"
	"algotrader/internal/infrastructure/invest"
	inframarketdata "algotrader/internal/infrastructure/marketdata"
	"algotrader/internal/infrastructure/metrics"
	"algotrader/internal/infrastructure/paper"
	infrapnl "algotrader/internal/infrastructure/pnl"
	"algotrader/internal/infrastructure/wsfeed"
	infrahttp "algotrader/internal/interfaces/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	investgo "github.com/russianinvestments/invest-api-go-sdk/investgo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("trader stopped with error: %v", err)
	}
	logger.Info("trader stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	configs, err := loadInstruments(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.WithField("instruments", len(configs)).Info("instrument configuration loaded")

	session, err := engine.NewSession(cfg.Session.Location, cfg.Session.Start, cfg.Session.Cutoffs, cfg.Session.GlobalCutoff)
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(registry)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()
	}

	var investClient *investgo.Client
	if cfg.Broker == config.BrokerInvest || cfg.Feed.Kind == config.FeedInvest {
		investClient, err = invest.Connect(ctx, invest.Config{
			Endpoint:      cfg.Invest.Endpoint,
			Token:         cfg.Invest.Token,
			AppName:       cfg.Invest.AppName,
			AccountID:     cfg.Invest.AccountID,
			SkipTLSVerify: cfg.Invest.SkipTLSVerify,
		}, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := investClient.Stop(); err != nil {
				logger.WithError(err).Warn("stop invest client")
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	candles, err := openCandleStore(ctx, cfg, logger, g, gctx)
	if err != nil {
		return err
	}
	candleService := appmarketdata.NewService(candles)
	defer candleService.Close()

	var broker interfaces.Broker
	var observer interfaces.PriceObserver
	switch cfg.Broker {
	case config.BrokerInvest:
		b, err := invest.NewBroker(investClient, cfg.Invest.AccountID, configs, session.Location(), logger)
		if err != nil {
			return err
		}
		broker = b
	default:
		b := paper.NewBroker(configs, logger)
		broker, observer = b, b
	}

	var store interfaces.PnLStore = infrapnl.NewMemoryStore()
	if redisClient != nil {
		store = infrapnl.NewRedisStore(redisClient)
	}
	aggregator := apppnl.NewAggregator(broker, store, configs, session.Location(), cfg.Engine.PnLRefresh)

	var publisher interfaces.EventPublisher = events.NewLogPublisher(logger)
	if cfg.RabbitMQ.URL != "" {
		p, err := events.Dial(events.Config{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Batch:    events.BatchConfig{Size: cfg.RabbitMQ.BatchSize, Timeout: cfg.RabbitMQ.BatchTimeout},
		}, logger)
		if err != nil {
			return err
		}
		publisher = p
		g.Go(func() error { return p.Run(gctx) })
	}

	eng := engine.New(configs, session, engine.Deps{
		Candles:  candles,
		Broker:   broker,
		PnL:      aggregator,
		Events:   publisher,
		Recorder: recorder,
		Metrics:  recorder,
		Observer: observer,
	}, engine.Options{
		QueueSize:    cfg.Engine.QueueSize,
		OrderTimeout: cfg.Engine.OrderTimeout,
	}, logger)
	if err := eng.Restore(ctx); err != nil {
		return fmt.Errorf("restore candles: %w", err)
	}

	var feed interfaces.Feed
	switch cfg.Feed.Kind {
	case config.FeedWS:
		feed = wsfeed.NewFeed(cfg.Feed.WSURL, cfg.Invest.Token, logger)
	default:
		feed = invest.NewFeed(investClient, logger)
	}
	supervisor := engine.NewSupervisor(feed, eng.Dispatch, eng.InstrumentIDs(), engine.SupervisorConfig{
		MinBackoff:   cfg.Feed.BackoffMin,
		MaxBackoff:   cfg.Feed.BackoffMax,
		Healthy:      cfg.Feed.Healthy,
		MaxPermanent: cfg.Feed.MaxPermanentFail,
	}, publisher, logger)
	supervisor.OnReconnect(recorder.Reconnect)

	intervals := make(map[string]int, len(configs))
	for _, c := range configs {
		intervals[c.InstrumentID] = c.IntervalMinutes
	}
	handler := infrahttp.NewHandler(infrahttp.Deps{
		States:    eng,
		PnL:       aggregator,
		Candles:   candleService,
		Day:       session.Day,
		Intervals: intervals,
		Gatherer:  registry,
	}, redisClient, cfg.Cache.TTL)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error {
		err := supervisor.Run(gctx)
		eng.Stop()
		return err
	})
	g.Go(func() error {
		logger.Infof("HTTP server listening on %s", cfg.HTTP.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	logger.WithFields(logrus.Fields{
		"broker": cfg.Broker,
		"feed":   cfg.Feed.Kind,
		"env":    cfg.Env,
	}).Info("trader started")

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loadInstruments prefers the YAML file and falls back to Postgres when the
// file is absent and a DSN is configured.
func loadInstruments(ctx context.Context, cfg *config.Config, logger *logrus.Logger) ([]trading.InstrumentConfig, error) {
	var repo interfaces.InstrumentsRepository
	if _, err := os.Stat(cfg.Storage.InstrumentsFile); err == nil || cfg.Postgres.DSN == "" {
		repo = infrainstruments.NewFileRepository(cfg.Storage.InstrumentsFile)
	} else {
		pg, err := infrainstruments.NewRepository(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("init instruments repo: %w", err)
		}
		repo = pg
		logger.Info("loading instruments from postgres")
	}
	service := appinstruments.NewService(repo)
	defer service.Close()
	return service.Load(ctx)
}

// openCandleStore returns the Postgres store when a DSN is set, otherwise
// the file store with its snapshot loop registered on g.
func openCandleStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger, g *errgroup.Group, gctx context.Context) (interfaces.CandleRepository, error) {
	if cfg.Postgres.DSN != "" {
		repo, err := inframarketdata.NewRepository(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("init candle repo: %w", err)
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil
	}
	repo, err := inframarketdata.NewFileRepository(cfg.Storage.CandleDir, cfg.Session.Location, cfg.Storage.SnapshotEvery, logger)
	if err != nil {
		return nil, fmt.Errorf("init candle files: %w", err)
	}
	g.Go(func() error { return repo.Run(gctx) })
	return repo, nil
}
