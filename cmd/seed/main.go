package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	appinstruments "algotrader/internal/application/service/instruments"
	trading "algotrader/internal/domain/entity/trading"
	infrainstruments "algotrader/internal/infrastructure/instruments"
	"algotrader/internal/infrastructure/invest"

	investgo "github.com/russianinvestments/invest-api-go-sdk/investgo"
	"github.com/sirupsen/logrus"
)

const defaultInstrumentsFile = "instruments.yaml"

type seedConfig struct {
	InstrumentsFile string
	DatabaseDSN     string
	Invest          invest.Config
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	data, err := os.ReadFile(cfg.InstrumentsFile)
	if err != nil {
		logger.Fatalf("read instruments file: %v", err)
	}
	configs, err := infrainstruments.ParseYAML(data)
	if err != nil {
		logger.Fatalf("parse instruments file: %v", err)
	}

	if cfg.Invest.Token != "" {
		client, err := invest.Connect(ctx, cfg.Invest, logger)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		resolveSymbols(client.NewInstrumentsServiceClient(), configs, logger)
		if stopErr := client.Stop(); stopErr != nil {
			logger.Errorf("stop invest api client: %v", stopErr)
		}
	}

	repo, err := infrainstruments.NewRepository(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer repo.Close()
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatalf("prepare schema: %v", err)
	}

	if err := appinstruments.NewService(repo).Save(ctx, configs); err != nil {
		logger.Fatalf("save instruments: %v", err)
	}
	logger.WithField("instruments", len(configs)).Info("trade configurations synced")
}

// resolveSymbols fills missing trading symbols with the exchange ticker.
func resolveSymbols(client *investgo.InstrumentsServiceClient, configs []trading.InstrumentConfig, logger *logrus.Logger) {
	for i := range configs {
		if configs[i].TradingSymbol != "" {
			continue
		}
		resp, err := client.InstrumentByUid(configs[i].InstrumentID)
		if err != nil {
			logger.WithError(err).WithField("instrument", configs[i].InstrumentID).Warn("instrument lookup failed")
			continue
		}
		configs[i].TradingSymbol = resp.GetInstrument().GetTicker()
	}
}

func loadConfig() (*seedConfig, error) {
	dsn := strings.TrimSpace(os.Getenv("DATABASE_DSN"))
	if dsn == "" {
		return nil, errors.New("DATABASE_DSN is required")
	}
	return &seedConfig{
		InstrumentsFile: envOrDefault("INSTRUMENTS_FILE", defaultInstrumentsFile),
		DatabaseDSN:     dsn,
		Invest: invest.Config{
			Token:         strings.TrimSpace(os.Getenv("INVEST_TOKEN")),
			Endpoint:      envOrDefault("INVEST_ENDPOINT", invest.DefaultEndpoint),
			AppName:       envOrDefault("INVEST_APP_NAME", "algotrader-seed"),
			SkipTLSVerify: boolEnv("INVEST_INSECURE_SKIP_VERIFY", false),
		},
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
