package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultEnv             = "development"
	defaultHTTPHost        = "0.0.0.0"
	defaultHTTPPort        = 8080
	defaultRedisDB         = 0
	defaultCacheTTLSeconds = 30
	defaultInstrumentsFile = "instruments.yaml"
	defaultCandleDir       = "data/candles"
	defaultEventsExchange  = "trading.events"
	defaultTimezone        = "Asia/Kolkata"
	defaultSessionStart    = "09:00"
	defaultSessionCutoffs  = "NSE=15:00,BSE=15:00,NFO=15:00,BFO=15:00,CDS=15:00"
	defaultGlobalCutoff    = "23:00"
	defaultInvestEndpoint  = "https://invest-public-api.tinkoff.ru:443"
	defaultInvestAppName   = "algotrader"

	BrokerInvest = "invest"
	BrokerPaper  = "paper"
	FeedInvest   = "invest"
	FeedWS       = "ws"
)

// Config keeps the runtime configuration for the trader.
type Config struct {
	Env      string
	LogLevel logrus.Level
	HTTP     HTTPConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Storage  StorageConfig
	Broker   string
	Feed     FeedConfig
	Invest   InvestConfig
	RabbitMQ RabbitMQConfig
	Session  SessionConfig
	Engine   EngineConfig
}

// HTTPConfig holds HTTP server related settings.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr renders the listen address in host:port form.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// PostgresConfig stores database connection parameters. An empty DSN
// selects the file stores.
type PostgresConfig struct {
	DSN string
}

// RedisConfig stores Redis connection parameters. An empty Addr selects the
// in-memory P/L store and disables the response cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CacheConfig struct {
	TTL time.Duration
}

type StorageConfig struct {
	InstrumentsFile string
	CandleDir       string
	// SnapshotEvery is the file candle store flush period; zero writes
	// through on every upsert.
	SnapshotEvery time.Duration
}

type FeedConfig struct {
	Kind             string
	WSURL            string
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	Healthy          time.Duration
	MaxPermanentFail int
}

type InvestConfig struct {
	Token         string
	Endpoint      string
	AppName       string
	AccountID     string
	SkipTLSVerify bool
}

// RabbitMQConfig configures the event journal; an empty URL logs events
// instead of publishing them.
type RabbitMQConfig struct {
	URL          string
	Exchange     string
	BatchSize    int
	BatchTimeout time.Duration
}

type SessionConfig struct {
	Location     *time.Location
	Start        string
	Cutoffs      map[string]string
	GlobalCutoff string
}

type EngineConfig struct {
	QueueSize    int
	PnLRefresh   time.Duration
	OrderTimeout time.Duration
}

// Load builds Config from environment variables.
func Load() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	port, err := getInt("HTTP_PORT", defaultHTTPPort)
	collect(err)
	redisDB, err := getInt("REDIS_DB", defaultRedisDB)
	collect(err)
	cacheTTL, err := getDuration("CACHE_TTL_SECONDS", time.Second, defaultCacheTTLSeconds)
	collect(err)
	snapshotEvery, err := getDuration("CANDLE_SNAPSHOT_SECONDS", time.Second, 30)
	collect(err)
	skipVerify, err := getBool("INVEST_INSECURE_SKIP_VERIFY", false)
	collect(err)
	batchSize, err := getInt("EVENTS_BATCH_SIZE", 20)
	collect(err)
	batchTimeout, err := getDuration("EVENTS_BATCH_TIMEOUT_MS", time.Millisecond, 500)
	collect(err)
	queueSize, err := getInt("QUEUE_SIZE", 256)
	collect(err)
	pnlRefresh, err := getDuration("PNL_REFRESH_SECONDS", time.Second, 5)
	collect(err)
	orderTimeout, err := getDuration("ORDER_TIMEOUT_SECONDS", time.Second, 10)
	collect(err)
	backoffMin, err := getDuration("FEED_BACKOFF_MIN_SECONDS", time.Second, 5)
	collect(err)
	backoffMax, err := getDuration("FEED_BACKOFF_MAX_SECONDS", time.Second, 60)
	collect(err)
	healthy, err := getDuration("FEED_HEALTHY_SECONDS", time.Second, 120)
	collect(err)
	maxPermanent, err := getInt("FEED_MAX_PERMANENT_FAILURES", 3)
	collect(err)

	level, err := logrus.ParseLevel(getString("LOG_LEVEL", "info"))
	if err != nil {
		collect(fmt.Errorf("parse LOG_LEVEL: %w", err))
		level = logrus.InfoLevel
	}

	loc, err := time.LoadLocation(getString("TIMEZONE", defaultTimezone))
	if err != nil {
		collect(fmt.Errorf("load TIMEZONE: %w", err))
	}
	cutoffs, err := ParseCutoffs(getString("SESSION_CUTOFFS", defaultSessionCutoffs))
	collect(err)

	cfg := &Config{
		Env:      getString("APP_ENV", defaultEnv),
		LogLevel: level,
		HTTP:     HTTPConfig{Host: getString("HTTP_HOST", defaultHTTPHost), Port: port},
		Postgres: PostgresConfig{DSN: os.Getenv("DATABASE_DSN")},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Cache: CacheConfig{TTL: cacheTTL},
		Storage: StorageConfig{
			InstrumentsFile: getString("INSTRUMENTS_FILE", defaultInstrumentsFile),
			CandleDir:       getString("CANDLE_DIR", defaultCandleDir),
			SnapshotEvery:   snapshotEvery,
		},
		Broker: strings.ToLower(getString("BROKER", BrokerPaper)),
		Feed: FeedConfig{
			Kind:             strings.ToLower(getString("FEED", FeedInvest)),
			WSURL:            os.Getenv("FEED_WS_URL"),
			BackoffMin:       backoffMin,
			BackoffMax:       backoffMax,
			Healthy:          healthy,
			MaxPermanentFail: maxPermanent,
		},
		Invest: InvestConfig{
			Token:         os.Getenv("INVEST_TOKEN"),
			Endpoint:      getString("INVEST_ENDPOINT", defaultInvestEndpoint),
			AppName:       getString("INVEST_APP_NAME", defaultInvestAppName),
			AccountID:     os.Getenv("INVEST_ACCOUNT_ID"),
			SkipTLSVerify: skipVerify,
		},
		RabbitMQ: RabbitMQConfig{
			URL:          os.Getenv("RABBITMQ_URL"),
			Exchange:     getString("RABBITMQ_EVENTS_EXCHANGE", defaultEventsExchange),
			BatchSize:    batchSize,
			BatchTimeout: batchTimeout,
		},
		Session: SessionConfig{
			Location:     loc,
			Start:        getString("SESSION_START", defaultSessionStart),
			Cutoffs:      cutoffs,
			GlobalCutoff: getString("SESSION_GLOBAL_CUTOFF", defaultGlobalCutoff),
		},
		Engine: EngineConfig{
			QueueSize:    queueSize,
			PnLRefresh:   pnlRefresh,
			OrderTimeout: orderTimeout,
		},
	}
	collect(cfg.validate())

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.Broker {
	case BrokerPaper:
	case BrokerInvest:
		if c.Invest.AccountID == "" {
			errs = append(errs, errors.New("INVEST_ACCOUNT_ID is required for BROKER=invest"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported BROKER %q", c.Broker))
	}
	switch c.Feed.Kind {
	case FeedWS:
		if c.Feed.WSURL == "" {
			errs = append(errs, errors.New("FEED_WS_URL is required for FEED=ws"))
		}
	case FeedInvest:
	default:
		errs = append(errs, fmt.Errorf("unsupported FEED %q", c.Feed.Kind))
	}
	if (c.Broker == BrokerInvest || c.Feed.Kind == FeedInvest) && c.Invest.Token == "" {
		errs = append(errs, errors.New("INVEST_TOKEN is required"))
	}
	if c.Engine.QueueSize <= 0 {
		errs = append(errs, errors.New("QUEUE_SIZE must be positive"))
	}
	if c.Engine.OrderTimeout <= 0 {
		errs = append(errs, errors.New("ORDER_TIMEOUT_SECONDS must be positive"))
	}
	if c.Feed.BackoffMin <= 0 || c.Feed.BackoffMax < c.Feed.BackoffMin {
		errs = append(errs, errors.New("feed backoff must satisfy 0 < min <= max"))
	}
	return errors.Join(errs...)
}

// ParseCutoffs reads "EXCH=HH:MM,..." into a map keyed by exchange.
func ParseCutoffs(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		exchange, clock, ok := strings.Cut(part, "=")
		exchange = strings.ToUpper(strings.TrimSpace(exchange))
		clock = strings.TrimSpace(clock)
		if !ok || exchange == "" || clock == "" {
			return nil, fmt.Errorf("parse SESSION_CUTOFFS entry %q: want EXCHANGE=HH:MM", part)
		}
		out[exchange] = clock
	}
	return out, nil
}

func getString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to int: %w", key, value, err)
	}
	return parsed, nil
}

func getBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("convert %s value %q to bool: %w", key, value, err)
	}
	return parsed, nil
}

// getDuration reads an integer count of unit.
func getDuration(key string, unit time.Duration, fallback int) (time.Duration, error) {
	n, err := getInt(key, fallback)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return time.Duration(n) * unit, nil
}
