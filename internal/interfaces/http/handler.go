package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	apppnl "algotrader/internal/application/service/pnl"
	domainmarketdata "algotrader/internal/domain/entity/marketdata"
	trading "algotrader/internal/domain/entity/trading"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const (
	apiBasePath    = "/api/v1"
	defaultLimit   = 100
	maxCandleLimit = 500
)

var (
	errMissingInstrument = errors.New("instrument_id query param required")
	errInvalidLimit      = errors.New("limit must be a positive integer")
	errMissingInterval   = errors.New("interval_minutes query param required for unknown instrument")
)

// StateSource exposes the trading state of every instrument.
type StateSource interface {
	States() []trading.TradeState
}

// PnLSource reports the per-threshold-group totals for a trading day.
type PnLSource interface {
	Summaries(ctx context.Context, day string) ([]apppnl.GroupSummary, error)
}

type CandleReader interface {
	GetLastCandles(ctx context.Context, instrumentID string, intervalMinutes int, limit int) ([]domainmarketdata.Candle, error)
}

type Deps struct {
	States  StateSource
	PnL     PnLSource
	Candles CandleReader
	// Day maps a wall-clock time to the local trading date.
	Day func(time.Time) string
	// Intervals is the default candle interval per instrument id.
	Intervals map[string]int
	Gatherer  prometheus.Gatherer
}

type Handler struct {
	router   *gin.Engine
	deps     Deps
	cache    *redis.Client
	cacheTTL time.Duration
	now      func() time.Time
}

func NewHandler(deps Deps, cache *redis.Client, cacheTTL time.Duration) *Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	if deps.Day == nil {
		deps.Day = func(t time.Time) string { return t.Format(time.DateOnly) }
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	h := &Handler{
		router:   router,
		deps:     deps,
		cache:    cache,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/healthz", h.health)
	h.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{})))

	api := h.router.Group(apiBasePath)
	{
		api.GET("/state", h.getState)
		api.GET("/pnl", h.getPnL)

		candles := api.Group("/candles")
		if h.cache != nil {
			candles.Use(h.cacheMiddleware())
		}
		candles.GET("", h.getCandles)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) getState(c *gin.Context) {
	if h.deps.States == nil {
		c.JSON(http.StatusOK, []trading.TradeState{})
		return
	}
	c.JSON(http.StatusOK, h.deps.States.States())
}

func (h *Handler) getPnL(c *gin.Context) {
	if h.deps.PnL == nil {
		writeError(c, http.StatusServiceUnavailable, errors.New("p/l aggregator not configured"))
		return
	}
	day := c.Query("day")
	if day == "" {
		day = h.deps.Day(h.now())
	}
	summaries, err := h.deps.PnL.Summaries(c.Request.Context(), day)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"day": day, "groups": summaries})
}

func (h *Handler) getCandles(c *gin.Context) {
	if h.deps.Candles == nil {
		writeError(c, http.StatusServiceUnavailable, errors.New("candle store not configured"))
		return
	}
	instrumentID, interval, limit, err := h.parseCandleQuery(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	candles, err := h.deps.Candles.GetLastCandles(c.Request.Context(), instrumentID, interval, limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if candles == nil {
		candles = []domainmarketdata.Candle{}
	}
	c.JSON(http.StatusOK, candles)
}

func (h *Handler) parseCandleQuery(c *gin.Context) (string, int, int, error) {
	instrumentID := c.Query("instrument_id")
	if instrumentID == "" {
		return "", 0, 0, errMissingInstrument
	}

	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return "", 0, 0, errInvalidLimit
		}
		limit = min(v, maxCandleLimit)
	}

	interval, ok := h.deps.Intervals[instrumentID]
	if raw := c.Query("interval_minutes"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return "", 0, 0, fmt.Errorf("invalid interval_minutes %q", raw)
		}
		interval, ok = v, true
	}
	if !ok {
		return "", 0, 0, errMissingInterval
	}
	return instrumentID, interval, limit, nil
}

func writeError(c *gin.Context, status int, err error) {
	if err == nil {
		status = http.StatusInternalServerError
		err = errors.New("unknown error")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// cacheMiddleware caches GET responses in Redis.
func (h *Handler) cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.cache == nil || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := h.cacheKey(c)
		ctx := c.Request.Context()

		if cached, err := h.cache.Get(ctx, key).Bytes(); err == nil {
			c.Data(http.StatusOK, "application/json", cached)
			c.Abort()
			return
		}

		recorder := &responseRecorder{
			ResponseWriter: c.Writer,
			status:         http.StatusOK,
			body:           &bytes.Buffer{},
		}
		c.Writer = recorder

		c.Next()

		if recorder.status == http.StatusOK && recorder.body.Len() > 0 {
			_ = h.cache.Set(ctx, key, recorder.body.Bytes(), h.cacheTTL).Err()
		}
	}
}

type responseRecorder struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	r.body.Write(data)
	return r.ResponseWriter.Write(data)
}

func (h *Handler) cacheKey(c *gin.Context) string {
	return fmt.Sprintf("cache:%s:%s?%s", c.Request.Method, c.FullPath(), c.Request.URL.RawQuery)
}
