// Package api serves a read-only HTTP view of the candle engine.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"candlefeed-go/internal/market"
	"candlefeed-go/internal/pipeline"
)

const (
	ServiceName         = "candlefeed"
	ServiceVersion      = "1.0.0"
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
	MaxLimit            = 1000
)

// Engine is the query surface the handlers need; *pipeline.Manager implements it.
type Engine interface {
	Products() []string
	Statuses() []pipeline.ProductStatus
	History(productID string) ([]market.Candle, error)
	Current(productID string) (market.Candle, bool, error)
}

// Handler serves the HTTP routes.
type Handler struct {
	engine Engine
	log    zerolog.Logger
}

func NewHandler(engine Engine, log zerolog.Logger) *Handler {
	return &Handler{engine: engine, log: log.With().Str("component", "api").Logger()}
}

// Routes builds the gin engine with middleware and routes.
func (h *Handler) Routes() *gin.Engine {
	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware(h.log))
	router.Use(gin.Recovery())

	router.GET("/healthz", h.Health)
	router.GET("/products", h.Products)
	router.GET("/products/:product/candles", h.Candles)
	router.GET("/products/:product/candles/current", h.CurrentCandle)
	return router
}

// Serve starts the HTTP server in the background. An empty addr disables it.
func Serve(addr string, h *Handler) *http.Server {
	if addr == "" {
		return nil
	}
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{Addr: addr, Handler: h.Routes(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.log.Error().Err(err).Str("addr", addr).Msg("api server stopped")
		}
	}()
	return srv
}
