package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"candlefeed-go/internal/pipeline"
)

// Health handles GET /healthz. Any failed product turns the response into 503.
func (h *Handler) Health(c *gin.Context) {
	statuses := h.engine.Statuses()
	code, state := http.StatusOK, "ok"
	for _, s := range statuses {
		if s.Status == pipeline.StatusFailed {
			code, state = http.StatusServiceUnavailable, "degraded"
			break
		}
	}
	c.JSON(code, gin.H{
		"status":    state,
		"service":   ServiceName,
		"version":   ServiceVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"products":  statuses,
	})
}

// Products handles GET /products.
func (h *Handler) Products(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"products": h.engine.Products()})
}

// Candles handles GET /products/:product/candles?limit=N&since=BUCKET.
// Candles are returned oldest first; limit keeps the newest N.
func (h *Handler) Candles(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		h.fail(c, err, http.StatusBadRequest, err.Error())
		return
	}
	var since int64
	if raw := c.Query("since"); raw != "" {
		since, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.fail(c, err, http.StatusBadRequest, "since must be a minute bucket")
			return
		}
	}

	candles, err := h.engine.History(c.Param("product"))
	if err != nil {
		h.engineError(c, err)
		return
	}
	if since > 0 {
		i := 0
		for i < len(candles) && candles[i].Bucket < since {
			i++
		}
		candles = candles[i:]
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	c.JSON(http.StatusOK, candles)
}

// CurrentCandle handles GET /products/:product/candles/current.
func (h *Handler) CurrentCandle(c *gin.Context) {
	candle, ok, err := h.engine.Current(c.Param("product"))
	if err != nil {
		h.engineError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no candle yet", "request_id": c.GetString(RequestIDContextKey)})
		return
	}
	c.JSON(http.StatusOK, candle)
}

func (h *Handler) engineError(c *gin.Context, err error) {
	if errors.Is(err, pipeline.ErrUnknownProduct) {
		h.fail(c, err, http.StatusNotFound, "unknown product")
		return
	}
	h.fail(c, err, http.StatusInternalServerError, "internal server error")
}

func (h *Handler) fail(c *gin.Context, err error, code int, message string) {
	requestID := c.GetString(RequestIDContextKey)
	h.log.Warn().
		Err(err).
		Str("request_id", requestID).
		Str("path", c.Request.URL.Path).
		Int("status", code).
		Msg("request failed")
	c.JSON(code, gin.H{"error": message, "request_id": requestID})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 || limit > MaxLimit {
		return 0, errors.New("limit must be between 0 and 1000")
	}
	return limit, nil
}
