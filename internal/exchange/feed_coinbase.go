package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gorilla/websocket"

	"candlefeed-go/internal/market"
	"candlefeed-go/internal/metrics"
)

type coinbaseSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

type coinbaseEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func (f *Feed) runCoinbase(ctx context.Context, out chan<- market.Trade) error {
	if len(f.products) == 0 {
		return fmt.Errorf("coinbase feed requires at least one product")
	}

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.consumeCoinbaseStream(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn().Err(err).Msg("coinbase feed disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (f *Feed) consumeCoinbaseStream(ctx context.Context, out chan<- market.Trade) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.websocketURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock ReadMessage when the consumer unsubscribes.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sub := coinbaseSubscribe{Type: "subscribe", ProductIDs: f.products, Channels: []string{"matches"}}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.log.Info().Str("provider", ProviderCoinbase).Strs("products", f.products).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.log.Warn().Err(err).Msg("coinbase ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		tr, ok, err := f.decodeCoinbaseMessage(message)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		select {
		case out <- tr:
			metrics.TradesTotal.WithLabelValues(tr.ProductID, SourceLive).Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// decodeCoinbaseMessage returns ok=false for messages that carry no trade.
// Only a venue-side "error" message is returned as an error; malformed matches are dropped.
func (f *Feed) decodeCoinbaseMessage(message []byte) (market.Trade, bool, error) {
	var env coinbaseEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		metrics.MalformedMessagesTotal.WithLabelValues(SourceLive).Inc()
		f.log.Warn().Err(err).Msg("failed to decode coinbase message")
		return market.Trade{}, false, nil
	}
	switch env.Type {
	case "match", "last_match":
	case "subscriptions":
		f.log.Debug().Msg("coinbase subscription confirmed")
		return market.Trade{}, false, nil
	case "error":
		return market.Trade{}, false, fmt.Errorf("coinbase error: %s %s", env.Message, env.Reason)
	default:
		return market.Trade{}, false, nil
	}

	var msg MatchMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		metrics.MalformedMessagesTotal.WithLabelValues(SourceLive).Inc()
		f.log.Warn().Err(err).Msg("failed to decode coinbase match")
		return market.Trade{}, false, nil
	}
	tr, err := NormalizeMatch(msg, msg.ProductID)
	if err != nil {
		metrics.MalformedMessagesTotal.WithLabelValues(SourceLive).Inc()
		f.log.Warn().Err(err).Str("product", msg.ProductID).Msg("dropping malformed match")
		return market.Trade{}, false, nil
	}
	return tr, true, nil
}
