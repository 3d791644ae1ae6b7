package merge

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"candlefeed-go/internal/market"
)

// Stream delivers live trades newer than the merge point in ascending,
// gap-free ID order. Duplicates are dropped; trades ahead of a gap are held
// until the gap fills or the pending bound is exceeded.
type Stream struct {
	productID  string
	next       int64
	maxPending int
	log        zerolog.Logger

	trades chan market.Trade
	errs   chan error
	done   chan struct{}
	once   sync.Once
}

func newStream(productID string, lastID int64, maxPending int, log zerolog.Logger) *Stream {
	if maxPending <= 0 {
		maxPending = 1
	}
	return &Stream{
		productID:  productID,
		next:       lastID + 1,
		maxPending: maxPending,
		log:        log,
		trades:     make(chan market.Trade, 64),
		errs:       make(chan error, 1),
		done:       make(chan struct{}),
	}
}

// Trades is closed when the stream stops for any reason.
func (s *Stream) Trades() <-chan market.Trade { return s.trades }

// Err delivers at most one fatal error.
func (s *Stream) Err() <-chan error { return s.errs }

// Close stops forwarding. It is safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Stream) run(ctx context.Context, live <-chan market.Trade) {
	defer close(s.trades)
	pending := make(map[int64]market.Trade)
	first := true
	for {
		var t market.Trade
		var ok bool
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case t, ok = <-live:
			if !ok {
				return
			}
		}
		if t.ProductID != s.productID || t.TradeID < s.next {
			continue
		}
		if _, dup := pending[t.TradeID]; dup {
			continue
		}
		if first {
			if err := CheckContinuity(s.next-1, t.TradeID); err != nil {
				var broken *ContinuityBrokenError
				if errors.As(err, &broken) {
					broken.ProductID = s.productID
				}
				s.fail(err)
				return
			}
			first = false
		}
		if t.TradeID > s.next {
			pending[t.TradeID] = t
			if len(pending) > s.maxPending {
				s.fail(&ContinuityBrokenError{
					ProductID: s.productID,
					Expected:  s.next,
					Got:       t.TradeID,
					Reason:    "gap never filled",
				})
				return
			}
			s.log.Debug().Int64("trade_id", t.TradeID).Int64("waiting_for", s.next).Msg("holding out-of-order trade")
			continue
		}
		if !s.emit(ctx, t) {
			return
		}
		for {
			held, ok := pending[s.next]
			if !ok {
				break
			}
			delete(pending, s.next)
			if !s.emit(ctx, held) {
				return
			}
		}
	}
}

func (s *Stream) emit(ctx context.Context, t market.Trade) bool {
	select {
	case s.trades <- t:
		s.next = t.TradeID + 1
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}

func (s *Stream) fail(err error) {
	s.log.Error().Err(err).Msg("live stream stopped")
	s.errs <- err
}
