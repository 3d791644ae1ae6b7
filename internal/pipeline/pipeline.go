// Package pipeline runs the per-product candle engine: merge, build,
// synchronize and annotate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"candlefeed-go/internal/candle"
	"candlefeed-go/internal/indicator"
	"candlefeed-go/internal/market"
	"candlefeed-go/internal/merge"
	"candlefeed-go/internal/metrics"
	"candlefeed-go/internal/reconcile"
	"candlefeed-go/internal/util"
)

// LiveFeed pushes trades until ctx is canceled. Canceling unsubscribes.
type LiveFeed interface {
	Run(ctx context.Context, out chan<- market.Trade) error
}

// Status is the pipeline lifecycle stage.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusMerging Status = "merging"
	StatusSyncing Status = "syncing"
	StatusLive    Status = "live"
	StatusFailed  Status = "failed"
	StatusStopped Status = "stopped"
)

// Config holds every knob of one product pipeline.
type Config struct {
	ProductID     string
	Merge         merge.Config
	Sync          reconcile.Config
	AuditInterval time.Duration
	MaxCandles    int
	Indicators    indicator.Params
	LiveBuffer    int
}

// Pipeline owns one product's builder, history and indicator engine. Run is
// the single writer; other goroutines read copies through History and Current.
type Pipeline struct {
	cfg     Config
	feed    LiveFeed
	trades  merge.TradeSource
	candles reconcile.CandleSource
	log     zerolog.Logger
	baseLog zerolog.Logger
	bus     *Bus

	history *candle.History
	engine  *indicator.Engine

	mu      sync.RWMutex
	current *market.Candle
	status  Status
	lastErr error

	lastClosed atomic.Int64
	hasClosed  atomic.Bool
	running    atomic.Bool
}

func New(cfg Config, feed LiveFeed, trades merge.TradeSource, candles reconcile.CandleSource, log zerolog.Logger) *Pipeline {
	if cfg.MaxCandles <= 0 {
		cfg.MaxCandles = 10000
	}
	if cfg.LiveBuffer <= 0 {
		cfg.LiveBuffer = 1024
	}
	return &Pipeline{
		cfg:     cfg,
		feed:    feed,
		trades:  trades,
		candles: candles,
		log:     util.ForProduct(log, cfg.ProductID, "pipeline"),
		baseLog: log,
		bus:     NewBus(),
		history: candle.NewHistory(cfg.ProductID, cfg.MaxCandles),
		engine:  indicator.NewEngine(cfg.Indicators),
		status:  StatusIdle,
	}
}

func (p *Pipeline) ProductID() string { return p.cfg.ProductID }

// Bus returns the event bus. Register callbacks before Run.
func (p *Pipeline) Bus() *Bus { return p.bus }

// History returns the closed candles, oldest first.
func (p *Pipeline) History() []market.Candle { return p.history.Snapshot() }

// Current returns a copy of the in-progress candle.
func (p *Pipeline) Current() (market.Candle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return market.Candle{}, false
	}
	return p.current.Clone(), true
}

// Status returns the lifecycle stage and the error that stopped the pipeline, if any.
func (p *Pipeline) Status() (Status, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status, p.lastErr
}

func (p *Pipeline) setStatus(s Status) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

func (p *Pipeline) lastClosedBucket() (int64, bool) {
	return p.lastClosed.Load(), p.hasClosed.Load()
}

type syncResult struct {
	seed []market.Candle
	err  error
}

// Run blocks until ctx is canceled or a fatal error stops the product. A
// pipeline runs at most once; build a new one to restart.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("pipeline already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	live := make(chan market.Trade, p.cfg.LiveBuffer)
	feedErr := make(chan error, 1)
	go func() {
		feedErr <- p.feed.Run(ctx, live)
	}()

	p.setStatus(StatusMerging)
	merger := merge.NewMerger(p.cfg.ProductID, p.trades, p.cfg.Merge, p.baseLog)
	res, err := merger.Merge(ctx, live)
	if err != nil {
		return p.stop(ctx, err)
	}
	defer res.Live.Close()

	r := &runState{p: p}
	builder := candle.NewBuilder(p.cfg.ProductID, candle.Hooks{
		OnMinuteAdvanced: r.minuteAdvanced,
		OnClosed:         r.closed,
		OnCurrent:        r.currentUpdated,
	})
	for _, t := range res.Trades {
		if err := builder.Add(t); err != nil {
			p.log.Warn().Err(err).Int64("trade_id", t.TradeID).Msg("historical trade rejected")
		}
	}

	p.setStatus(StatusSyncing)
	synced := make(chan syncResult, 1)
	syncer := reconcile.NewSynchronizer(p.cfg.ProductID, p.candles, p.cfg.Sync, p.baseLog)
	go func() {
		seed, err := syncer.Bootstrap(ctx, p.lastClosedBucket)
		synced <- syncResult{seed: seed, err: err}
	}()

	var (
		auditC    <-chan time.Time
		auditDone = make(chan struct{}, 1)
		auditing  bool
	)
	for {
		select {
		case <-ctx.Done():
			return p.stop(ctx, ctx.Err())
		case t, ok := <-res.Live.Trades():
			if !ok {
				select {
				case err := <-res.Live.Err():
					return p.stop(ctx, err)
				default:
				}
				return p.stop(ctx, ErrFeedEnded)
			}
			if err := builder.Add(t); err != nil {
				p.log.Warn().Err(err).Int64("trade_id", t.TradeID).Msg("live trade rejected")
			}
		case err := <-res.Live.Err():
			return p.stop(ctx, err)
		case err := <-feedErr:
			if ctx.Err() != nil {
				continue
			}
			if err == nil {
				err = ErrFeedEnded
			}
			return p.stop(ctx, fmt.Errorf("live feed: %w", err))
		case s := <-synced:
			if s.err != nil {
				return p.stop(ctx, s.err)
			}
			r.adopt(s.seed)
			p.setStatus(StatusLive)
			if p.cfg.AuditInterval > 0 {
				ticker := time.NewTicker(p.cfg.AuditInterval)
				defer ticker.Stop()
				auditC = ticker.C
			}
		case <-auditC:
			if auditing {
				continue
			}
			auditing = true
			local := p.history.Snapshot()
			go func() {
				defer func() { auditDone <- struct{}{} }()
				if _, err := syncer.Audit(ctx, local); err != nil && ctx.Err() == nil {
					p.log.Warn().Err(err).Msg("candle audit failed")
				}
			}()
		case <-auditDone:
			auditing = false
		}
	}
}

// stop records why the pipeline ended. Canceled pipelines discard their history.
func (p *Pipeline) stop(ctx context.Context, err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.Err() != nil {
		p.status = StatusStopped
		p.current = nil
		_ = p.history.Seed(nil)
		metrics.HistoryLength.WithLabelValues(p.cfg.ProductID).Set(0)
		p.log.Info().Msg("pipeline stopped")
		return ctx.Err()
	}
	p.status = StatusFailed
	p.lastErr = err
	kind := Kind(err)
	metrics.PipelineFailuresTotal.WithLabelValues(p.cfg.ProductID, kind).Inc()
	p.log.Error().Err(err).Str("kind", kind).Bool("fatal", IsFatal(err)).Msg("pipeline failed")
	return err
}

// runState is only touched from the Run goroutine.
type runState struct {
	p       *Pipeline
	synced  bool
	pending []market.Candle
}

func (r *runState) minuteAdvanced(closedBucket, nextBucket int64) {
	r.p.lastClosed.Store(closedBucket)
	r.p.hasClosed.Store(true)
	r.p.bus.publishMinute(closedBucket, nextBucket)
}

func (r *runState) closed(c market.Candle) {
	metrics.CandlesClosedTotal.WithLabelValues(c.ProductID).Inc()
	if !r.synced {
		r.pending = append(r.pending, c)
		return
	}
	r.append(c)
}

func (r *runState) currentUpdated(c market.Candle) {
	r.p.mu.Lock()
	r.p.current = &c
	r.p.mu.Unlock()
	r.p.bus.publishCurrent(c)
}

func (r *runState) append(c market.Candle) {
	results := r.p.engine.Apply(&c)
	if err := r.p.history.Append(c); err != nil {
		r.p.log.Warn().Err(err).Int64("bucket", c.Bucket).Msg("closed candle not appended")
		return
	}
	metrics.HistoryLength.WithLabelValues(c.ProductID).Set(float64(r.p.history.Len()))
	r.p.bus.publishClosed(c)
	for _, res := range results {
		r.p.bus.publishIndicator(res)
	}
}

// adopt replaces local history with the REST seed, rebuilds the indicators
// from it, then appends locally closed candles newer than the seed.
func (r *runState) adopt(seed []market.Candle) {
	if len(seed) == 0 {
		return
	}
	r.p.engine.Reset()
	for i := range seed {
		seed[i].ProductID = r.p.cfg.ProductID
		r.p.engine.Apply(&seed[i])
	}
	// Re-annotate the newest seeded candle from the window itself.
	r.p.engine.Recalculate(&seed[len(seed)-1])
	if err := r.p.history.Seed(seed); err != nil {
		r.p.log.Warn().Err(err).Msg("history seed rejected")
	}
	r.synced = true
	r.p.bus.publishSeeded(r.p.history.Snapshot())

	newest := seed[len(seed)-1].Bucket
	for _, c := range r.pending {
		if c.Bucket > newest {
			r.append(c)
		}
	}
	r.pending = nil
	metrics.HistoryLength.WithLabelValues(r.p.cfg.ProductID).Set(float64(r.p.history.Len()))
	r.p.log.Info().Int("candles", r.p.history.Len()).Int64("newest", newest).Msg("history seeded")
}
