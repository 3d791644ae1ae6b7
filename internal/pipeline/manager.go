package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"candlefeed-go/internal/market"
)

// ErrUnknownProduct is returned for a product the manager does not track.
var ErrUnknownProduct = errors.New("unknown product")

// Factory builds a fresh pipeline for a product, including its bus subscriptions.
type Factory func(productID string) *Pipeline

type entry struct {
	pipeline *Pipeline
	cancel   context.CancelFunc
	done     chan struct{}
}

// Manager runs one pipeline per product. Fatal pipelines stay down until
// Restart is called; they are never restarted automatically.
type Manager struct {
	factory Factory
	log     zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

func NewManager(factory Factory, log zerolog.Logger) *Manager {
	return &Manager{
		factory: factory,
		log:     log.With().Str("component", "manager").Logger(),
		entries: make(map[string]*entry),
	}
}

// Start launches a pipeline for every product not already running.
func (m *Manager) Start(ctx context.Context, products []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range products {
		if _, ok := m.entries[id]; ok {
			continue
		}
		m.entries[id] = m.launch(ctx, id)
	}
}

func (m *Manager) launch(ctx context.Context, productID string) *entry {
	ctx, cancel := context.WithCancel(ctx)
	e := &entry{pipeline: m.factory(productID), cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(e.done)
		err := e.pipeline.Run(ctx)
		switch {
		case err == nil, ctx.Err() != nil:
			m.log.Info().Str("product", productID).Msg("pipeline exited")
		case IsFatal(err):
			m.log.Error().Err(err).Str("product", productID).Str("kind", Kind(err)).Msg("pipeline halted; restart required")
		default:
			m.log.Error().Err(err).Str("product", productID).Msg("pipeline stopped")
		}
	}()
	return e
}

// Restart cancels the product's pipeline, waits for it and starts a fresh one.
func (m *Manager) Restart(ctx context.Context, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.entries[productID]
	if !ok {
		return fmt.Errorf("restart %s: %w", productID, ErrUnknownProduct)
	}
	old.cancel()
	<-old.done
	m.entries[productID] = m.launch(ctx, productID)
	m.log.Info().Str("product", productID).Msg("pipeline restarted")
	return nil
}

// Stop cancels every pipeline and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		e.cancel()
	}
	for _, e := range m.entries {
		<-e.done
	}
}

// Products lists tracked products in sorted order.
func (m *Manager) Products() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.entries))
	for id := range m.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) Pipeline(productID string) (*Pipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[productID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", productID, ErrUnknownProduct)
	}
	return e.pipeline, nil
}

// History returns the product's closed candles, oldest first.
func (m *Manager) History(productID string) ([]market.Candle, error) {
	p, err := m.Pipeline(productID)
	if err != nil {
		return nil, err
	}
	return p.History(), nil
}

// Current returns the product's in-progress candle.
func (m *Manager) Current(productID string) (market.Candle, bool, error) {
	p, err := m.Pipeline(productID)
	if err != nil {
		return market.Candle{}, false, err
	}
	c, ok := p.Current()
	return c, ok, nil
}

// ProductStatus is one product's lifecycle stage and stopping error, if any.
type ProductStatus struct {
	ProductID string `json:"product_id"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	Fatal     bool   `json:"fatal,omitempty"`
}

// Statuses reports every tracked product in sorted order.
func (m *Manager) Statuses() []ProductStatus {
	out := make([]ProductStatus, 0)
	for _, id := range m.Products() {
		p, err := m.Pipeline(id)
		if err != nil {
			continue
		}
		status, stopErr := p.Status()
		ps := ProductStatus{ProductID: id, Status: status}
		if stopErr != nil {
			ps.Error = stopErr.Error()
			ps.Fatal = IsFatal(stopErr)
		}
		out = append(out, ps)
	}
	return out
}
