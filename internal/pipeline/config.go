package pipeline

import (
	"candlefeed-go/internal/config"
	"candlefeed-go/internal/indicator"
	"candlefeed-go/internal/merge"
	"candlefeed-go/internal/reconcile"
)

// FromConfig derives one product's pipeline settings from the application config.
func FromConfig(cfg *config.Config, productID string) Config {
	return Config{
		ProductID: productID,
		Merge: merge.Config{
			Cooldown:         cfg.Merge.Cooldown(),
			MaxFetchAttempts: cfg.Merge.MaxFetchAttempts,
			HistoryPages:     cfg.Merge.HistoryPages,
			PageLimit:        cfg.Exchange.TradePageLimit,
			MaxPending:       cfg.Merge.MaxPending,
		},
		Sync: reconcile.Config{
			RetryInterval: cfg.Sync.RetryInterval(),
			MaxAttempts:   cfg.Sync.MaxAttempts,
		},
		AuditInterval: cfg.Sync.AuditInterval(),
		MaxCandles:    cfg.History.MaxCandles,
		Indicators: indicator.Params{
			SMAPeriod:    cfg.Indicators.SMAPeriod,
			BBPeriod:     cfg.Indicators.BBPeriod,
			BBMultiplier: cfg.Indicators.BBMultiplier,
			WindowSize:   cfg.History.PriceWindow,
		},
	}
}
