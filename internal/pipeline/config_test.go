package pipeline

import (
	"testing"
	"time"

	"candlefeed-go/internal/config"
)

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Merge.CooldownMs = 1500
	cfg.Sync.AuditIntervalMs = 60000
	cfg.Exchange.TradePageLimit = 100

	got := FromConfig(cfg, "BTC-USD")
	if got.ProductID != "BTC-USD" {
		t.Fatalf("unexpected product %s", got.ProductID)
	}
	if got.Merge.Cooldown != 1500*time.Millisecond || got.Merge.PageLimit != 100 {
		t.Fatalf("unexpected merge config %+v", got.Merge)
	}
	if got.Sync.RetryInterval != 350*time.Millisecond || got.Sync.MaxAttempts != 200 {
		t.Fatalf("unexpected sync config %+v", got.Sync)
	}
	if got.AuditInterval != time.Minute {
		t.Fatalf("expected one minute audit, got %s", got.AuditInterval)
	}
	if got.Indicators.SMAPeriod != 7 || got.Indicators.BBPeriod != 20 || got.Indicators.WindowSize != 100 {
		t.Fatalf("unexpected indicator params %+v", got.Indicators)
	}
}
