package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"candlefeed-go/internal/api"
	"candlefeed-go/internal/config"
	"candlefeed-go/internal/exchange"
	"candlefeed-go/internal/indicator"
	"candlefeed-go/internal/market"
	"candlefeed-go/internal/metrics"
	"candlefeed-go/internal/pipeline"
	"candlefeed-go/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to the YAML config")
	flag.Parse()

	boot := util.NewLogger("info")
	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLoggerWithFormat(cfg.App.LogLevel, cfg.App.LogFormat).
		With().Str("app", cfg.App.Name).Str("env", cfg.App.Env).Logger()

	metricsSrv := metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := exchange.NewClient(cfg.Exchange.RestURL, log,
		exchange.WithTimeout(cfg.Exchange.HTTPTimeout()),
		exchange.WithRateLimit(cfg.Exchange.RateLimit, cfg.Exchange.RateBurst))

	factory := func(productID string) *pipeline.Pipeline {
		feed := exchange.NewFeed(cfg.Exchange.Provider, []string{productID}, log,
			exchange.WithWebsocketURL(cfg.Exchange.WebsocketURL))
		p := pipeline.New(pipeline.FromConfig(cfg, productID), feed, client, client, log)

		plog := util.ForProduct(log, productID, "candles")
		p.Bus().OnHistorySeeded(func(cs []market.Candle) {
			plog.Info().Int("candles", len(cs)).Msg("history ready")
		})
		p.Bus().OnCandleClosed(func(c market.Candle) {
			ev := plog.Info().
				Time("minute", c.Time()).
				Str("open", c.Open.String()).
				Str("high", c.High.String()).
				Str("low", c.Low.String()).
				Str("close", c.Close.String()).
				Str("volume", c.Volume.String())
			if c.SMA != nil {
				ev = ev.Str("sma", c.SMA.String())
			}
			if c.Bands != nil {
				ev = ev.Str("bb_upper", c.Bands.Upper.String()).Str("bb_lower", c.Bands.Lower.String())
			}
			ev.Msg("candle closed")
		})
		p.Bus().OnIndicator(func(r indicator.Result) {
			if !r.Ready() {
				plog.Debug().Str("indicator", r.Name).Int64("bucket", r.Bucket).Msg("indicator warming up")
			}
		})
		return p
	}

	mgr := pipeline.NewManager(factory, log)
	mgr.Start(ctx, cfg.Exchange.Products)
	apiSrv := api.Serve(cfg.API.Addr, api.NewHandler(mgr, log))
	log.Info().Strs("products", mgr.Products()).Str("api", cfg.API.Addr).Msg("candle engine started")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if apiSrv != nil {
		_ = apiSrv.Shutdown(shutdownCtx)
	}
	mgr.Stop()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
