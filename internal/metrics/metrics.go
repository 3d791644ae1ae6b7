package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trades_total", Help: "Count of normalized trades ingested"},
		[]string{"product", "source"},
	)
	MalformedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "malformed_messages_total", Help: "Exchange messages dropped by the normalizer"},
		[]string{"source"},
	)
	CandlesClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "candles_closed_total", Help: "Minute candles closed by the builder"},
		[]string{"product"},
	)
	MergeFetchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "merge_fetch_attempts_total", Help: "REST trade window fetches made while merging"},
		[]string{"product"},
	)
	SyncAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sync_attempts_total", Help: "REST candle polls made while bootstrapping history"},
		[]string{"product"},
	)
	SyncDiscrepanciesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sync_discrepancies_total", Help: "Differences found by the candle audit"},
		[]string{"product", "kind"},
	)
	PipelineFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pipeline_failures_total", Help: "Fatal pipeline errors by kind"},
		[]string{"product", "kind"},
	)
	HistoryLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "history_length", Help: "Closed candles currently held in memory"},
		[]string{"product"},
	)
)

func init() {
	prometheus.MustRegister(
		TradesTotal,
		MalformedMessagesTotal,
		CandlesClosedTotal,
		MergeFetchAttemptsTotal,
		SyncAttemptsTotal,
		SyncDiscrepanciesTotal,
		PipelineFailuresTotal,
		HistoryLength,
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
