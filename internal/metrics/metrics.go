// Registers:
//
//	#serumflow_account_updates_total
//	#serumflow_decode_errors_total
//	#serumflow_stale_updates_total
//	#serumflow_event_queue_resyncs_total
//	#serumflow_trades_total
//	#serumflow_channel_drops_total
//	#go_* and process_* system metrics
//
// Exposes them on the configured address under /metrics using the Prometheus
// HTTP handler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"serumflow/logger"
)

var (
	once sync.Once

	accountUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serumflow_account_updates_total",
			Help: "Account updates decoded and applied to market state",
		},
		[]string{"market", "account"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serumflow_decode_errors_total",
			Help: "Account updates rejected by a decoder",
		},
		[]string{"market", "account"},
	)
	staleUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serumflow_stale_updates_total",
			Help: "Account updates ignored because a newer slot was already applied",
		},
		[]string{"market", "account"},
	)
	resyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serumflow_event_queue_resyncs_total",
			Help: "Event queue sequence regressions that forced a full resync",
		},
		[]string{"market"},
	)
	trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serumflow_trades_total",
			Help: "Trades decoded from event queue fills",
		},
		[]string{"market"},
	)
	channelDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serumflow_channel_drops_total",
			Help: "Messages dropped because a channel buffer was full",
		},
		[]string{"channel"},
	)
)

// Init registers the collectors and, when addr is not empty, serves them on
// addr. Later calls are no-ops.
func Init(addr string) {
	once.Do(func() {
		for _, c := range []prometheus.Collector{
			accountUpdates, decodeErrors, staleUpdates, resyncs, trades, channelDrops,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		} {
			_ = prometheus.Register(c)
		}

		if addr == "" {
			return
		}
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.GetLogger().WithComponent("metrics").WithError(err).Error("metrics server stopped")
			}
		}()
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncUpdate counts an applied account update.
func IncUpdate(market, account string) {
	accountUpdates.WithLabelValues(market, account).Inc()
}

// IncDecodeError counts an update rejected by a decoder.
func IncDecodeError(market, account string) {
	decodeErrors.WithLabelValues(market, account).Inc()
}

// IncStale counts an update ignored for an older slot.
func IncStale(market, account string) {
	staleUpdates.WithLabelValues(market, account).Inc()
}

// IncResync counts an event queue resynchronization.
func IncResync(market string) {
	resyncs.WithLabelValues(market).Inc()
}

// AddTrades counts decoded trades.
func AddTrades(market string, n int) {
	if n > 0 {
		trades.WithLabelValues(market).Add(float64(n))
	}
}
