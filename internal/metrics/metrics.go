package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cycles_total", Help: "Execution cycles run"},
	)
	CycleSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cycle_skips_total", Help: "Cycles skipped or aborted, by reason code"},
		[]string{"reason"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Trend signals emitted"},
		[]string{"direction"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	OrdersCancelledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "orders_cancelled_total", Help: "Stale orders cancelled"},
	)
	BrokerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "broker_errors_total", Help: "Broker call failures after retries"},
		[]string{"call"},
	)
	BreakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "breaker_open", Help: "Circuit breaker state per call type (1=open)"},
		[]string{"call"},
	)
	TrendValue = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "trend_value", Help: "Last computed trend line value"},
	)
	UnderlyingPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "underlying_price", Help: "Last observed underlying close"},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal, CycleSkipsTotal, SignalsTotal, OrdersTotal,
		OrdersCancelledTotal, BrokerErrorsTotal, BreakerOpen,
		TrendValue, UnderlyingPrice,
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
