package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	decisions    *prometheus.CounterVec
	orders       *prometheus.CounterVec
	ordersToday  prometheus.Gauge
	orderValue   prometheus.Counter
	orderLatency prometheus.Histogram
	signalConf   *prometheus.GaugeVec
	strategyAcc  *prometheus.GaugeVec
	errorsTotal  *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
}

// New registers the recorder on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the recorder on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_decisions_total",
				Help: "Evaluations by outcome",
			},
			[]string{"outcome"},
		),
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_orders_total",
				Help: "Orders submitted by status",
			},
			[]string{"status"},
		),
		ordersToday: f.NewGauge(prometheus.GaugeOpts{
			Name: "tradecore_orders_today",
			Help: "Orders placed since local midnight",
		}),
		orderValue: f.NewCounter(prometheus.CounterOpts{
			Name: "tradecore_order_value_total",
			Help: "Notional value of successful orders",
		}),
		orderLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradecore_order_latency_seconds",
			Help:    "Broker order round trip",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		signalConf: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradecore_signal_confidence",
				Help: "Confidence of the latest consensus signal per active strategy",
			},
			[]string{"strategy"},
		),
		strategyAcc: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradecore_strategy_accuracy",
				Help: "Learned accuracy per strategy",
			},
			[]string{"strategy"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"component"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradecore_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradecore_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordDecision(outcome string) {
	r.decisions.WithLabelValues(outcome).Inc()
}

// RecordOrder counts an order attempt. Only successful orders add value.
func (r *Recorder) RecordOrder(_ string, success bool, notional float64, latency time.Duration) {
	status := "failed"
	if success {
		status = "success"
		r.orderValue.Add(notional)
	}
	r.orders.WithLabelValues(status).Inc()
	r.orderLatency.Observe(latency.Seconds())
}

func (r *Recorder) RecordOrdersToday(n int) {
	r.ordersToday.Set(float64(n))
}

func (r *Recorder) RecordSignal(strategyID string, confidence float64) {
	r.signalConf.WithLabelValues(strategyID).Set(confidence)
}

func (r *Recorder) RecordStrategyAccuracy(strategyID string, accuracy float64) {
	r.strategyAcc.WithLabelValues(strategyID).Set(accuracy)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(component string) {
	r.errorsTotal.WithLabelValues(component).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordDecision(string)                            {}
func (Nop) RecordOrder(string, bool, float64, time.Duration) {}
func (Nop) RecordOrdersToday(int)                            {}
func (Nop) RecordSignal(string, float64)                     {}
func (Nop) RecordStrategyAccuracy(string, float64)           {}
func (Nop) RecordError(string)                               {}
func (Nop) RecordLastPrice(string, float64)                  {}
func (Nop) RecordLatency(string, float64)                    {}
