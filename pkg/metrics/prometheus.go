package metrics

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsCollector struct {
	registry          *prometheus.Registry
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	totalDeposited    prometheus.Gauge
	totalWithdrawn    prometheus.Gauge
	oraclePrice       prometheus.Gauge
	oracleAge         prometheus.Gauge
	oracleFailures    *prometheus.CounterVec
	eventsDispatched  *prometheus.CounterVec
	logger            *slog.Logger
}

func NewMetricsCollector(logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	collector := &MetricsCollector{
		registry: registry,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by type and outcome code",
		}, []string{"operation", "outcome"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Time taken to process a ledger operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		totalDeposited: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_total_deposited_value",
			Help: "Cumulative deposited value in unit-of-account base units",
		}),
		totalWithdrawn: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_total_withdrawn_value",
			Help: "Cumulative withdrawn value in unit-of-account base units",
		}),
		oraclePrice: factory.NewGauge(prometheus.GaugeOpts{
			Name: "oracle_native_price",
			Help: "Last accepted native asset price at oracle precision",
		}),
		oracleAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "oracle_sample_age_seconds",
			Help: "Age of the last accepted price sample",
		}),
		oracleFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_probe_failures_total",
			Help: "Rejected or failed oracle reads by reason",
		}, []string{"reason"}),
		eventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_events_dispatched_total",
			Help: "Ledger events delivered to sinks",
		}, []string{"sink", "status"}),
		logger: logger,
	}

	return collector
}

func (m *MetricsCollector) RecordOperation(operation, outcome string, duration time.Duration) {
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetTotals exports the cumulative counters. Gauges are float64, so very large
// totals lose precision here but never in the ledger.
func (m *MetricsCollector) SetTotals(deposited, withdrawn *big.Int) {
	m.totalDeposited.Set(toFloat(deposited))
	m.totalWithdrawn.Set(toFloat(withdrawn))
}

func (m *MetricsCollector) ObserveOraclePrice(price *big.Int, age time.Duration) {
	m.oraclePrice.Set(toFloat(price))
	m.oracleAge.Set(age.Seconds())
}

func (m *MetricsCollector) ObserveOracleFailure(reason string) {
	m.oracleFailures.WithLabelValues(reason).Inc()
}

func (m *MetricsCollector) RecordEventDispatch(sink string, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	m.eventsDispatched.WithLabelValues(sink, status).Inc()
}

func (m *MetricsCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsCollector) StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.GetHandler())

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		m.logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return server
}

func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	m.logger.Info("Metrics collector shutdown complete")
	return nil
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
