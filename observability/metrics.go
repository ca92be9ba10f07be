package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	dscMetricsOnce sync.Once
	dscRegistry    *DSCMetrics
)

// DSCMetrics wraps the collectors tracking the collateral engine.
type DSCMetrics struct {
	operations     *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	liquidations   *prometheus.CounterVec
	debtCovered    *prometheus.CounterVec
	collateralPaid *prometheus.CounterVec
	oracleFailures *prometheus.CounterVec
	rollbacks      *prometheus.CounterVec
}

// DSC returns the lazily-initialised engine metrics registered with the
// default Prometheus registry.
func DSC() *DSCMetrics {
	dscMetricsOnce.Do(func() {
		dscRegistry = NewDSCMetrics(prometheus.DefaultRegisterer)
	})
	return dscRegistry
}

// NewDSCMetrics builds engine collectors and registers them with reg.
func NewDSCMetrics(reg prometheus.Registerer) *DSCMetrics {
	m := &DSCMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stablecore",
			Subsystem: "dsc",
			Name:      "operations_total",
			Help:      "Engine operations segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stablecore",
			Subsystem: "dsc",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution for engine operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stablecore",
			Subsystem: "dsc",
			Name:      "liquidations_total",
			Help:      "Successful liquidations segmented by collateral asset.",
		}, []string{"collateral"}),
		debtCovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stablecore",
			Subsystem: "dsc",
			Name:      "liquidated_debt_total",
			Help:      "DSC debt covered by liquidators (18 decimals, as float).",
		}, []string{"collateral"}),
		collateralPaid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stablecore",
			Subsystem: "dsc",
			Name:      "liquidated_collateral_total",
			Help:      "Collateral paid out to liquidators in the asset's smallest unit.",
		}, []string{"collateral"}),
		oracleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stablecore",
			Subsystem: "dsc",
			Name:      "oracle_failures_total",
			Help:      "Rejected price feed reads segmented by asset and reason.",
		}, []string{"asset", "reason"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stablecore",
			Subsystem: "dsc",
			Name:      "rollbacks_total",
			Help:      "Operations reverted after an external interaction failed.",
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.operations,
			m.latency,
			m.liquidations,
			m.debtCovered,
			m.collateralPaid,
			m.oracleFailures,
			m.rollbacks,
		)
	}
	return m
}

// ObserveOperation records the outcome and latency of an engine operation.
func (m *DSCMetrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	op = labelOr(op, "unknown")
	m.operations.WithLabelValues(op, labelOr(outcome, "unknown")).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordLiquidation tracks a committed liquidation.
func (m *DSCMetrics) RecordLiquidation(collateral string, debtCovered, collateralPaid *big.Int) {
	if m == nil {
		return
	}
	asset := labelAsset(collateral)
	m.liquidations.WithLabelValues(asset).Inc()
	m.debtCovered.WithLabelValues(asset).Add(bigToFloat(debtCovered))
	m.collateralPaid.WithLabelValues(asset).Add(bigToFloat(collateralPaid))
}

// RecordOracleFailure counts a rejected feed read.
func (m *DSCMetrics) RecordOracleFailure(asset, reason string) {
	if m == nil {
		return
	}
	m.oracleFailures.WithLabelValues(labelAsset(asset), labelOr(reason, "unknown")).Inc()
}

// RecordRollback counts an operation reverted after settlement failed.
func (m *DSCMetrics) RecordRollback(op string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(labelOr(op, "unknown")).Inc()
}

func labelOr(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToLower(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil || value.Sign() < 0 {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
