package simulator

import (
	"context"
	"net/http"
	"strconv"

	"github.com/MarkoPoloResearchLab/walletsim/pkg/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const aggregatorStatusTransportError = "transport_error"

// Metrics holds the simulator's counters on a private registry.
type Metrics struct {
	registry           *prometheus.Registry
	ledgerOperations   *prometheus.CounterVec
	aggregatorRequests *prometheus.CounterVec
	rejectedSignatures prometheus.Counter
}

// NewMetrics registers the simulator counters on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		ledgerOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "walletsim",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations partitioned by operation and outcome status.",
			},
			[]string{"operation", "status"},
		),
		aggregatorRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "walletsim",
				Subsystem: "aggregator",
				Name:      "requests_total",
				Help:      "Requests sent to the aggregator partitioned by HTTP status.",
			},
			[]string{"status"},
		),
		rejectedSignatures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "walletsim",
				Subsystem: "callback",
				Name:      "rejected_signatures_total",
				Help:      "Callback requests rejected for a missing or invalid signature.",
			},
		),
	}
}

// Handler exposes the registry in the prometheus text format.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}

func (metrics *Metrics) observeAggregator(statusCode int, err error) {
	label := strconv.Itoa(statusCode)
	if err != nil {
		label = aggregatorStatusTransportError
	}
	metrics.aggregatorRequests.WithLabelValues(label).Inc()
}

var _ wallet.OperationLogger = (*operationRecorder)(nil)

// operationRecorder reports ledger operations to zap and the operation counter.
type operationRecorder struct {
	logger  *zap.Logger
	metrics *Metrics
}

func newOperationRecorder(logger *zap.Logger, metrics *Metrics) *operationRecorder {
	return &operationRecorder{logger: logger, metrics: metrics}
}

// LogOperation implements wallet.OperationLogger.
func (recorder *operationRecorder) LogOperation(_ context.Context, entry wallet.OperationLog) {
	recorder.metrics.ledgerOperations.WithLabelValues(entry.Operation, entry.Status).Inc()
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("player_account", entry.AccountID.String()),
		zap.String("status", entry.Status),
	}
	if entry.Action != "" {
		fields = append(fields, zap.String("action", entry.Action))
	}
	if entry.TransactionID != "" {
		fields = append(fields, zap.String("transaction_id", entry.TransactionID))
	}
	fields = append(fields, zap.Int64("amount_minor", entry.AmountMinor), zap.Int64("balance_minor", entry.BalanceMinor))
	switch {
	case entry.Error == nil:
		recorder.logger.Info("ledger operation", fields...)
	case wallet.IsRejection(entry.Error):
		recorder.logger.Info("ledger operation rejected", append(fields, zap.Error(entry.Error))...)
	default:
		recorder.logger.Error("ledger operation failed", append(fields, zap.Error(entry.Error))...)
	}
}
