package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "erp_"

	resultSuccess     = "success"
	resultError       = "error"
	resultRejected    = "rejected"
	resultUnavailable = "unavailable"
)

var (
	registerOnce sync.Once

	orderCreateTotal   *prometheus.CounterVec
	orderCreateLatency *prometheus.HistogramVec
	orderStatusTotal   *prometheus.CounterVec
	sagaCompensations  *prometheus.CounterVec

	inventoryClientTotal   *prometheus.CounterVec
	inventoryClientLatency *prometheus.HistogramVec
	inventoryReservations  *prometheus.CounterVec

	ledgerPostingsTotal *prometheus.CounterVec
	transferTotal       *prometheus.CounterVec
	transferLatency     *prometheus.HistogramVec
	invoicePayments     *prometheus.CounterVec

	statementExportTotal   *prometheus.CounterVec
	statementExportLatency *prometheus.HistogramVec

	outboxRelayTotal *prometheus.CounterVec

	ledgerChecksTotal   *prometheus.CounterVec
	ledgerCheckDuration prometheus.Histogram
	ledgerDriftAccounts prometheus.Gauge
	ledgerDriftMax      prometheus.Gauge
)

// Init registers observability metrics and the DB-backed gauges of service.
func Init(db *sql.DB, service string, logger *zap.Logger) {
	registerOnce.Do(func() {
		orderCreateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "order_create_total",
				Help: "Total order creations by result",
			},
			[]string{"result"},
		)
		orderCreateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "order_create_latency_seconds",
				Help:    "Order creation latency in seconds, inventory calls included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		orderStatusTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "order_status_change_total",
				Help: "Total order status changes by target status and result",
			},
			[]string{"status", "result"},
		)
		sagaCompensations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "order_saga_compensations_total",
				Help: "Orders cancelled after a failed inventory reservation",
			},
			[]string{"reason"},
		)

		inventoryClientTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "inventory_client_requests_total",
				Help: "Inventory boundary calls by operation and result",
			},
			[]string{"op", "result"},
		)
		inventoryClientLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "inventory_client_latency_seconds",
				Help:    "Inventory boundary call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		)
		inventoryReservations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "inventory_reservations_total",
				Help: "Reservation operations served by the inventory service",
			},
			[]string{"op", "result"},
		)

		ledgerPostingsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ledger_postings_total",
				Help: "Ledger postings applied or reverted by type",
			},
			[]string{"type", "op"},
		)
		transferTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ledger_transfers_total",
				Help: "Funds transfers by result",
			},
			[]string{"result"},
		)
		transferLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ledger_transfer_latency_seconds",
				Help:    "Funds transfer latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		invoicePayments = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invoice_payments_total",
				Help: "Invoice payments by result",
			},
			[]string{"result"},
		)

		statementExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_export_total",
				Help: "Total account statement exports by format and result",
			},
			[]string{"format", "result"},
		)
		statementExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statement_export_latency_seconds",
				Help:    "Account statement export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		outboxRelayTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_relay_total",
				Help: "Outbox records relayed by result",
			},
			[]string{"result"},
		)

		ledgerChecksTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ledger_checks_total",
				Help: "Scheduled ledger consistency checks by result",
			},
			[]string{"result"},
		)
		ledgerCheckDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "ledger_check_duration_seconds",
			Help:    "Ledger consistency check duration in seconds",
			Buckets: prometheus.DefBuckets,
		})
		ledgerDriftAccounts = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "ledger_drift_accounts",
			Help: "Accounts whose stored balance differs from replayed postings",
		})
		ledgerDriftMax = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "ledger_drift_max",
			Help: "Largest absolute balance drift found by the last check",
		})

		prometheus.MustRegister(
			orderCreateTotal,
			orderCreateLatency,
			orderStatusTotal,
			sagaCompensations,
			inventoryClientTotal,
			inventoryClientLatency,
			inventoryReservations,
			ledgerPostingsTotal,
			transferTotal,
			transferLatency,
			invoicePayments,
			statementExportTotal,
			statementExportLatency,
			outboxRelayTotal,
			ledgerChecksTotal,
			ledgerCheckDuration,
			ledgerDriftAccounts,
			ledgerDriftMax,
		)

		if db != nil {
			registerDBMetrics(db, service, logger)
		}
	})
}

// ObserveOrderCreate records order creation latency and result.
func ObserveOrderCreate(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if orderCreateTotal != nil {
		orderCreateTotal.WithLabelValues(result).Inc()
	}
	if orderCreateLatency != nil {
		orderCreateLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncOrderStatusChange counts a status change attempt.
func IncOrderStatusChange(status, result string) {
	if status == "" {
		status = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if orderStatusTotal != nil {
		orderStatusTotal.WithLabelValues(status, result).Inc()
	}
}

// IncSagaCompensation counts an order cancelled by compensation.
func IncSagaCompensation(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if sagaCompensations != nil {
		sagaCompensations.WithLabelValues(reason).Inc()
	}
}

// ObserveInventoryCall records one inventory boundary call.
func ObserveInventoryCall(op, result string, duration time.Duration) {
	if op == "" {
		op = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if inventoryClientTotal != nil {
		inventoryClientTotal.WithLabelValues(op, result).Inc()
	}
	if inventoryClientLatency != nil {
		inventoryClientLatency.WithLabelValues(op).Observe(duration.Seconds())
	}
}

// IncReservation counts a reservation operation on the inventory side.
func IncReservation(op, result string) {
	if op == "" {
		op = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if inventoryReservations != nil {
		inventoryReservations.WithLabelValues(op, result).Inc()
	}
}

// IncLedgerPosting counts a posting applied ("post") or reverted ("unpost").
func IncLedgerPosting(postingType, op string) {
	if postingType == "" {
		postingType = "unknown"
	}
	if ledgerPostingsTotal != nil {
		ledgerPostingsTotal.WithLabelValues(postingType, op).Inc()
	}
}

// ObserveTransfer records transfer latency and result.
func ObserveTransfer(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if transferTotal != nil {
		transferTotal.WithLabelValues(result).Inc()
	}
	if transferLatency != nil {
		transferLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncInvoicePayment counts an invoice payment attempt.
func IncInvoicePayment(result string) {
	if result == "" {
		result = resultSuccess
	}
	if invoicePayments != nil {
		invoicePayments.WithLabelValues(result).Inc()
	}
}

// ObserveStatementExport records export latency and result.
func ObserveStatementExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if statementExportTotal != nil {
		statementExportTotal.WithLabelValues(format, result).Inc()
	}
	if statementExportLatency != nil {
		statementExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncOutboxRelay counts relayed outbox records.
func IncOutboxRelay(result string) {
	if result == "" {
		result = resultSuccess
	}
	if outboxRelayTotal != nil {
		outboxRelayTotal.WithLabelValues(result).Inc()
	}
}

// ObserveLedgerCheck records one consistency check. drifted and maxDrift
// are only applied when the check completed.
func ObserveLedgerCheck(result string, duration time.Duration, drifted int, maxDrift float64) {
	if result == "" {
		result = resultSuccess
	}
	if ledgerChecksTotal != nil {
		ledgerChecksTotal.WithLabelValues(result).Inc()
	}
	if ledgerCheckDuration != nil {
		ledgerCheckDuration.Observe(duration.Seconds())
	}
	if result == resultError {
		return
	}
	if ledgerDriftAccounts != nil {
		ledgerDriftAccounts.Set(float64(drifted))
	}
	if ledgerDriftMax != nil {
		ledgerDriftMax.Set(maxDrift)
	}
}

// Exported constants for callers.
const (
	ResultSuccess     = resultSuccess
	ResultError       = resultError
	ResultRejected    = resultRejected
	ResultUnavailable = resultUnavailable
)
