package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const gaugeQueryTimeout = 2 * time.Second

type dbGauge struct {
	name  string
	help  string
	query string
}

// Every service schema carries the outbox tables.
var commonGauges = []dbGauge{
	{"event_outbox_pending", "Outbox records waiting for delivery", "SELECT COUNT(*) FROM event_outbox WHERE status IN ('pending', 'failed')"},
	{"event_dlq_count", "Dead letter records", "SELECT COUNT(*) FROM event_dlq"},
}

var serviceGauges = map[string][]dbGauge{
	"orders": {
		{"orders_processing", "Orders holding an inventory reservation", "SELECT COUNT(*) FROM orders WHERE status = 'processing'"},
	},
	"inventory": {
		{"inventory_active_reservations", "Reservations neither released nor completed", "SELECT COUNT(*) FROM inventory_reservations WHERE status = 'active'"},
	},
	"finance": {
		{"invoices_overdue", "Sent or partially paid invoices past their due date", "SELECT COUNT(*) FROM invoices WHERE status IN ('sent', 'partial') AND due_date < NOW()"},
	},
}

func registerDBMetrics(db *sql.DB, service string, logger *zap.Logger) {
	gauges := append(append([]dbGauge(nil), commonGauges...), serviceGauges[service]...)
	for _, g := range gauges {
		query := g.query
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: metricPrefix + g.name, Help: g.help},
			func() float64 { return queryCount(db, logger, query) },
		))
	}
}

func queryCount(db *sql.DB, logger *zap.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), gaugeQueryTimeout)
	defer cancel()
	var count int64
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", zap.String("query", query), zap.Error(err))
		}
		return 0
	}
	return float64(max(count, 0))
}
