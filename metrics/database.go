package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

// DatabaseMetrics mirrors sql.DBStats as gauges
type DatabaseMetrics struct {
	OpenConnections *prometheus.GaugeVec
	WaitCount       prometheus.Gauge
	WaitDuration    prometheus.Gauge
	MaxOpen         prometheus.Gauge
}

// NewDatabaseMetrics registers the connection-pool gauges on reg
func NewDatabaseMetrics(namespace string, reg prometheus.Registerer) *DatabaseMetrics {
	d := &DatabaseMetrics{
		OpenConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "connections",
			Help:      "Database connections by state (in_use, idle)",
		}, []string{"state"}),
		WaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "wait_count",
			Help:      "Total number of connections waited for",
		}),
		WaitDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "wait_duration_seconds",
			Help:      "Total time blocked waiting for a connection",
		}),
		MaxOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "max_open_connections",
			Help:      "Configured maximum number of open connections",
		}),
	}
	reg.MustRegister(d.OpenConnections, d.WaitCount, d.WaitDuration, d.MaxOpen)
	return d
}

// UpdateDBStats copies the current pool statistics into the gauges
func (d *DatabaseMetrics) UpdateDBStats(db *sql.DB) {
	if d == nil || db == nil {
		return
	}
	stats := db.Stats()
	d.OpenConnections.WithLabelValues("in_use").Set(float64(stats.InUse))
	d.OpenConnections.WithLabelValues("idle").Set(float64(stats.Idle))
	d.WaitCount.Set(float64(stats.WaitCount))
	d.WaitDuration.Set(stats.WaitDuration.Seconds())
	d.MaxOpen.Set(float64(stats.MaxOpenConnections))
}
