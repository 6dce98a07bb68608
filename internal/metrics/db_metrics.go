package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// NewDBStatsCollector публикует sql.DBStats пула под меткой db_name.
func NewDBStatsCollector(registerer prometheus.Registerer, db *sql.DB, name string) prometheus.Collector {
	return register(registerer, collectors.NewDBStatsCollector(db, name), "go_sql_stats_"+name)
}
