package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

const namespace = "sparkify_etl"

// Metrics holds the counters of one run on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	FilesRead        *prometheus.CounterVec
	BytesRead        *prometheus.CounterVec
	RecordsRead      *prometheus.CounterVec
	RecordsMalformed *prometheus.CounterVec
	RowsWritten      *prometheus.CounterVec
	FilesWritten     *prometheus.CounterVec
	JoinMisses       prometheus.Counter
	StageSeconds     *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FilesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_read_total",
			Help:      "Input files read, by dataset.",
		}, []string{"dataset"}),
		BytesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Input bytes read, by dataset.",
		}, []string{"dataset"}),
		RecordsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Valid input records decoded, by dataset.",
		}, []string{"dataset"}),
		RecordsMalformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_malformed_total",
			Help:      "Input records that failed to decode or validate, by dataset.",
		}, []string{"dataset"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written, by table.",
		}, []string{"table"}),
		FilesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_written_total",
			Help:      "Parquet part files written, by table.",
		}, []string{"table"}),
		JoinMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_misses_total",
			Help:      "Song plays dropped because no catalog title matched.",
		}),
		StageSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage in the last run.",
		}, []string{"stage"}),
	}

	m.Registry.MustRegister(
		m.FilesRead,
		m.BytesRead,
		m.RecordsRead,
		m.RecordsMalformed,
		m.RowsWritten,
		m.FilesWritten,
		m.JoinMisses,
		m.StageSeconds,
	)
	return m
}

// ObserveStage records how long a stage took since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.StageSeconds.WithLabelValues(stage).Set(time.Since(start).Seconds())
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}

var Module = fx.Module("metrics",
	fx.Provide(New),
)
