package pipeline

import (
	"encoding/json"
	"os"
	"time"

	"github.com/Xiaobaiq-q/DataLake/internal/sink"
	"go.uber.org/zap"
)

// RunStats holds the performance metrics of one ETL run.
type RunStats struct {
	RunID                   string                `json:"run_id"`
	StartedAt               time.Time             `json:"started_at"`
	TotalExecutionTime      string                `json:"total_execution_time"`
	Status                  string                `json:"status"`
	Error                   string                `json:"error,omitempty"`
	Input                   string                `json:"input"`
	Output                  string                `json:"output"`
	Catalog                 DatasetStats          `json:"catalog"`
	Events                  DatasetStats          `json:"events"`
	PlayEvents              int                   `json:"play_events"`
	JoinMisses              int                   `json:"join_misses"`
	Tables                  map[string]TableStats `json:"tables"`
	TotalFilesFound         int                   `json:"total_files_found"`
	TotalRowsWritten        int64                 `json:"total_rows_written"`
	TotalBytesProcessed     int64                 `json:"total_bytes_processed"`
	ProcessingThroughputGBs float64               `json:"processing_throughput_gb_per_sec"`
}

type DatasetStats struct {
	Files    int    `json:"files"`
	Bytes    int64  `json:"bytes"`
	Records  int    `json:"records"`
	Skipped  int    `json:"skipped"`
	Duration string `json:"duration"`
}

type TableStats struct {
	Rows       int      `json:"rows"`
	Files      int      `json:"files"`
	Partitions int      `json:"partitions"`
	Replaced   int      `json:"replaced_objects"`
	Duration   string   `json:"duration"`
	Sample     []string `json:"sample_partitions,omitempty"`
}

const samplePartitions = 5

func (s *RunStats) addTable(res sink.Result) {
	ts := TableStats{
		Rows:       res.Rows,
		Files:      res.Files,
		Partitions: len(res.Partitions),
		Replaced:   res.Deleted,
		Duration:   res.Duration.String(),
	}
	if len(res.Partitions) > 0 {
		n := min(len(res.Partitions), samplePartitions)
		ts.Sample = append([]string(nil), res.Partitions[:n]...)
	}
	s.Tables[res.Table] = ts
	s.TotalRowsWritten += int64(res.Rows)
}

func (s *RunStats) finish(duration time.Duration, err error) {
	s.TotalExecutionTime = duration.String()
	s.TotalFilesFound = s.Catalog.Files + s.Events.Files
	s.TotalBytesProcessed = s.Catalog.Bytes + s.Events.Bytes
	if duration.Seconds() > 0 {
		s.ProcessingThroughputGBs = float64(s.TotalBytesProcessed) / 1e9 / duration.Seconds()
	}
	s.Status = "succeeded"
	if err != nil {
		s.Status = "failed"
		s.Error = err.Error()
	}
}

func (r *Runner) writeStats(stats RunStats) {
	path := r.cfg.ETL.StatsFile
	if path == "" {
		return
	}

	statsJSON, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		r.log.Warn("failed to serialize stats", zap.Error(err))
	} else if err := os.WriteFile(path, statsJSON, 0o644); err != nil {
		r.log.Warn("failed to write stats file", zap.String("path", path), zap.Error(err))
	} else {
		r.log.Info("wrote run stats", zap.String("path", path))
	}
}

func (r *Runner) writeMetrics() {
	path := r.cfg.Metrics.Textfile
	if path == "" {
		return
	}
	if err := r.metrics.WriteTextfile(path); err != nil {
		r.log.Warn("failed to write metrics textfile", zap.String("path", path), zap.Error(err))
	}
}
