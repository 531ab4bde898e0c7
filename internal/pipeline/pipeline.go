// Package pipeline runs the catalog and event pipelines against the configured stores.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Xiaobaiq-q/DataLake/internal/config"
	"github.com/Xiaobaiq-q/DataLake/internal/extract"
	"github.com/Xiaobaiq-q/DataLake/internal/metrics"
	"github.com/Xiaobaiq-q/DataLake/internal/model"
	"github.com/Xiaobaiq-q/DataLake/internal/sink"
	"github.com/Xiaobaiq-q/DataLake/internal/storage"
	"github.com/Xiaobaiq-q/DataLake/internal/transform"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	StageCatalog = "catalog"
	StageEvents  = "events"
	StageTotal   = "total"
)

// Runner orchestrates one ETL run. Stages run strictly one after another.
type Runner struct {
	cfg     config.Config
	stores  *storage.Context
	ids     transform.IDGenerator
	metrics *metrics.Metrics
	log     *zap.Logger
	loc     *time.Location
}

func NewRunner(cfg config.Config, stores *storage.Context, ids transform.IDGenerator, m *metrics.Metrics, log *zap.Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		stores:  stores,
		ids:     ids,
		metrics: m,
		log:     log,
		loc:     cfg.Location(),
	}
}

// Job is the state shared by both pipelines of a single run.
type Job struct {
	ID     string
	Loader *extract.Loader
	Writer *sink.Writer
}

func (r *Runner) newJob(tempDir string) (*Job, error) {
	id := uuid.NewString()
	w, err := sink.NewWriter(r.stores.Output, id, r.cfg.ETL.Compression, tempDir, r.metrics, r.log)
	if err != nil {
		return nil, err
	}
	skip := r.cfg.ETL.MalformedPolicy == config.PolicySkip
	return &Job{
		ID:     id,
		Loader: extract.NewLoader(r.stores.Input, r.cfg.ETL.Workers, skip, r.metrics, r.log),
		Writer: w,
	}, nil
}

// Run probes the output, runs the catalog pipeline then the event pipeline, and writes
// the run stats. The stats are written whether or not the run succeeded.
func (r *Runner) Run(ctx context.Context) (RunStats, error) {
	start := time.Now()
	stats := RunStats{
		StartedAt: start.UTC(),
		Input:     r.stores.Input.Root().String(),
		Output:    r.stores.Output.Root().String(),
		Tables:    make(map[string]TableStats),
	}

	err := r.run(ctx, &stats)

	duration := time.Since(start)
	r.metrics.ObserveStage(StageTotal, start)
	stats.finish(duration, err)

	if err != nil {
		r.log.Error("ETL run failed", zap.String("run_id", stats.RunID), zap.Duration("took", duration), zap.Error(err))
	} else {
		r.log.Info("ETL run completed",
			zap.String("run_id", stats.RunID),
			zap.Duration("took", duration),
			zap.Int64("bytes_read", stats.TotalBytesProcessed),
			zap.Int("join_misses", stats.JoinMisses))
	}

	r.writeStats(stats)
	r.writeMetrics()
	return stats, err
}

func (r *Runner) run(ctx context.Context, stats *RunStats) error {
	tempDir, err := os.MkdirTemp(r.cfg.ETL.TempDir, "sparkify-etl-")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer r.cleanup(tempDir)

	job, err := r.newJob(tempDir)
	if err != nil {
		return err
	}
	stats.RunID = job.ID

	r.log.Info("starting ETL run",
		zap.String("run_id", job.ID),
		zap.String("input", stats.Input),
		zap.String("output", stats.Output),
		zap.Int("workers", r.cfg.ETL.Workers),
		zap.String("timezone", r.loc.String()),
		zap.String("join_source", r.cfg.ETL.JoinSource))

	// Test output access first
	if r.cfg.ETL.ProbeOutput {
		if err := r.stores.Output.Probe(ctx); err != nil {
			return fmt.Errorf("output access test failed: %w", err)
		}
	}

	if err := r.ProcessCatalog(ctx, job, stats); err != nil {
		return fmt.Errorf("catalog pipeline: %w", err)
	}
	if err := r.ProcessEvents(ctx, job, stats); err != nil {
		return fmt.Errorf("event pipeline: %w", err)
	}
	return nil
}

// ProcessCatalog loads the song catalog and writes the songs and artists tables.
func (r *Runner) ProcessCatalog(ctx context.Context, job *Job, stats *RunStats) error {
	start := time.Now()
	defer r.metrics.ObserveStage(StageCatalog, start)

	catalog, ls, err := job.Loader.LoadCatalog(ctx)
	if err != nil {
		return err
	}
	stats.Catalog = datasetStats(ls)

	songs := transform.Songs(catalog)
	res, err := sink.WritePartitioned(ctx, job.Writer, model.TableSongs, songs,
		[]string{"year", "artist_id"}, songPartition, model.SongRow.FileRow)
	if err != nil {
		return err
	}
	stats.addTable(res)

	artists := transform.Artists(catalog)
	res, err = sink.Write(ctx, job.Writer, model.TableArtists, artists)
	if err != nil {
		return err
	}
	stats.addTable(res)

	r.log.Info("catalog pipeline done",
		zap.Int("records", len(catalog)),
		zap.Int("songs", len(songs)),
		zap.Int("artists", len(artists)),
		zap.Duration("took", time.Since(start)))
	return nil
}

// ProcessEvents loads the event log and writes the users, times and songplays tables.
// The catalog is read again for the join.
func (r *Runner) ProcessEvents(ctx context.Context, job *Job, stats *RunStats) error {
	start := time.Now()
	defer r.metrics.ObserveStage(StageEvents, start)

	events, ls, err := job.Loader.LoadEvents(ctx)
	if err != nil {
		return err
	}
	stats.Events = datasetStats(ls)

	plays := transform.Plays(events)
	stats.PlayEvents = len(plays)

	res, err := sink.Write(ctx, job.Writer, model.TableUsers, transform.Users(plays))
	if err != nil {
		return err
	}
	stats.addTable(res)

	res, err = sink.Write(ctx, job.Writer, model.TableTimes, transform.Times(plays, r.loc))
	if err != nil {
		return err
	}
	stats.addTable(res)

	tracks, err := r.loadTracks(ctx, job)
	if err != nil {
		return err
	}

	joined := transform.Songplays(plays, tracks, r.ids)
	stats.JoinMisses = joined.Misses
	r.metrics.JoinMisses.Add(float64(joined.Misses))
	if joined.Misses > 0 {
		r.log.Info("plays without a catalog match dropped", zap.Int("misses", joined.Misses), zap.Int("plays", len(plays)))
	}

	if r.cfg.ETL.SongplaysPartitioned {
		res, err = sink.WritePartitioned(ctx, job.Writer, model.TableSongplays, joined.Rows,
			[]string{"year", "month"}, r.songplayPartition, identity[model.SongplayRow])
	} else {
		res, err = sink.Write(ctx, job.Writer, model.TableSongplays, joined.Rows)
	}
	if err != nil {
		return err
	}
	stats.addTable(res)

	r.log.Info("event pipeline done",
		zap.Int("events", len(events)),
		zap.Int("plays", len(plays)),
		zap.Int("songplays", len(joined.Rows)),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (r *Runner) loadTracks(ctx context.Context, job *Job) ([]transform.Track, error) {
	catalog, _, err := job.Loader.LoadCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("reload catalog: %w", err)
	}
	if r.cfg.ETL.JoinSource == config.JoinTracks {
		return transform.TracksFromSongs(transform.Songs(catalog)), nil
	}
	return transform.TracksFromCatalog(catalog), nil
}

func songPartition(s model.SongRow) []string {
	return []string{strconv.Itoa(int(s.Year)), s.ArtistID}
}

func (r *Runner) songplayPartition(p model.SongplayRow) []string {
	t := time.UnixMilli(p.StartTime).In(r.loc)
	return []string{strconv.Itoa(t.Year()), strconv.Itoa(int(t.Month()))}
}

func identity[T any](v T) T { return v }

func (r *Runner) cleanup(tempDir string) {
	r.log.Debug("cleaning up temp directory", zap.String("path", tempDir))
	if err := os.RemoveAll(tempDir); err != nil {
		r.log.Warn("failed to clean up temp directory", zap.String("path", tempDir), zap.Error(err))
	}
}

func datasetStats(s extract.Stats) DatasetStats {
	return DatasetStats{
		Files:    s.Files,
		Bytes:    s.Bytes,
		Records:  s.Records,
		Skipped:  s.Skipped,
		Duration: s.Duration.String(),
	}
}
