// Package sink writes tables as parquet datasets, optionally hive-partitioned.
package sink

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Xiaobaiq-q/DataLake/internal/metrics"
	"github.com/Xiaobaiq-q/DataLake/internal/storage"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"
)

const (
	SuccessMarker           = "_SUCCESS"
	DefaultPartitionValue   = "__HIVE_DEFAULT_PARTITION__"
	flushEvery              = 100000
	parquetWriterGoroutines = 4
)

// Writer overwrites table datasets in a store. Each part file is staged in a local temp
// file and then uploaded.
type Writer struct {
	store   storage.Store
	runID   string
	codec   parquet.CompressionCodec
	ext     string
	tempDir string
	metrics *metrics.Metrics
	log     *zap.Logger
}

// Result describes one written table.
type Result struct {
	Table      string
	Rows       int
	Files      int
	Partitions []string
	Deleted    int
	Duration   time.Duration
}

func NewWriter(store storage.Store, runID, compression, tempDir string, m *metrics.Metrics, log *zap.Logger) (*Writer, error) {
	codec, ext, err := parseCompression(compression)
	if err != nil {
		return nil, err
	}

	// Create temp directory for parquet files
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &Writer{
		store:   store,
		runID:   runID,
		codec:   codec,
		ext:     ext,
		tempDir: tempDir,
		metrics: m,
		log:     log,
	}, nil
}

func parseCompression(name string) (parquet.CompressionCodec, string, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return parquet.CompressionCodec_SNAPPY, ".snappy", nil
	case "gzip":
		return parquet.CompressionCodec_GZIP, ".gz", nil
	case "zstd":
		return parquet.CompressionCodec_ZSTD, ".zstd", nil
	case "uncompressed", "none":
		return parquet.CompressionCodec_UNCOMPRESSED, "", nil
	default:
		return 0, "", fmt.Errorf("unsupported compression %q", name)
	}
}

// Prefix returns the dataset directory of a table.
func Prefix(table string) string {
	return table + ".parquet"
}

// Write overwrites an unpartitioned table.
func Write[T any](ctx context.Context, w *Writer, table string, rows []T) (Result, error) {
	return WritePartitioned[T, T](ctx, w, table, rows, nil, nil, func(r T) T { return r })
}

// WritePartitioned overwrites a table, writing one part file per distinct partition.
// values returns the partition values of a row in the order of columns; project maps a
// row to what is stored in the file. With no columns every row goes to one file.
func WritePartitioned[T, F any](ctx context.Context, w *Writer, table string, rows []T, columns []string, values func(T) []string, project func(T) F) (Result, error) {
	start := time.Now()
	prefix := Prefix(table)
	res := Result{Table: table}

	deleted, err := w.store.DeletePrefix(ctx, prefix)
	if err != nil {
		return res, fmt.Errorf("overwrite %s: %w", table, err)
	}
	res.Deleted = deleted
	if deleted > 0 {
		w.log.Info("removed previous output", zap.String("table", table), zap.Int("objects", deleted))
	}

	groups := groupByPartition(rows, columns, values)

	for i, g := range groups {
		fileRows := make([]F, len(g.rows))
		for j, r := range g.rows {
			fileRows[j] = project(r)
		}

		key := path.Join(prefix, g.dir, w.partName(i))
		if err := writePart(ctx, w, table, key, fileRows); err != nil {
			return res, err
		}
		res.Files++
		res.Rows += len(fileRows)
		if g.dir != "" {
			res.Partitions = append(res.Partitions, g.dir)
		}
	}

	if err := w.store.Put(ctx, path.Join(prefix, SuccessMarker), strings.NewReader(""), nil); err != nil {
		return res, fmt.Errorf("write %s success marker: %w", table, err)
	}

	res.Duration = time.Since(start)
	w.metrics.RowsWritten.WithLabelValues(table).Add(float64(res.Rows))
	w.metrics.FilesWritten.WithLabelValues(table).Add(float64(res.Files))

	w.log.Info("table written",
		zap.String("table", table),
		zap.String("root", w.store.Root().String()),
		zap.String("prefix", prefix),
		zap.Int("rows", res.Rows),
		zap.Int("files", res.Files),
		zap.Int("partitions", len(res.Partitions)),
		zap.Duration("took", res.Duration))
	return res, nil
}

func (w *Writer) partName(i int) string {
	return fmt.Sprintf("part-%05d-%s%s.parquet", i, w.runID, w.ext)
}

type partitionGroup[T any] struct {
	dir  string
	rows []T
}

// groupByPartition groups rows by partition directory, sorted by directory. An empty
// input still yields one group so the dataset carries its schema.
func groupByPartition[T any](rows []T, columns []string, values func(T) []string) []partitionGroup[T] {
	if len(columns) == 0 || len(rows) == 0 {
		return []partitionGroup[T]{{rows: rows}}
	}

	byDir := make(map[string][]T)
	for _, r := range rows {
		dir := PartitionDir(columns, values(r))
		byDir[dir] = append(byDir[dir], r)
	}

	dirs := make([]string, 0, len(byDir))
	for d := range byDir {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	groups := make([]partitionGroup[T], 0, len(dirs))
	for _, d := range dirs {
		groups = append(groups, partitionGroup[T]{dir: d, rows: byDir[d]})
	}
	return groups
}

// PartitionDir builds "col=value/col=value" with hive escaping.
func PartitionDir(columns, values []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		parts[i] = c + "=" + EscapePartitionValue(v)
	}
	return strings.Join(parts, "/")
}

// EscapePartitionValue percent-encodes the characters hive does not allow in a
// partition directory name.
func EscapePartitionValue(v string) string {
	if v == "" {
		return DefaultPartitionValue
	}

	var b strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		if needsEscape(c) {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func needsEscape(c byte) bool {
	if c < 0x20 || c == 0x7F {
		return true
	}
	switch c {
	case '"', '#', '%', '\'', '*', '/', ':', '=', '?', '\\', '{', '[', ']', '^':
		return true
	}
	return false
}

func writePart[F any](ctx context.Context, w *Writer, table, key string, rows []F) error {
	// Create unique local temp file
	localFileName := filepath.Join(w.tempDir, fmt.Sprintf("temp_%s_%s.parquet", table, uuid.NewString()))
	defer os.Remove(localFileName)

	w.log.Debug("creating local parquet file", zap.String("path", localFileName), zap.Int("rows", len(rows)))

	fw, err := local.NewLocalFileWriter(localFileName)
	if err != nil {
		return fmt.Errorf("failed to create local file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(F), parquetWriterGoroutines)
	if err != nil {
		fw.Close()
		return fmt.Errorf("failed to create parquet writer for %s: %w", table, err)
	}
	pw.CompressionType = w.codec

	for i, r := range rows {
		if err := pw.Write(r); err != nil {
			fw.Close()
			return fmt.Errorf("error writing %s record %d: %w", table, i, err)
		}

		// Flush periodically for large files
		if (i+1)%flushEvery == 0 {
			w.log.Debug("written records", zap.String("table", table), zap.Int("done", i+1), zap.Int("total", len(rows)))
			if err := pw.Flush(true); err != nil {
				fw.Close()
				return fmt.Errorf("error flushing %s: %w", table, err)
			}
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("error in WriteStop for %s: %w", table, err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("error closing file writer: %w", err)
	}

	file, err := os.Open(localFileName)
	if err != nil {
		return fmt.Errorf("failed to open temp file for upload: %w", err)
	}
	defer file.Close()

	err = w.store.Put(ctx, key, file, map[string]string{
		"record-count": strconv.Itoa(len(rows)),
		"table":        table,
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
