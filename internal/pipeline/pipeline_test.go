package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/Xiaobaiq-q/DataLake/internal/config"
	"github.com/Xiaobaiq-q/DataLake/internal/metrics"
	"github.com/Xiaobaiq-q/DataLake/internal/model"
	"github.com/Xiaobaiq-q/DataLake/internal/records"
	"github.com/Xiaobaiq-q/DataLake/internal/storage"
	"github.com/Xiaobaiq-q/DataLake/internal/transform"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"go.uber.org/zap"
)

type fixture struct {
	in, out string
	cfg     config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	in, out := t.TempDir(), t.TempDir()
	work := t.TempDir()
	return &fixture{
		in:  in,
		out: out,
		cfg: config.Config{
			Paths: config.PathsConfig{Input: in, Output: out},
			ETL: config.ETLConfig{
				Workers:         2,
				Timeout:         time.Minute,
				Timezone:        "UTC",
				MalformedPolicy: config.PolicyFail,
				JoinSource:      config.JoinCatalog,
				NodeID:          1,
				Compression:     "snappy",
				ProbeOutput:     true,
				StatsFile:       filepath.Join(work, "etl_stats.json"),
				TempDir:         work,
			},
			Metrics: config.MetricsConfig{Textfile: filepath.Join(work, "etl.prom")},
		},
	}
}

func (f *fixture) write(t *testing.T, rel string, lines ...string) {
	t.Helper()
	p := filepath.Join(f.in, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func (f *fixture) runner(t *testing.T) (*Runner, *metrics.Metrics) {
	t.Helper()
	stores, err := storage.NewContext(f.cfg, zap.NewNop())
	require.NoError(t, err)
	ids, err := transform.NewSnowflakeIDs(f.cfg.ETL.NodeID)
	require.NoError(t, err)
	m := metrics.New()
	return NewRunner(f.cfg, stores, ids, m, zap.NewNop()), m
}

func (f *fixture) run(t *testing.T) RunStats {
	t.Helper()
	r, _ := f.runner(t)
	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	return stats
}

// parts returns the parquet part files of a table, sorted.
func (f *fixture) parts(t *testing.T, table string) []string {
	t.Helper()
	var out []string
	root := filepath.Join(f.out, table+".parquet")
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(p, ".parquet") {
			out = append(out, p)
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)
	return out
}

func readTable[T any](t *testing.T, f *fixture, table string) []T {
	t.Helper()
	var all []T
	for _, file := range f.parts(t, table) {
		fr, err := local.NewLocalFileReader(file)
		require.NoError(t, err)
		pr, err := reader.NewParquetReader(fr, new(T), 1)
		require.NoError(t, err)

		rows := make([]T, int(pr.GetNumRows()))
		if len(rows) > 0 {
			require.NoError(t, pr.Read(&rows))
		}
		pr.ReadStop()
		require.NoError(t, fr.Close())
		all = append(all, rows...)
	}
	return all
}

const (
	songA  = `{"num_songs":1,"artist_id":"A1","artist_latitude":35.14968,"artist_longitude":-90.04892,"artist_location":"Memphis, TN","artist_name":"Artist One","song_id":"S1","title":"Song A","duration":200.0,"year":2000}`
	songB  = `{"num_songs":1,"artist_id":"A2","artist_latitude":null,"artist_longitude":null,"artist_location":"","artist_name":"Artist Two","song_id":"S2","title":"Song B","duration":151.5,"year":0}`
	playU1 = `{"artist":"Artist One","auth":"Logged In","firstName":"Una","gender":"F","itemInSession":0,"lastName":"One","length":200.0,"level":"free","location":"Nowhere, NV","method":"PUT","page":"NextSong","registration":1540000000000.0,"sessionId":7,"song":"Song A","status":200,"ts":1000000000000,"userAgent":"curl","userId":"U1"}`
	homeU2 = `{"artist":null,"auth":"Logged In","firstName":"Dos","gender":"M","itemInSession":1,"lastName":"Two","length":null,"level":"paid","location":"Elsewhere","method":"GET","page":"Home","registration":1540000000000.0,"sessionId":8,"song":null,"status":200,"ts":1000000001000,"userAgent":"curl","userId":"U2"}`
	miss   = `{"firstName":"Una","gender":"F","lastName":"One","level":"free","page":"NextSong","sessionId":7,"song":"No Such Song","ts":1000000002000,"userId":"U1"}`
)

func TestRun_SinglePlayEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.write(t, "song_data/A/A/A/TRAAA.json", songA)
	f.write(t, "log_data/2001/09/2001-09-09-events.json", playU1, homeU2)

	stats := f.run(t)

	songplays := readTable[model.SongplayRow](t, f, model.TableSongplays)
	require.Len(t, songplays, 1)
	sp := songplays[0]
	assert.Equal(t, "U1", sp.UserID)
	assert.Equal(t, "S1", sp.TrackID)
	assert.Equal(t, "A1", sp.ArtistID)
	assert.Equal(t, "free", sp.SubscriptionLevel)
	assert.Equal(t, int64(7), sp.SessionID)
	assert.Equal(t, int64(1000000000000), sp.StartTime)
	assert.NotZero(t, sp.SongplayID)

	times := readTable[model.TimeRow](t, f, model.TableTimes)
	require.Len(t, times, 1)
	assert.Equal(t, model.TimeRow{StartTime: 1000000000000, Hour: 1, Day: 9, Week: 36, Month: 9, Year: 2001, Weekday: 1}, times[0])

	users := readTable[model.UserRow](t, f, model.TableUsers)
	assert.Equal(t, []model.UserRow{{UserID: "U1", FirstName: "Una", LastName: "One", Gender: "F", SubscriptionLevel: "free"}}, users)

	songs := readTable[model.SongFileRow](t, f, model.TableSongs)
	assert.Equal(t, []model.SongFileRow{{TrackID: "S1", Title: "Song A", Duration: 200}}, songs)
	assert.FileExists(t, filepath.Join(f.out, "songs.parquet", "year=2000", "artist_id=A1", "part-00000-"+stats.RunID+".snappy.parquet"))

	artists := readTable[model.ArtistRow](t, f, model.TableArtists)
	require.Len(t, artists, 1)
	assert.Equal(t, "Memphis, TN", artists[0].Location)

	for _, table := range []string{model.TableSongs, model.TableArtists, model.TableUsers, model.TableTimes, model.TableSongplays} {
		assert.FileExists(t, filepath.Join(f.out, table+".parquet", "_SUCCESS"), table)
	}
	assert.NoFileExists(t, filepath.Join(f.out, "_sparkify_probe"))

	assert.Equal(t, "succeeded", stats.Status)
	assert.Equal(t, 2, stats.Events.Records)
	assert.Equal(t, 1, stats.PlayEvents)
	assert.Equal(t, 0, stats.JoinMisses)
	assert.Equal(t, 2, stats.TotalFilesFound)
}

func TestRun_UnknownTitleDropped(t *testing.T) {
	f := newFixture(t)
	f.write(t, "song_data/A/A/A/TRAAA.json", songA)
	f.write(t, "log_data/2001/09/2001-09-09-events.json", miss)

	r, m := f.runner(t)
	stats, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, readTable[model.SongplayRow](t, f, model.TableSongplays))
	assert.Len(t, f.parts(t, model.TableSongplays), 1)
	assert.Equal(t, 1, stats.JoinMisses)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JoinMisses))

	// The play still contributes to the users and times dimensions.
	assert.Len(t, readTable[model.UserRow](t, f, model.TableUsers), 1)
	assert.Len(t, readTable[model.TimeRow](t, f, model.TableTimes), 1)
}

func TestRun_DuplicateCatalogEntries(t *testing.T) {
	f := newFixture(t)
	f.write(t, "song_data/A/A/A/TRAAA.json", songA)
	f.write(t, "song_data/A/A/B/TRAAB.json", songA)
	f.write(t, "log_data/2001/09/2001-09-09-events.json", playU1)

	f.run(t)
	assert.Len(t, readTable[model.SongFileRow](t, f, model.TableSongs), 1)
	assert.Len(t, readTable[model.ArtistRow](t, f, model.TableArtists), 1)

	// The raw catalog carries the track twice, so the play matches twice.
	raw := readTable[model.SongplayRow](t, f, model.TableSongplays)
	require.Len(t, raw, 2)
	assert.NotEqual(t, raw[0].SongplayID, raw[1].SongplayID)

	f.cfg.ETL.JoinSource = config.JoinTracks
	f.run(t)
	assert.Len(t, readTable[model.SongplayRow](t, f, model.TableSongplays), 1)
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.write(t, "song_data/A/A/A/TRAAA.json", songA)
	f.write(t, "song_data/A/A/B/TRAAB.json", songB)
	f.write(t, "log_data/2001/09/2001-09-09-events.json", playU1, homeU2, miss)

	first := f.run(t)
	songs1 := readTable[model.SongFileRow](t, f, model.TableSongs)
	users1 := readTable[model.UserRow](t, f, model.TableUsers)
	times1 := readTable[model.TimeRow](t, f, model.TableTimes)
	artists1 := readTable[model.ArtistRow](t, f, model.TableArtists)

	second := f.run(t)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, songs1, readTable[model.SongFileRow](t, f, model.TableSongs))
	assert.Equal(t, users1, readTable[model.UserRow](t, f, model.TableUsers))
	assert.Equal(t, times1, readTable[model.TimeRow](t, f, model.TableTimes))
	assert.Equal(t, artists1, readTable[model.ArtistRow](t, f, model.TableArtists))

	// Overwrite leaves only the second run's files behind.
	for _, p := range f.parts(t, model.TableUsers) {
		assert.Contains(t, filepath.Base(p), second.RunID)
	}
	assert.Equal(t, 2, second.Tables[model.TableUsers].Replaced)
}

func TestRun_StaleOutputRemoved(t *testing.T) {
	f := newFixture(t)
	f.write(t, "song_data/A/A/A/TRAAA.json", songA)
	f.write(t, "log_data/2001/09/2001-09-09-events.json", playU1)

	stale := filepath.Join(f.out, "songs.parquet", "year=1999", "artist_id=GONE", "part-00000-old.snappy.parquet")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	f.run(t)
	assert.NoFileExists(t, stale)
	assert.NoDirExists(t, filepath.Join(f.out, "songs.parquet", "year=1999"))
}

func TestRun_PartitionedSongplays(t *testing.T) {
	f := newFixture(t)
	f.cfg.ETL.SongplaysPartitioned = true
	f.write(t, "song_data/A/A/A/TRAAA.json", songA)
	f.write(t, "log_data/2001/09/2001-09-09-events.json", playU1)

	stats := f.run(t)
	assert.FileExists(t, filepath.Join(f.out, "songplays.parquet", "year=2001", "month=9", "part-00000-"+stats.RunID+".snappy.parquet"))
	assert.Equal(t, []string{"year=2001/month=9"}, stats.Tables[model.TableSongplays].Sample)
	assert.Len(t, readTable[model.SongplayRow](t, f, model.TableSongplays), 1)
}

func TestRun_MalformedPolicy(t *testing.T) {
	f := newFixture(t)
	f.write(t, "song_data/A/A/A/TRAAA.json", songA)
	f.write(t, "log_data/2001/09/2001-09-09-events.json", playU1, `{"page":`)

	r, _ := f.runner(t)
	stats, err := r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, records.ErrMalformed)
	assert.Equal(t, "failed", stats.Status)
	assert.NoDirExists(t, filepath.Join(f.out, "songplays.parquet"))

	f.cfg.ETL.MalformedPolicy = config.PolicySkip
	stats = f.run(t)
	assert.Equal(t, 1, stats.Events.Skipped)
	assert.Len(t, readTable[model.SongplayRow](t, f, model.TableSongplays), 1)
}

func TestRun_EmptyInput(t *testing.T) {
	f := newFixture(t)

	stats := f.run(t)
	assert.Equal(t, 0, stats.TotalFilesFound)
	for _, table := range []string{model.TableSongs, model.TableArtists, model.TableUsers, model.TableTimes, model.TableSongplays} {
		assert.Len(t, f.parts(t, table), 1, table)
	}
}

func TestRun_WritesStatsAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.write(t, "song_data/A/A/A/TRAAA.json", songA)
	f.write(t, "log_data/2001/09/2001-09-09-events.json", playU1)

	stats := f.run(t)

	raw, err := os.ReadFile(f.cfg.ETL.StatsFile)
	require.NoError(t, err)
	var onDisk RunStats
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, stats.RunID, onDisk.RunID)
	assert.Equal(t, 1, onDisk.Tables[model.TableSongplays].Rows)
	assert.Equal(t, int64(5), onDisk.TotalRowsWritten)

	prom, err := os.ReadFile(f.cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `sparkify_etl_rows_written_total{table="songplays"} 1`)
}

func TestRun_TimezoneShiftsCalendar(t *testing.T) {
	f := newFixture(t)
	f.cfg.ETL.Timezone = "America/New_York"
	f.write(t, "song_data/A/A/A/TRAAA.json", songA)
	f.write(t, "log_data/2001/09/2001-09-09-events.json", playU1)

	f.run(t)
	times := readTable[model.TimeRow](t, f, model.TableTimes)
	require.Len(t, times, 1)
	assert.Equal(t, int32(21), times[0].Hour)
	assert.Equal(t, int32(8), times[0].Day)
	assert.Equal(t, int64(1000000000000), times[0].StartTime)
}
