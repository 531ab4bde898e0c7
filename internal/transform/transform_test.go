package transform

import (
	"testing"
	"time"

	"github.com/Xiaobaiq-q/DataLake/internal/model"
	"github.com/Xiaobaiq-q/DataLake/internal/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func catalog() []records.CatalogRecord {
	return []records.CatalogRecord{
		{TrackID: "S1", Title: "Song A", ArtistID: "A1", ArtistName: "Artist One", Year: 2000, Duration: 200.0, ArtistLatitude: f64(35.1), ArtistLongitude: f64(-90.0)},
		{TrackID: "S1", Title: "Song A", ArtistID: "A1", ArtistName: "Artist One", Year: 2000, Duration: 200.0, ArtistLatitude: f64(35.1), ArtistLongitude: f64(-90.0)},
		{TrackID: "S2", Title: "Song B", ArtistID: "A2", ArtistName: "Artist Two", Year: 0, Duration: 151.5},
		{TrackID: "S3", Title: "Song B", ArtistID: "A2", ArtistName: "Artist Two", Year: 0, Duration: 151.5},
	}
}

func TestSongs_FullRowDistinct(t *testing.T) {
	songs := Songs(catalog())

	assert.Equal(t, []model.SongRow{
		{TrackID: "S1", Title: "Song A", ArtistID: "A1", Year: 2000, Duration: 200.0},
		{TrackID: "S2", Title: "Song B", ArtistID: "A2", Year: 0, Duration: 151.5},
		{TrackID: "S3", Title: "Song B", ArtistID: "A2", Year: 0, Duration: 151.5},
	}, songs)

	seen := map[model.SongRow]bool{}
	for _, s := range songs {
		assert.False(t, seen[s], "duplicate row %+v", s)
		seen[s] = true
	}
}

func TestArtists_Distinct(t *testing.T) {
	artists := Artists(catalog())

	require.Len(t, artists, 2)
	assert.Equal(t, "A1", artists[0].ArtistID)
	assert.Equal(t, "Artist One", artists[0].Name)
	require.NotNil(t, artists[0].Latitude)
	assert.Equal(t, 35.1, *artists[0].Latitude)
	assert.Equal(t, "A2", artists[1].ArtistID)
	assert.Nil(t, artists[1].Latitude)
	assert.Nil(t, artists[1].Longitude)
}

func TestArtists_CoordinatesPartOfKey(t *testing.T) {
	recs := []records.CatalogRecord{
		{TrackID: "S1", Title: "x", ArtistID: "A1", ArtistLatitude: f64(1)},
		{TrackID: "S2", Title: "y", ArtistID: "A1"},
		{TrackID: "S3", Title: "z", ArtistID: "A1", ArtistLatitude: f64(1)},
	}

	artists := Artists(recs)
	require.Len(t, artists, 2)
	assert.NotNil(t, artists[0].Latitude)
	assert.Nil(t, artists[1].Latitude)
}

func events() []records.EventRecord {
	return []records.EventRecord{
		{Page: "Home", TS: 1541105830796, UserID: "39", FirstName: "Walter", LastName: "Frye", Gender: "M", Level: "free"},
		{Page: "NextSong", TS: 1541106106796, UserID: "8", FirstName: "Kaylee", LastName: "Summers", Gender: "F", Level: "free", Song: "Song A", SessionID: 139},
		{Page: "NextSong", TS: 1541106106999, UserID: "8", FirstName: "Kaylee", LastName: "Summers", Gender: "F", Level: "free", Song: "Unknown", SessionID: 139},
		{Page: "Logout", TS: 1541106107796, UserID: "8", FirstName: "Kaylee", LastName: "Summers", Gender: "F", Level: "free"},
		{Page: "NextSong", TS: 1541106352796, UserID: "8", FirstName: "Kaylee", LastName: "Summers", Gender: "F", Level: "paid", Song: "Song B", SessionID: 139},
	}
}

func TestPlays_OnlyNextSong(t *testing.T) {
	plays := Plays(events())

	require.Len(t, plays, 3)
	for _, p := range plays {
		assert.Equal(t, records.PageNextSong, p.Page)
	}
}

func TestUsers_FromPlaysOnly(t *testing.T) {
	users := Users(Plays(events()))

	assert.Equal(t, []model.UserRow{
		{UserID: "8", FirstName: "Kaylee", LastName: "Summers", Gender: "F", SubscriptionLevel: "free"},
		{UserID: "8", FirstName: "Kaylee", LastName: "Summers", Gender: "F", SubscriptionLevel: "paid"},
	}, users)
}

func TestTimes_DistinctPerSecond(t *testing.T) {
	times := Times(Plays(events()), time.UTC)

	// 1541106106796 and 1541106106999 fall in the same second.
	require.Len(t, times, 2)
	assert.Equal(t, int64(1541106106000), times[0].StartTime)
	assert.Equal(t, int64(1541106352000), times[1].StartTime)
}

type seqIDs struct{ next int64 }

func (s *seqIDs) NextID() int64 {
	s.next++
	return s.next * 10
}

func TestSongplays_RawCatalogJoin(t *testing.T) {
	res := Songplays(Plays(events()), TracksFromCatalog(catalog()), &seqIDs{})

	// Song A appears twice in the raw catalog, Song B once per track id.
	require.Len(t, res.Rows, 4)
	assert.Equal(t, 1, res.Misses)

	first := res.Rows[0]
	assert.Equal(t, int64(10), first.SongplayID)
	assert.Equal(t, int64(1541106106000), first.StartTime)
	assert.Equal(t, "8", first.UserID)
	assert.Equal(t, "free", first.SubscriptionLevel)
	assert.Equal(t, "S1", first.TrackID)
	assert.Equal(t, "A1", first.ArtistID)
	assert.Equal(t, int64(139), first.SessionID)

	assert.Equal(t, "S2", res.Rows[2].TrackID)
	assert.Equal(t, "S3", res.Rows[3].TrackID)
	assert.Equal(t, "paid", res.Rows[3].SubscriptionLevel)
}

func TestSongplays_DedupedTracksJoin(t *testing.T) {
	res := Songplays(Plays(events()), TracksFromSongs(Songs(catalog())), &seqIDs{})

	require.Len(t, res.Rows, 3)
	assert.Equal(t, "S1", res.Rows[0].TrackID)
	assert.Equal(t, 1, res.Misses)
}

func TestSongplays_UnknownTitleDropped(t *testing.T) {
	plays := []records.EventRecord{{Page: "NextSong", TS: 1000000000000, UserID: "U1", Song: "No Such Song"}}

	res := Songplays(plays, TracksFromCatalog(catalog()), &seqIDs{})
	assert.Empty(t, res.Rows)
	assert.Equal(t, 1, res.Misses)
}

func TestSnowflakeIDs_Unique(t *testing.T) {
	ids, err := NewSnowflakeIDs(1)
	require.NoError(t, err)

	seen := make(map[int64]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := ids.NextID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %d", id)
		seen[id] = struct{}{}
	}

	_, err = NewSnowflakeIDs(5000)
	assert.Error(t, err)
}
