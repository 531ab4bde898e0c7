package transform

import (
	"fmt"

	"github.com/Xiaobaiq-q/DataLake/internal/model"
	"github.com/Xiaobaiq-q/DataLake/internal/records"
	"github.com/bwmarrin/snowflake"
)

// Track is the catalog side of the songplays join.
type Track struct {
	TrackID  string
	Title    string
	ArtistID string
}

// TracksFromCatalog keeps every raw catalog record, duplicates included.
func TracksFromCatalog(recs []records.CatalogRecord) []Track {
	out := make([]Track, 0, len(recs))
	for _, r := range recs {
		out = append(out, Track{TrackID: r.TrackID, Title: r.Title, ArtistID: r.ArtistID})
	}
	return out
}

// TracksFromSongs joins against the deduplicated tracks dimension.
func TracksFromSongs(rows []model.SongRow) []Track {
	out := make([]Track, 0, len(rows))
	for _, r := range rows {
		out = append(out, Track{TrackID: r.TrackID, Title: r.Title, ArtistID: r.ArtistID})
	}
	return DistinctRows(out)
}

// IDGenerator hands out surrogate ids that are unique within a run. They are neither
// dense nor stable across runs.
type IDGenerator interface {
	NextID() int64
}

type SnowflakeIDs struct {
	node *snowflake.Node
}

func NewSnowflakeIDs(nodeID int64) (*SnowflakeIDs, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeIDs{node: node}, nil
}

func (s *SnowflakeIDs) NextID() int64 {
	return s.node.Generate().Int64()
}

// JoinResult is the outcome of Songplays.
type JoinResult struct {
	Rows []model.SongplayRow
	// Misses counts plays whose song title matched no track.
	Misses int
}

// Songplays inner-joins plays to tracks on title == song. A play matching several
// tracks yields one row per match; a play matching none is dropped and counted.
func Songplays(plays []records.EventRecord, tracks []Track, ids IDGenerator) JoinResult {
	byTitle := make(map[string][]Track, len(tracks))
	for _, t := range tracks {
		byTitle[t.Title] = append(byTitle[t.Title], t)
	}

	var res JoinResult
	for _, e := range plays {
		matches := byTitle[e.Song]
		if len(matches) == 0 {
			res.Misses++
			continue
		}
		start := StartSeconds(e.TS) * 1000
		for _, t := range matches {
			res.Rows = append(res.Rows, model.SongplayRow{
				SongplayID:        ids.NextID(),
				StartTime:         start,
				UserID:            e.UserID.String(),
				SubscriptionLevel: e.Level,
				TrackID:           t.TrackID,
				ArtistID:          t.ArtistID,
				SessionID:         e.SessionID,
				Location:          e.Location,
				UserAgent:         e.UserAgent,
			})
		}
	}
	return res
}
