// Package transform reshapes raw catalog and event records into dimension and fact rows.
package transform

import (
	"time"

	"github.com/Xiaobaiq-q/DataLake/internal/model"
	"github.com/Xiaobaiq-q/DataLake/internal/records"
)

// Distinct keeps the first row for each key, in input order.
func Distinct[T any, K comparable](rows []T, key func(T) K) []T {
	seen := make(map[K]struct{}, len(rows))
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		k := key(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// DistinctRows removes rows equal in every column.
func DistinctRows[T comparable](rows []T) []T {
	return Distinct(rows, func(r T) T { return r })
}

// Songs projects the tracks dimension from catalog records.
func Songs(recs []records.CatalogRecord) []model.SongRow {
	rows := make([]model.SongRow, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, model.SongRow{
			TrackID:  r.TrackID,
			Title:    r.Title,
			ArtistID: r.ArtistID,
			Year:     r.Year,
			Duration: r.Duration,
		})
	}
	return DistinctRows(rows)
}

type artistKey struct {
	id, name, location string
	lat, lon           float64
	hasLat, hasLon     bool
}

func keyOfArtist(r model.ArtistRow) artistKey {
	k := artistKey{id: r.ArtistID, name: r.Name, location: r.Location}
	if r.Latitude != nil {
		k.lat, k.hasLat = *r.Latitude, true
	}
	if r.Longitude != nil {
		k.lon, k.hasLon = *r.Longitude, true
	}
	return k
}

// Artists projects the artists dimension from catalog records. Missing coordinates
// compare equal to each other.
func Artists(recs []records.CatalogRecord) []model.ArtistRow {
	rows := make([]model.ArtistRow, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, model.ArtistRow{
			ArtistID:  r.ArtistID,
			Name:      r.ArtistName,
			Location:  r.ArtistLocation,
			Latitude:  r.ArtistLatitude,
			Longitude: r.ArtistLongitude,
		})
	}
	return Distinct(rows, keyOfArtist)
}

// Plays keeps only song-play events.
func Plays(events []records.EventRecord) []records.EventRecord {
	out := make([]records.EventRecord, 0, len(events))
	for _, e := range events {
		if e.IsPlay() {
			out = append(out, e)
		}
	}
	return out
}

// Users projects the users dimension from play events.
func Users(plays []records.EventRecord) []model.UserRow {
	rows := make([]model.UserRow, 0, len(plays))
	for _, e := range plays {
		rows = append(rows, model.UserRow{
			UserID:            e.UserID.String(),
			FirstName:         e.FirstName,
			LastName:          e.LastName,
			Gender:            e.Gender,
			SubscriptionLevel: e.Level,
		})
	}
	return DistinctRows(rows)
}

// Times derives the time dimension from play events.
func Times(plays []records.EventRecord, loc *time.Location) []model.TimeRow {
	rows := make([]model.TimeRow, 0, len(plays))
	for _, e := range plays {
		rows = append(rows, Calendar(e.TS, loc))
	}
	return DistinctRows(rows)
}
