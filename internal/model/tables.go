// Package model declares the star-schema tables written to the lake.
package model

import "time"

// Table names. Each table is written to "<name>.parquet" under the output root.
const (
	TableSongs     = "songs"
	TableArtists   = "artists"
	TableUsers     = "users"
	TableTimes     = "times"
	TableSongplays = "songplays"
)

// SongRow is the tracks dimension.
type SongRow struct {
	TrackID  string  `parquet:"name=track_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Title    string  `parquet:"name=title, type=BYTE_ARRAY, convertedtype=UTF8"`
	ArtistID string  `parquet:"name=artist_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Year     int32   `parquet:"name=year, type=INT32"`
	Duration float64 `parquet:"name=duration, type=DOUBLE"`
}

func (SongRow) TableName() string { return TableSongs }

// SongFileRow is the part of a SongRow stored inside a year=/artist_id= partition
// directory. The partition columns live in the path only.
type SongFileRow struct {
	TrackID  string  `parquet:"name=track_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Title    string  `parquet:"name=title, type=BYTE_ARRAY, convertedtype=UTF8"`
	Duration float64 `parquet:"name=duration, type=DOUBLE"`
}

func (r SongRow) FileRow() SongFileRow {
	return SongFileRow{TrackID: r.TrackID, Title: r.Title, Duration: r.Duration}
}

// ArtistRow is the artists dimension. Coordinates are missing for most artists.
type ArtistRow struct {
	ArtistID  string   `parquet:"name=artist_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name      string   `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Location  string   `parquet:"name=location, type=BYTE_ARRAY, convertedtype=UTF8"`
	Latitude  *float64 `parquet:"name=latitude, type=DOUBLE, repetitiontype=OPTIONAL"`
	Longitude *float64 `parquet:"name=longitude, type=DOUBLE, repetitiontype=OPTIONAL"`
}

func (ArtistRow) TableName() string { return TableArtists }

// UserRow is the users dimension.
type UserRow struct {
	UserID            string `parquet:"name=user_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	FirstName         string `parquet:"name=first_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastName          string `parquet:"name=last_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Gender            string `parquet:"name=gender, type=BYTE_ARRAY, convertedtype=UTF8"`
	SubscriptionLevel string `parquet:"name=subscription_level, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func (UserRow) TableName() string { return TableUsers }

// TimeRow is the time dimension. StartTime is epoch milliseconds with the sub-second
// part dropped; the calendar fields are in the configured zone.
type TimeRow struct {
	StartTime int64 `parquet:"name=start_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Hour      int32 `parquet:"name=hour, type=INT32"`
	Day       int32 `parquet:"name=day, type=INT32"`
	Week      int32 `parquet:"name=week, type=INT32"`
	Month     int32 `parquet:"name=month, type=INT32"`
	Year      int32 `parquet:"name=year, type=INT32"`
	// Weekday is 1 for Sunday through 7 for Saturday.
	Weekday int32 `parquet:"name=weekday, type=INT32"`
}

func (TimeRow) TableName() string { return TableTimes }

func (r TimeRow) Time() time.Time {
	return time.UnixMilli(r.StartTime)
}

// SongplayRow is the fact table.
type SongplayRow struct {
	SongplayID        int64  `parquet:"name=songplay_id, type=INT64"`
	StartTime         int64  `parquet:"name=start_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	UserID            string `parquet:"name=user_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	SubscriptionLevel string `parquet:"name=subscription_level, type=BYTE_ARRAY, convertedtype=UTF8"`
	TrackID           string `parquet:"name=track_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ArtistID          string `parquet:"name=artist_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	SessionID         int64  `parquet:"name=session_id, type=INT64"`
	Location          string `parquet:"name=location, type=BYTE_ARRAY, convertedtype=UTF8"`
	UserAgent         string `parquet:"name=user_agent, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func (SongplayRow) TableName() string { return TableSongplays }
