// Package records declares the input schemas of the raw catalog and event-log JSON files.
package records

import (
	"encoding/json"
	"fmt"
)

// PageNextSong marks an event as a song play.
const PageNextSong = "NextSong"

// CatalogRecord is one song_data object: a single track and its artist.
type CatalogRecord struct {
	// SongID is the id used by the source dataset. TrackID is accepted as an alias and
	// wins when both are set.
	SongID          string   `json:"song_id"`
	TrackID         string   `json:"track_id" validate:"required"`
	Title           string   `json:"title" validate:"required"`
	ArtistID        string   `json:"artist_id" validate:"required"`
	ArtistName      string   `json:"artist_name"`
	ArtistLocation  string   `json:"artist_location"`
	ArtistLatitude  *float64 `json:"artist_latitude"`
	ArtistLongitude *float64 `json:"artist_longitude"`
	Year            int32    `json:"year" validate:"gte=0"`
	Duration        float64  `json:"duration" validate:"gte=0"`
	NumSongs        int      `json:"num_songs"`
}

func (r *CatalogRecord) normalize() {
	if r.TrackID == "" {
		r.TrackID = r.SongID
	}
}

// EventRecord is one log_data object: a single user interaction.
type EventRecord struct {
	Artist        string     `json:"artist"`
	Auth          string     `json:"auth"`
	FirstName     string     `json:"firstName"`
	Gender        string     `json:"gender"`
	ItemInSession int        `json:"itemInSession"`
	LastName      string     `json:"lastName"`
	Length        *float64   `json:"length"`
	Level         string     `json:"level"`
	Location      string     `json:"location"`
	Method        string     `json:"method"`
	Page          string     `json:"page" validate:"required"`
	Registration  *float64   `json:"registration"`
	SessionID     int64      `json:"sessionId"`
	Song          string     `json:"song"`
	Status        int        `json:"status"`
	TS            int64      `json:"ts" validate:"gt=0"`
	UserAgent     string     `json:"userAgent"`
	UserID        FlexString `json:"userId"`
}

func (e *EventRecord) normalize() {}

// IsPlay reports whether the event is a song play.
func (e EventRecord) IsPlay() bool {
	return e.Page == PageNextSong
}

// FlexString decodes a JSON string or number into a string. Logged-out events carry an
// empty userId string while some exports write numeric ids.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*s = FlexString(n.String())
	return nil
}

func (s FlexString) String() string { return string(s) }
