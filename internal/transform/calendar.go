package transform

import (
	"time"

	"github.com/Xiaobaiq-q/DataLake/internal/model"
)

// StartSeconds converts epoch milliseconds to whole epoch seconds, rounding down.
func StartSeconds(tsMillis int64) int64 {
	sec := tsMillis / 1000
	if tsMillis%1000 < 0 {
		sec--
	}
	return sec
}

// StartTime returns the play start in loc, truncated to the second.
func StartTime(tsMillis int64, loc *time.Location) time.Time {
	return time.Unix(StartSeconds(tsMillis), 0).In(loc)
}

// Calendar derives the time dimension row for an event timestamp. Every field comes
// from the same truncated second.
func Calendar(tsMillis int64, loc *time.Location) model.TimeRow {
	t := StartTime(tsMillis, loc)
	_, week := t.ISOWeek()

	return model.TimeRow{
		StartTime: t.UnixMilli(),
		Hour:      int32(t.Hour()),
		Day:       int32(t.Day()),
		Week:      int32(week),
		Month:     int32(t.Month()),
		Year:      int32(t.Year()),
		Weekday:   int32(t.Weekday()) + 1,
	}
}
