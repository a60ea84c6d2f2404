// Package report implements the time-series attribution and rollup
// engine behind the usage and footprint reports: interval resolution,
// per-team attribution of user metrics, the per-report accumulators,
// and step-change event detection over the overall activity stream.
//
// All computation is a single sequential pass over an ordered bucket
// stream; accumulators hold no external resources and never recompute
// from scratch mid-scan.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/greenboard/hpcboard/pkg/snapshot"
)

// TimeFormat is the minute-precision layout of explicit start/stop
// query markers, identical to the bucket key format.
const TimeFormat = snapshot.KeyFormat

// InvalidTimeError reports a malformed start or stop marker, naming
// the offending query field.
type InvalidTimeError struct {
	Field string
}

func (e *InvalidTimeError) Error() string {
	return fmt.Sprintf("'%s' query parameter has an invalid time format (expected: YYYYMMDDHHMM)", e.Field)
}

// Interval is a half-open time range [Start, Stop).
type Interval struct {
	Start time.Time
	Stop  time.Time
}

// LastUpdater yields the wall-clock time of the most recent snapshot,
// the default stop marker.
type LastUpdater interface {
	LastUpdate(ctx context.Context) (time.Time, error)
}

// Resolve turns optional explicit start/stop markers and a day-count
// fallback into a concrete interval. Both markers must be given to be
// used; each is validated independently and a parse failure is
// reported against its own field. With no explicit markers, stop is
// the source's last update and start is stop minus days.
//
// The result is not floored; callers floor to hour or day boundaries
// according to the report's granularity.
func Resolve(ctx context.Context, src LastUpdater, startStr, stopStr string, days int) (Interval, error) {
	if startStr != "" && stopStr != "" {
		start, startErr := time.ParseInLocation(TimeFormat, startStr, time.UTC)
		stop, stopErr := time.ParseInLocation(TimeFormat, stopStr, time.UTC)
		if startErr != nil {
			return Interval{}, &InvalidTimeError{Field: "start"}
		}
		if stopErr != nil {
			return Interval{}, &InvalidTimeError{Field: "stop"}
		}
		return Interval{Start: start, Stop: stop}, nil
	}

	stop, err := src.LastUpdate(ctx)
	if err != nil {
		return Interval{}, fmt.Errorf("failed to resolve default stop: %w", err)
	}
	return Interval{
		Start: stop.Add(-time.Duration(days) * 24 * time.Hour),
		Stop:  stop,
	}, nil
}

// FloorHour floors t to the start of its hour.
func FloorHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// FloorDay floors t to the start of its calendar day.
func FloorDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
