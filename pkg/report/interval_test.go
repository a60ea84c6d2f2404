package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedUpdater time.Time

func (u fixedUpdater) LastUpdate(ctx context.Context) (time.Time, error) {
	return time.Time(u), nil
}

type failingUpdater struct{}

func (failingUpdater) LastUpdate(ctx context.Context) (time.Time, error) {
	return time.Time{}, errors.New("metadata row missing")
}

func TestResolve_ExplicitMarkers(t *testing.T) {
	src := fixedUpdater(time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))

	iv, err := Resolve(context.Background(), src, "202608010915", "202608150000", 14)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 8, 1, 9, 15, 0, 0, time.UTC), iv.Start)
	require.Equal(t, time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC), iv.Stop)
}

func TestResolve_DaysFallback(t *testing.T) {
	last := time.Date(2026, 8, 31, 12, 7, 0, 0, time.UTC)
	src := fixedUpdater(last)

	iv, err := Resolve(context.Background(), src, "", "", 14)
	require.NoError(t, err)
	require.Equal(t, last, iv.Stop)
	require.Equal(t, last.Add(-14*24*time.Hour), iv.Start)
}

func TestResolve_SingleMarkerFallsBack(t *testing.T) {
	last := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	src := fixedUpdater(last)

	iv, err := Resolve(context.Background(), src, "202608010000", "", 7)
	require.NoError(t, err)
	require.Equal(t, last, iv.Stop)
	require.Equal(t, last.Add(-7*24*time.Hour), iv.Start)
}

func TestResolve_MalformedMarkers(t *testing.T) {
	src := fixedUpdater(time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))

	_, err := Resolve(context.Background(), src, "2026-08-01", "202608150000", 14)
	var timeErr *InvalidTimeError
	require.ErrorAs(t, err, &timeErr)
	require.Equal(t, "start", timeErr.Field)

	_, err = Resolve(context.Background(), src, "202608010000", "bogus", 14)
	require.ErrorAs(t, err, &timeErr)
	require.Equal(t, "stop", timeErr.Field)

	// With both malformed the start field wins.
	_, err = Resolve(context.Background(), src, "nope", "bogus", 14)
	require.ErrorAs(t, err, &timeErr)
	require.Equal(t, "start", timeErr.Field)
}

func TestResolve_LastUpdateError(t *testing.T) {
	_, err := Resolve(context.Background(), failingUpdater{}, "", "", 14)
	require.Error(t, err)
}

func TestFloors(t *testing.T) {
	v := time.Date(2026, 8, 31, 13, 42, 59, 123, time.UTC)
	require.Equal(t, time.Date(2026, 8, 31, 13, 0, 0, 0, time.UTC), FloorHour(v))
	require.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), FloorDay(v))
}
