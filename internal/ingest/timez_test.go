package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	ny, err := LoadZone("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name  string
		date  string
		clock string
		loc   *time.Location
		want  time.Time
	}{
		{"utc", "2024-06-01", "09:00", time.UTC, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)},
		{"seconds", "2024-06-01", "09:00:30", time.UTC, time.Date(2024, 6, 1, 9, 0, 30, 0, time.UTC)},
		{"slashes", "2024/06/01", "17:45", time.UTC, time.Date(2024, 6, 1, 17, 45, 0, 0, time.UTC)},
		{"twelve hour", "2024-06-01", "2:15 PM", time.UTC, time.Date(2024, 6, 1, 14, 15, 0, 0, time.UTC)},
		{"named zone", "2024-06-01", "09:00", ny, time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)},
		{"padded", " 2024-06-01 ", " 09:00 ", time.UTC, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.date, tt.clock, tt.loc, "row 1")
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestResolve_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		date  string
		clock string
	}{
		{"garbage clock", "2024-06-01", "nine"},
		{"missing clock", "2024-06-01", ""},
		{"missing date", "", "09:00"},
		{"bad month", "2024-13-01", "09:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.date, tt.clock, time.UTC, "session \"Keynotes\"")
			var tpe *TimeParseError
			require.True(t, errors.As(err, &tpe), "want *TimeParseError, got %T", err)
			assert.Equal(t, "UTC", tpe.Zone)
			assert.Contains(t, err.Error(), "Keynotes")
			assert.Contains(t, err.Error(), "YYYY-MM-DD HH:mm")
		})
	}
}

func TestResolveDateTime(t *testing.T) {
	got, err := ResolveDateTime("2024-06-01 09:00", time.UTC, "")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)))

	// An explicit offset beats the requested zone.
	got, err = ResolveDateTime("2024-06-01T09:00:00+02:00", time.UTC, "")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC)))

	_, err = ResolveDateTime("June 1st", time.UTC, "line 3")
	var tpe *TimeParseError
	require.ErrorAs(t, err, &tpe)
	assert.Equal(t, "line 3", tpe.Context)
}

func TestResolveRange(t *testing.T) {
	start, end, err := ResolveRange("2024-06-01", "09:00-10:30", time.UTC, "")
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)))
	assert.True(t, end.Equal(time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)))

	start, end, err = ResolveRange("2024-06-01", " 13:00 - 14:00 ", time.UTC, "")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, end.Sub(start))

	_, _, err = ResolveRange("2024-06-01", "09:00", time.UTC, "session s1")
	var tpe *TimeParseError
	require.ErrorAs(t, err, &tpe)
	assert.Equal(t, "session s1", tpe.Context)
}

func TestTimeParseError_Layout(t *testing.T) {
	tests := []struct {
		name   string
		err    func() error
		layout string
	}{
		{"table value", func() error {
			_, err := ResolveDateTime("tomorrow", time.UTC, "line 2")
			return err
		}, LayoutDateTime},
		{"range without dash", func() error {
			_, _, err := ResolveRange("2024-06-01", "09:00", time.UTC, "session s1")
			return err
		}, LayoutRange},
		{"range with bad end", func() error {
			_, _, err := ResolveRange("2024-06-01", "09:00-late", time.UTC, "session s1")
			return err
		}, LayoutRange},
		{"markup slot", func() error {
			_, err := MarkupParser{}.Parse([]byte(`<event><subevent><title>S</title>
  <timeslot><title>T</title><date>2024/06/01</date><start_time>noon</start_time><end_time>13:00</end_time></timeslot></subevent></event>`), time.UTC)
			return err
		}, LayoutMarkup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.err()
			var tpe *TimeParseError
			require.ErrorAs(t, err, &tpe)
			assert.Equal(t, tt.layout == LayoutDateTime, tpe.Layout == "")
			assert.True(t, strings.HasSuffix(tpe.Error(), "use the format "+tt.layout), tpe.Error())
		})
	}
}

func TestLoadZone(t *testing.T) {
	loc, err := LoadZone("Europe/Paris")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", loc.String())

	again, err := LoadZone("Europe/Paris")
	require.NoError(t, err)
	assert.Same(t, loc, again)

	_, err = LoadZone("")
	assert.Error(t, err)
	_, err = LoadZone("Mars/Olympus_Mons")
	assert.Error(t, err)
}

func TestCheckOrder(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	assert.NoError(t, checkOrder(end, start, "Intro"))
	assert.NoError(t, checkOrder(start, start, "Intro"))

	err := checkOrder(start, end, "Intro")
	var ce *ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"Intro"}, ce.Subjects)
	msg := err.Error()
	assert.True(t, strings.Contains(msg, "2024-06-01T10:00:00Z") && strings.Contains(msg, "2024-06-01T09:00:00Z"), msg)
}
