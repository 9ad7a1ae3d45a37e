package ingest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Layouts accepted for a combined date and time-of-day, tried in order.
var dateTimeLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04",
	"2006/01/02 15:04:05",
	"2006-01-02 3:04 PM",
	"2006-01-02 3:04PM",
}

// Notations reported back in a TimeParseError.
const (
	LayoutDateTime = "YYYY-MM-DD HH:mm"
	LayoutMarkup   = "YYYY/MM/DD with HH:mm times"
	LayoutRange    = "YYYY-MM-DD with an HH:mm-HH:mm range"
)

var zoneCache sync.Map // zone name -> *time.Location

// LoadZone resolves an IANA zone name, caching the result.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("time zone is required")
	}
	if loc, ok := zoneCache.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q: %w", name, err)
	}
	zoneCache.Store(name, loc)
	return loc, nil
}

// Resolve combines a date and a time-of-day into an instant in loc.
// context is carried into the error to identify the offending record.
func Resolve(date, clock string, loc *time.Location, context string) (time.Time, error) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" || clock == "" {
		return time.Time{}, &TimeParseError{Date: date, Time: clock, Zone: loc.String(), Context: context,
			Err: fmt.Errorf("date and time are both required")}
	}
	return resolve(date, clock, date+" "+clock, loc, context)
}

// ResolveDateTime parses a single "date time" value in loc.
// A value carrying its own offset (RFC 3339) keeps that offset.
func ResolveDateTime(value string, loc *time.Location, context string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return resolve(value, "", value, loc, context)
}

// ResolveRange splits a "HH:mm-HH:mm" range and resolves both ends on date.
func ResolveRange(date, rangeStr string, loc *time.Location, context string) (time.Time, time.Time, error) {
	parts := strings.Split(rangeStr, "-")
	if len(parts) < 2 {
		return time.Time{}, time.Time{}, &TimeParseError{Date: date, Time: rangeStr, Zone: loc.String(), Context: context,
			Layout: LayoutRange, Err: fmt.Errorf("expected a range like 09:00-10:30")}
	}
	start, err := Resolve(date, parts[0], loc, context)
	if err != nil {
		return time.Time{}, time.Time{}, withLayout(err, LayoutRange)
	}
	end, err := Resolve(date, parts[1], loc, context)
	if err != nil {
		return time.Time{}, time.Time{}, withLayout(err, LayoutRange)
	}
	return start, end, nil
}

func resolve(date, clock, value string, loc *time.Location, context string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &TimeParseError{Date: date, Time: clock, Zone: loc.String(), Context: context}
}

// withLayout sets the expected notation on a TimeParseError inside err.
func withLayout(err error, layout string) error {
	var tpe *TimeParseError
	if errors.As(err, &tpe) {
		tpe.Layout = layout
	}
	return err
}

// checkOrder enforces start <= end for a single scheduled occurrence.
func checkOrder(start, end time.Time, subject string) error {
	if end.Before(start) {
		return consistencyf([]string{subject},
			"start must be before end for %q (found start %s, end %s)",
			subject, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return nil
}
