// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typed

import (
	"fmt"
	"regexp"
	"time"
)

// bareTimestampPattern matches a timestamp with no timezone offset. Such
// values are interpreted as UTC unless local wall-clock handling was asked
// for.
var bareTimestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}`)

// FormatTimestamp renders t in the protocol's timestamp form,
// "YYYY-MM-DD HH:MM:SS[.fff]". The fractional part is emitted only when
// nonzero, zero-padded to three digits. The fields are taken from UTC, or
// from local wall-clock time when local is true.
func FormatTimestamp(t time.Time, local bool) string {
	if local {
		t = t.Local()
	} else {
		t = t.UTC()
	}
	s := t.Format("2006-01-02 15:04:05")
	if ms := t.Nanosecond() / int(time.Millisecond); ms != 0 {
		s += fmt.Sprintf(".%03d", ms)
	}
	return s
}

// timestampLayouts covers the value shapes the service returns for the
// date/time column family, with and without fractional seconds or an
// explicit offset.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp converts a decoded date/time column string back into a
// time.Time, using the same UTC/local convention as FormatTimestamp: a bare
// timestamp with no offset is forced to UTC unless local is true.
func ParseTimestamp(s string, local bool) (time.Time, error) {
	loc := time.UTC
	if local {
		loc = time.Local
	} else if !bareTimestampPattern.MatchString(s) && !datePattern.MatchString(s) {
		// Values carrying their own offset parse under it regardless of loc.
		loc = time.Local
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a timestamp", s)
}
