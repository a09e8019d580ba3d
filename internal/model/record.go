package model

import (
	"fmt"
	"time"
)

const (
	FieldID        = "id"
	FieldUpdatedAt = "updated_at"
)

// Record is a generic entity row (profile, campaign, proxy, ...).
type Record map[string]any

func (r Record) ID() string {
	switch v := r[FieldID].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// UpdatedAt parses the updated_at field. ok is false when it is missing or
// unparsable.
func (r Record) UpdatedAt() (time.Time, bool) {
	switch v := r[FieldUpdatedAt].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := ParseTimestamp(v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp accepts RFC3339 and the common SQL datetime layouts.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatTimestamp renders t the way records carry timestamps.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
