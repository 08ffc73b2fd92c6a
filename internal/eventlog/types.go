package eventlog

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidFilter is returned by Query for malformed filters.
var ErrInvalidFilter = errors.New("eventlog: invalid filter")

// Severity classifies an entry.
type Severity string

// Severities.
const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// AllSeverities returns every severity.
func AllSeverities() []Severity {
	return []Severity{SeverityInfo, SeverityWarning, SeverityError}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// Entry is an immutable log record. DeviceID is a weak reference: the
// device may have been deleted since.
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	DeviceID  string    `json:"deviceId,omitempty"`
}

// Info builds an info entry for Append.
func Info(deviceID, format string, args ...any) Entry {
	return Entry{Severity: SeverityInfo, DeviceID: deviceID, Message: fmt.Sprintf(format, args...)}
}

// Warning builds a warning entry for Append.
func Warning(deviceID, format string, args ...any) Entry {
	return Entry{Severity: SeverityWarning, DeviceID: deviceID, Message: fmt.Sprintf(format, args...)}
}

// Filter selects entries for Query. Zero values match everything.
type Filter struct {
	Severities []Severity
	DeviceID   string
	Since      time.Time // inclusive
	Until      time.Time // inclusive
	Reverse    bool      // newest first
	Limit      int       // 0 means no limit
	Offset     int
}

// Validate checks the filter.
func (f Filter) Validate() error {
	for _, s := range f.Severities {
		if !s.Valid() {
			return fmt.Errorf("%w: unknown severity %q", ErrInvalidFilter, s)
		}
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return fmt.Errorf("%w: until is before since", ErrInvalidFilter)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidFilter)
	}
	return nil
}

// Match reports whether e passes the filter's predicates (ignoring paging).
func (f Filter) Match(e Entry) bool {
	if len(f.Severities) > 0 {
		ok := false
		for _, s := range f.Severities {
			if e.Severity == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.DeviceID != "" && e.DeviceID != f.DeviceID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}
