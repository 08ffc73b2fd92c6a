package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed-width so that text comparison in SQL orders correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteSink stores entries in the event_log table.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink creates a sink over an open, migrated database.
func NewSQLiteSink(db *sql.DB) *SQLiteSink {
	return &SQLiteSink{db: db}
}

// Write inserts one entry.
func (s *SQLiteSink) Write(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_log (id, timestamp, severity, message, device_id)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.Timestamp), string(e.Severity), e.Message, nullableString(e.DeviceID),
	)
	if err != nil {
		return fmt.Errorf("inserting event log entry: %w", err)
	}
	return nil
}

// Recent returns the newest limit entries, oldest first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, severity, message, device_id
		 FROM event_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Query returns entries matching f.
func (s *SQLiteSink) Query(ctx context.Context, f Filter) ([]Entry, error) {
	var conditions []string
	var args []any

	if len(f.Severities) > 0 {
		placeholders := make([]string, len(f.Severities))
		for i, sev := range f.Severities {
			placeholders[i] = "?"
			args = append(args, string(sev))
		}
		conditions = append(conditions, "severity IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, formatTime(f.Until))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	order := "ASC"
	if f.Reverse {
		order = "DESC"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, timestamp, severity, message, device_id FROM event_log %s ORDER BY timestamp %s, id %s LIMIT ? OFFSET ?",
		where, order, order,
	)
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying event log: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Prune deletes entries older than before.
func (s *SQLiteSink) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM event_log WHERE timestamp < ?", formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("deleting old entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted entries: %w", err)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts, severity string
		var deviceID sql.NullString

		if err := rows.Scan(&e.ID, &ts, &severity, &e.Message, &deviceID); err != nil {
			return nil, fmt.Errorf("scanning event log entry: %w", err)
		}

		t, err := time.Parse(timeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing event log timestamp %q: %w", ts, err)
		}
		e.Timestamp = t
		e.Severity = Severity(severity)
		if deviceID.Valid {
			e.DeviceID = deviceID.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event log: %w", err)
	}
	return entries, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// nullableString returns nil for empty strings so the column stores NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
