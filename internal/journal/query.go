package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one stored journal event.
type Entry struct {
	ID          int64
	Time        time.Time
	BootID      string
	DeviceID    string
	Kind        string
	Temperature *float64
	Humidity    *float64
	Message     string
	Payload     string
	Delivered   *bool
}

// Options selects which events to read.
type Options struct {
	StartID int64
	EndID   int64
	Kind    string
	BootID  string
	// Limit keeps only the newest Limit matching events.
	Limit int
}

// ReadSQLite returns matching events from the journal at path, oldest first.
func ReadSQLite(ctx context.Context, path string, opts Options) ([]Entry, error) {
	if path == "" {
		return nil, errors.New("journal: database path must be provided")
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("journal: stat database: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}
	defer db.Close()

	query, args := buildQuery(opts)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query journal_events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry     Entry
			ts        float64
			temp      sql.NullFloat64
			hum       sql.NullFloat64
			message   sql.NullString
			payload   sql.NullString
			delivered sql.NullInt64
		)
		if err := rows.Scan(&entry.ID, &ts, &entry.BootID, &entry.DeviceID, &entry.Kind, &temp, &hum, &message, &payload, &delivered); err != nil {
			return entries, fmt.Errorf("journal: scan row: %w", err)
		}
		entry.Time = fromUnixSeconds(ts)
		entry.Message = message.String
		entry.Payload = payload.String
		if temp.Valid {
			v := temp.Float64
			entry.Temperature = &v
		}
		if hum.Valid {
			v := hum.Float64
			entry.Humidity = &v
		}
		if delivered.Valid {
			v := delivered.Int64 != 0
			entry.Delivered = &v
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return entries, fmt.Errorf("journal: iterate rows: %w", err)
	}

	// Newest-first from the LIMIT query; flip back to chronological order.
	for i, k := 0, len(entries)-1; i < k; i, k = i+1, k-1 {
		entries[i], entries[k] = entries[k], entries[i]
	}
	return entries, nil
}

func buildQuery(opts Options) (string, []any) {
	query := `SELECT id, timestamp, boot_id, device_id, kind, temperature, humidity, message, payload, delivered FROM journal_events WHERE 1=1`

	args := make([]any, 0, 5)
	if opts.StartID > 0 {
		query += ` AND id >= ?`
		args = append(args, opts.StartID)
	}
	if opts.EndID > 0 {
		query += ` AND id <= ?`
		args = append(args, opts.EndID)
	}
	if opts.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, opts.Kind)
	}
	if opts.BootID != "" {
		query += ` AND boot_id = ?`
		args = append(args, opts.BootID)
	}

	query += ` ORDER BY id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	return query, args
}
