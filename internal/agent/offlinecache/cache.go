// Package offlinecache is the device agent's durable local queue: one
// struct wrapping *sql.DB with an inline CREATE TABLE IF NOT EXISTS
// migration, backing two tables: pending_events and cached_rules.
package offlinecache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	payload TEXT NOT NULL,
	event_type TEXT NOT NULL CHECK (event_type IN ('usage_event', 'heartbeat')),
	created_at TIMESTAMP NOT NULL,
	synced BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_pending_events_synced ON pending_events(synced, id);

CREATE TABLE IF NOT EXISTS cached_rules (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	rules_json TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// EventType distinguishes the two kinds of queued payload.
type EventType string

const (
	EventUsageEvent EventType = "usage_event"
	EventHeartbeat  EventType = "heartbeat"
)

// PendingEvent is one unsynced queued payload.
type PendingEvent struct {
	ID        int64
	Payload   json.RawMessage
	EventType EventType
	CreatedAt time.Time
}

// Cache is the device agent's offline queue, backed by a local SQLite
// file under the agent's config directory.
type Cache struct {
	db *sql.DB
}

// Open opens (and migrates) the offline cache database at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("offlinecache: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("offlinecache: migrate: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// QueueUsageEvent enqueues a usage-event payload.
func (c *Cache) QueueUsageEvent(ctx context.Context, payload any) error {
	return c.queue(ctx, EventUsageEvent, payload)
}

// QueueHeartbeat enqueues a heartbeat payload.
func (c *Cache) QueueHeartbeat(ctx context.Context, payload any) error {
	return c.queue(ctx, EventHeartbeat, payload)
}

func (c *Cache) queue(ctx context.Context, eventType EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("offlinecache: encode payload: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO pending_events (payload, event_type, created_at, synced) VALUES (?, ?, ?, 0)`,
		string(data), eventType, time.Now().UTC())
	return err
}

// GetPendingEvents returns up to limit unsynced events, oldest first.
func (c *Cache) GetPendingEvents(ctx context.Context, limit int) ([]PendingEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, payload, event_type, created_at FROM pending_events
		 WHERE synced = 0 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingEvent
	for rows.Next() {
		var e PendingEvent
		var payload string
		if err := rows.Scan(&e.ID, &payload, &e.EventType, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkSynced marks a single event as synced.
func (c *Cache) MarkSynced(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx, `UPDATE pending_events SET synced = 1 WHERE id = ?`, id)
	return err
}

// MarkSyncedBatch marks multiple events as synced in one transaction.
func (c *Cache) MarkSyncedBatch(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE pending_events SET synced = 1 WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PendingCount returns the number of unsynced events.
func (c *Cache) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_events WHERE synced = 0`).Scan(&count)
	return count, err
}

// CacheRules upserts the last successful rules/current response.
func (c *Cache) CacheRules(ctx context.Context, rules any) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("offlinecache: encode rules: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cached_rules (id, rules_json, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET rules_json = excluded.rules_json, updated_at = excluded.updated_at`,
		string(data), time.Now().UTC())
	return err
}

// GetCachedRules returns the last cached rules document, or nil if none
// has ever been cached.
func (c *Cache) GetCachedRules(ctx context.Context) (json.RawMessage, error) {
	var rulesJSON string
	err := c.db.QueryRowContext(ctx, `SELECT rules_json FROM cached_rules WHERE id = 1`).Scan(&rulesJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(rulesJSON), nil
}

// Cleanup deletes synced rows older than the given number of days.
func (c *Cache) Cleanup(ctx context.Context, days int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	_, err := c.db.ExecContext(ctx, `DELETE FROM pending_events WHERE synced = 1 AND created_at < ?`, cutoff)
	return err
}
