// Package eventlog persists committed engine events to an append-only SQLite
// journal so observers can replay history after a restart.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Shared with the indexer's GORM dialector; a second "sqlite" driver
	// registration in the same binary panics at init.
	_ "github.com/glebarez/go-sqlite"

	"escrowd/core/events"
	"escrowd/core/types"
)

// Entry is one journaled event.
type Entry struct {
	Sequence    int64
	Type        string
	AgreementID string
	Payload     map[string]string
	CreatedAt   time.Time
}

// Event converts the entry back into the engine payload.
func (e Entry) Event() *types.Event {
	attrs := make(map[string]string, len(e.Payload))
	for k, v := range e.Payload {
		attrs[k] = v
	}
	return &types.Event{Type: e.Type, Attributes: attrs}
}

// Journal is a SQLite backed events.Emitter.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open creates or opens the journal at path. ":memory:" keeps it in RAM.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps in-memory databases shared and serialises writes.
	db.SetMaxOpenConns(1)
	journal := &Journal{db: db, logger: slog.Default(), now: time.Now}
	if err := journal.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return journal, nil
}

func (j *Journal) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY AUTOINCREMENT,
            type TEXT NOT NULL,
            agreement_id TEXT,
            payload TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS events_agreement ON events(agreement_id, sequence);`,
		`CREATE TABLE IF NOT EXISTS event_cursors (
            name TEXT PRIMARY KEY,
            value INTEGER NOT NULL
        );`,
	}
	for _, stmt := range schema {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("eventlog: init schema: %w", err)
		}
	}
	return nil
}

// SetLogger replaces the logger used to report failed appends from Emit.
func (j *Journal) SetLogger(logger *slog.Logger) {
	if logger != nil {
		j.logger = logger
	}
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Emit implements events.Emitter. Append failures are logged because the
// emitter contract has no error path; the engine state is already committed.
func (j *Journal) Emit(evt events.Event) {
	payload, ok := evt.(*types.Event)
	if !ok || payload == nil {
		return
	}
	if _, err := j.Append(context.Background(), payload); err != nil {
		j.logger.Error("event journal append failed",
			slog.String("type", payload.Type),
			slog.String("error", err.Error()))
	}
}

// Append stores evt and returns its sequence number.
func (j *Journal) Append(ctx context.Context, evt *types.Event) (int64, error) {
	if evt == nil {
		return 0, fmt.Errorf("eventlog: nil event")
	}
	const stmt = `INSERT INTO events(type, agreement_id, payload, created_at) VALUES (?, ?, ?, ?)`
	payloadJSON, err := json.Marshal(evt.Attributes)
	if err != nil {
		return 0, err
	}
	var agreementID sql.NullString
	if id := evt.Attr("id"); id != "" {
		agreementID = sql.NullString{String: id, Valid: true}
	}
	res, err := j.db.ExecContext(ctx, stmt, evt.Type, agreementID, string(payloadJSON), j.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("eventlog: append: %w", err)
	}
	return res.LastInsertId()
}

// List returns up to limit entries with a sequence greater than after.
func (j *Journal) List(ctx context.Context, after int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT sequence, type, agreement_id, payload, created_at FROM events WHERE sequence > ? ORDER BY sequence ASC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, query, after, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// ListByAgreement returns every entry referencing the agreement in order.
func (j *Journal) ListByAgreement(ctx context.Context, id uint64) ([]Entry, error) {
	const query = `SELECT sequence, type, agreement_id, payload, created_at FROM events WHERE agreement_id = ? ORDER BY sequence ASC`
	rows, err := j.db.QueryContext(ctx, query, fmt.Sprintf("%d", id))
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			entry       Entry
			agreementID sql.NullString
			payload     string
		)
		if err := rows.Scan(&entry.Sequence, &entry.Type, &agreementID, &payload, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.AgreementID = agreementID.String
		if err := json.Unmarshal([]byte(payload), &entry.Payload); err != nil {
			return nil, fmt.Errorf("eventlog: decode payload %d: %w", entry.Sequence, err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Replay forwards every entry after the given sequence to dst in order and
// returns the last sequence delivered.
func (j *Journal) Replay(ctx context.Context, after int64, dst events.Emitter) (int64, error) {
	last := after
	for {
		batch, err := j.List(ctx, last, 500)
		if err != nil {
			return last, err
		}
		if len(batch) == 0 {
			return last, nil
		}
		for _, entry := range batch {
			dst.Emit(entry.Event())
			last = entry.Sequence
		}
	}
}

// Cursor returns the stored position of a named consumer.
func (j *Journal) Cursor(ctx context.Context, name string) (int64, error) {
	const query = `SELECT value FROM event_cursors WHERE name = ?`
	row := j.db.QueryRowContext(ctx, query, name)
	var value int64
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return value, nil
}

// SetCursor stores the position of a named consumer.
func (j *Journal) SetCursor(ctx context.Context, name string, sequence int64) error {
	const stmt = `INSERT INTO event_cursors(name, value) VALUES(?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value`
	_, err := j.db.ExecContext(ctx, stmt, name, sequence)
	return err
}
