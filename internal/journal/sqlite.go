package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FeanorKingofNoldor/khazad-dum/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Journal = (*SQLiteJournal)(nil)

// SQLiteJournal implements Journal backed by a SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS order_journal (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at TEXT    NOT NULL,
	order_id    TEXT    NOT NULL,
	symbol      TEXT    NOT NULL,
	action      TEXT    NOT NULL,
	quantity    INTEGER NOT NULL,
	kind        TEXT    NOT NULL,
	status      TEXT    NOT NULL,
	success     INTEGER NOT NULL,
	error       TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_journal_recorded_at
	ON order_journal (recorded_at);
`

// NewSQLiteJournal opens (or creates) the journal database at dbPath and
// ensures the schema exists.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening journal db %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// RecordOrder inserts one journal row for the result.
func (j *SQLiteJournal) RecordOrder(ctx context.Context, result domain.OrderResult) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO order_journal
			(recorded_at, order_id, symbol, action, quantity, kind, status, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		result.OrderID,
		result.Symbol,
		string(result.Action),
		result.Quantity,
		string(result.Kind),
		string(result.Status),
		boolInt(result.Success),
		result.Error,
	)
	if err != nil {
		return fmt.Errorf("journaling order %s: %w", result.OrderID, err)
	}
	return nil
}

// ListRecent returns up to limit entries, newest first.
func (j *SQLiteJournal) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, recorded_at, order_id, symbol, action, quantity, kind, status, success, error
		FROM order_journal
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing journal entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			recorded string
			success  int
		)
		if err := rows.Scan(&e.ID, &recorded, &e.OrderID, &e.Symbol, &e.Action,
			&e.Quantity, &e.Kind, &e.Status, &success, &e.Error); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		e.RecordedAt, _ = time.Parse(time.RFC3339Nano, recorded)
		e.Success = success != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
