package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"ticket_bot/internal/model"
	"ticket_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db       *sql.DB
	document string
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, document: SeenDocument}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Load returns every event ID recorded in the seen document.
func (s *SQLite) Load(ctx context.Context) (model.SeenSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id FROM seen_events WHERE document = ?`, s.document,
	)
	if err != nil {
		return nil, &PersistenceError{Op: "load seen events", Err: err}
	}
	defer func() { _ = rows.Close() }()

	seen := model.NewSeenSet()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &PersistenceError{Op: "scan seen event", Err: err}
		}
		seen.Add(model.EventID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "load seen events", Err: err}
	}
	return seen, nil
}

// Save inserts the given IDs in one transaction. Existing rows are left untouched,
// so the stored set only ever grows.
func (s *SQLite) Save(ctx context.Context, ids model.SeenSet) error {
	if ids.Len() == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "begin tx", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO seen_events (document, event_id, seen_at) VALUES (?, ?, ?)`,
	)
	if err != nil {
		return &PersistenceError{Op: "prepare insert", Err: err}
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC().Format(timeLayout)
	for _, id := range ids.Sorted() {
		if _, err := stmt.ExecContext(ctx, s.document, string(id), now); err != nil {
			return &PersistenceError{Op: "insert seen event", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit seen events", Err: err}
	}
	return nil
}

// SubscribedRecipients returns the chats with an active subscription, oldest first.
func (s *SQLite) SubscribedRecipients(ctx context.Context) ([]model.RecipientID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id FROM recipients WHERE subscribed = 1 ORDER BY created_at, chat_id`,
	)
	if err != nil {
		return nil, &PersistenceError{Op: "query recipients", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var ids []model.RecipientID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &PersistenceError{Op: "scan recipient", Err: err}
		}
		ids = append(ids, model.RecipientID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "query recipients", Err: err}
	}
	return ids, nil
}

// Subscribe registers the chat, or re-enables an existing registration.
func (s *SQLite) Subscribe(ctx context.Context, id model.RecipientID) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients (chat_id, subscribed, created_at, updated_at) VALUES (?, 1, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET subscribed = 1, updated_at = excluded.updated_at`,
		string(id), now, now,
	)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Unsubscribe disables notifications for the chat. ErrNotFound is returned for unknown chats.
func (s *SQLite) Unsubscribe(ctx context.Context, id model.RecipientID) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET subscribed = 0, updated_at = ? WHERE chat_id = ?`,
		now, string(id),
	)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRecipient returns a single recipient by chat ID.
func (s *SQLite) GetRecipient(ctx context.Context, id model.RecipientID) (*model.Recipient, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, subscribed, created_at, updated_at FROM recipients WHERE chat_id = ?`,
		string(id),
	)

	var r model.Recipient
	var chatID, created, updated string
	var subscribed int
	err := row.Scan(&chatID, &subscribed, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan recipient: %w", err)
	}
	r.ID = model.RecipientID(chatID)
	r.Subscribed = subscribed == 1
	r.CreatedAt, _ = time.Parse(timeLayout, created)
	r.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &r, nil
}
