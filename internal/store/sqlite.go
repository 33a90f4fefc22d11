package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/revdeluxe/HDE/pkg/lora"
)

// DefaultQueryTimeout bounds every statement issued through the lora.MessageLog methods.
const DefaultQueryTimeout = 5 * time.Second

var _ lora.MessageLog = &SQLiteLog{}

// SQLiteLog is a lora.MessageLog persisted in SQLite.
type SQLiteLog struct {
	QueryTimeout time.Duration

	db *sql.DB
}

// NewSQLiteLog opens or creates the database at dbPath.
// If dbPath is empty, defaults to "./data/hde.db"
func NewSQLiteLog(ctx context.Context, dbPath string) (*SQLiteLog, error) {
	if dbPath == "" {
		dbPath = "./data/hde.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// Status updates read then write; a single connection keeps them serialized.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteLog{QueryTimeout: DefaultQueryTimeout, db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteLog) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		text TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		origin TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_order ON messages(timestamp, id);
	CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteLog) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteLog) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteLog) Add(msg lora.Message) (bool, error) {
	ctx, cancel := s.context()
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (id, sender, text, timestamp, origin, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.Sender, msg.Text, msg.Timestamp, msg.Origin, string(msg.Status))
	if err != nil {
		return false, fmt.Errorf("failed to insert message %s: %w", msg.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteLog) Get(id string) (lora.Message, bool, error) {
	ctx, cancel := s.context()
	defer cancel()

	msg, err := scanMessage(s.db.QueryRowContext(ctx, `
		SELECT id, sender, text, timestamp, origin, status
		FROM messages WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lora.Message{}, false, nil
		}
		return lora.Message{}, false, err
	}
	return msg, true, nil
}

func (s *SQLiteLog) All() ([]lora.Message, error) {
	ctx, cancel := s.context()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, text, timestamp, origin, status
		FROM messages ORDER BY timestamp, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []lora.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (s *SQLiteLog) SetStatus(id string, status lora.Status) error {
	ctx, cancel := s.context()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM messages WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return lora.ErrMessageNotFound
	}
	if err != nil {
		return err
	}

	from := lora.Status(current)
	if !from.CanAdvance(status) {
		return fmt.Errorf("%s -> %s: %w", from, status, lora.ErrStatusRegression)
	}
	if from == status {
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE messages SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now(), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (lora.Message, error) {
	var msg lora.Message
	var status string
	err := row.Scan(&msg.ID, &msg.Sender, &msg.Text, &msg.Timestamp, &msg.Origin, &status)
	msg.Status = lora.Status(status)
	return msg, err
}

func (s *SQLiteLog) context() (context.Context, context.CancelFunc) {
	timeout := s.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}
