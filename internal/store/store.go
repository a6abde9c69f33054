// Package store persists imported messages in SQLite so repeated imports
// of overlapping exports converge on one row per message. Replacing a row
// follows the same backfill rule as message.Collection.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/thephm/sms-backup-md/internal/message"
	"github.com/thephm/sms-backup-md/internal/mime"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the message database.
type Store struct {
	db *sql.DB
}

// Run describes one import of an export file.
type Run struct {
	ID         string
	SourcePath string
	StartedAt  time.Time
	FinishedAt time.Time
	Records    int
	Accepted   int
	Rejected   int
	Replaced   int
}

// NewRun starts a run record for sourcePath.
func NewRun(sourcePath string) Run {
	return Run{
		ID:         uuid.New().String(),
		SourcePath: sourcePath,
		StartedAt:  time.Now(),
	}
}

// SaveResult counts rows touched by SaveRun.
type SaveResult struct {
	Created int
	Updated int
}

// Open opens (creating if needed) the database at path. driver is "sqlite"
// for the pure Go driver or "sqlite3" for the cgo one.
func Open(driver, path string) (*Store, error) {
	if driver == "" {
		driver = "sqlite"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps pragmas and :memory: databases consistent.
	db.SetMaxOpenConns(1)

	// WAL allows concurrent readers while a writer is active.
	// busy_timeout reduces SQLITE_BUSY errors under contention.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// messageKey identifies a message across runs: the export id when present,
// otherwise a content hash so re-importing a cumulative export converges.
func messageKey(m *message.Message) string {
	if m.ID != "" {
		return "id:" + m.ID
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%s|%s", m.Kind, m.Timestamp, m.PhoneNumber, m.FromSlug, m.Body)))
	return "sum:" + hex.EncodeToString(sum[:])
}

// SaveRun records run and upserts msgs in one transaction. A message whose
// key is already stored updates that row, keeping the stored body, group
// and attachments when the newcomer has none of its own.
func (s *Store) SaveRun(ctx context.Context, run Run, msgs []*message.Message) (SaveResult, error) {
	var out SaveResult
	if run.ID == "" {
		return out, fmt.Errorf("run id is required")
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return out, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO import_runs (id, source_path, started_at, finished_at, records, accepted, rejected, replaced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.SourcePath, run.StartedAt.Unix(), run.FinishedAt.Unix(),
		run.Records, run.Accepted, run.Rejected, run.Replaced); err != nil {
		return out, fmt.Errorf("failed to record import run: %w", err)
	}

	insMsg, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO messages (
			key, message_id, run_id, seq, kind, phone_number, timestamp, body, from_slug, group_slug
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return out, err
	}
	defer insMsg.Close()

	updMsg, err := tx.PrepareContext(ctx, `
		UPDATE messages
		SET run_id = ?, seq = ?, kind = ?, phone_number = ?, timestamp = ?,
			body = COALESCE(NULLIF(?, ''), body),
			from_slug = ?,
			group_slug = COALESCE(NULLIF(?, ''), group_slug)
		WHERE key = ?
	`)
	if err != nil {
		return out, err
	}
	defer updMsg.Close()

	delRcpt, err := tx.PrepareContext(ctx, `DELETE FROM message_recipients WHERE message_key = ?`)
	if err != nil {
		return out, err
	}
	defer delRcpt.Close()

	insRcpt, err := tx.PrepareContext(ctx, `
		INSERT INTO message_recipients (message_key, position, slug) VALUES (?, ?, ?)
	`)
	if err != nil {
		return out, err
	}
	defer insRcpt.Close()

	delAtt, err := tx.PrepareContext(ctx, `DELETE FROM message_attachments WHERE message_key = ?`)
	if err != nil {
		return out, err
	}
	defer delAtt.Close()

	insAtt, err := tx.PrepareContext(ctx, `
		INSERT INTO message_attachments (message_key, position, attachment_id, type) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return out, err
	}
	defer insAtt.Close()

	for seq, m := range msgs {
		key := messageKey(m)
		var msgID any
		if m.ID != "" {
			msgID = m.ID
		}

		res, err := insMsg.ExecContext(ctx, key, msgID, run.ID, seq, m.Kind, m.PhoneNumber,
			m.Timestamp, m.Body, m.FromSlug, m.GroupSlug)
		if err != nil {
			return out, fmt.Errorf("failed to insert message %s: %w", key, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			out.Created++
		} else {
			if _, err := updMsg.ExecContext(ctx, run.ID, seq, m.Kind, m.PhoneNumber,
				m.Timestamp, m.Body, m.FromSlug, m.GroupSlug, key); err != nil {
				return out, fmt.Errorf("failed to update message %s: %w", key, err)
			}
			out.Updated++
		}

		if _, err := delRcpt.ExecContext(ctx, key); err != nil {
			return out, err
		}
		for i, slug := range m.ToSlugs {
			if _, err := insRcpt.ExecContext(ctx, key, i, slug); err != nil {
				return out, fmt.Errorf("failed to insert recipient: %w", err)
			}
		}

		if len(m.Attachments) == 0 {
			continue
		}
		if _, err := delAtt.ExecContext(ctx, key); err != nil {
			return out, err
		}
		for i, a := range m.Attachments {
			if _, err := insAtt.ExecContext(ctx, key, i, a.ID, string(a.Type)); err != nil {
				return out, fmt.Errorf("failed to insert attachment: %w", err)
			}
		}
	}

	if err := setState(ctx, tx, "last_run", run.ID); err != nil {
		return out, err
	}

	if err := tx.Commit(); err != nil {
		return out, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return out, nil
}

// Messages returns every stored message ordered by time.
func (s *Store) Messages(ctx context.Context) ([]*message.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, COALESCE(message_id, ''), kind, phone_number, timestamp, body, from_slug, group_slug
		FROM messages
		ORDER BY timestamp, run_id, seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []*message.Message
	byKey := make(map[string]*message.Message)
	for rows.Next() {
		var key string
		m := &message.Message{}
		if err := rows.Scan(&key, &m.ID, &m.Kind, &m.PhoneNumber, &m.Timestamp, &m.Body, &m.FromSlug, &m.GroupSlug); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		byKey[key] = m
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rcpts, err := s.db.QueryContext(ctx, `
		SELECT message_key, slug FROM message_recipients ORDER BY message_key, position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipients: %w", err)
	}
	defer rcpts.Close()
	for rcpts.Next() {
		var key, slug string
		if err := rcpts.Scan(&key, &slug); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		if m, ok := byKey[key]; ok {
			m.ToSlugs = append(m.ToSlugs, slug)
		}
	}
	if err := rcpts.Err(); err != nil {
		return nil, err
	}

	atts, err := s.db.QueryContext(ctx, `
		SELECT message_key, attachment_id, type FROM message_attachments ORDER BY message_key, position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer atts.Close()
	for atts.Next() {
		var key, id, typ string
		if err := atts.Scan(&key, &id, &typ); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		if m, ok := byKey[key]; ok {
			m.Attachments = append(m.Attachments, message.Attachment{ID: id, Type: mime.Kind(typ)})
		}
	}
	return out, atts.Err()
}

// LastRun returns the most recently saved run, or nil if there is none.
func (s *Store) LastRun(ctx context.Context) (*Run, error) {
	id, ok, err := s.GetState(ctx, "last_run")
	if err != nil || !ok {
		return nil, err
	}

	var r Run
	var started, finished int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id, source_path, started_at, finished_at, records, accepted, rejected, replaced
		FROM import_runs WHERE id = ?
	`, id).Scan(&r.ID, &r.SourcePath, &started, &finished, &r.Records, &r.Accepted, &r.Rejected, &r.Replaced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import run: %w", err)
	}
	r.StartedAt = time.Unix(started, 0)
	r.FinishedAt = time.Unix(finished, 0)
	return &r, nil
}
