// Package sqlite implements core.ConversationStore on an embedded SQLite
// database using the pure-Go modernc.org/sqlite driver. Tool-call records
// and exchange metrics are stored as a JSON meta column alongside the turn
// content, keeping the schema stable as instrumentation evolves.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/parleyhq/parley/core"
)

// Store is a durable ConversationStore backed by a SQLite file (or
// ":memory:" for tests).
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at dsn and ensures the
// schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// The driver serializes access per connection; a single connection avoids
	// SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation (
			id                TEXT    PRIMARY KEY,
			title             TEXT    NOT NULL DEFAULT '',
			model             TEXT    NOT NULL DEFAULT '',
			message_count     INTEGER NOT NULL DEFAULT 0,
			active            INTEGER NOT NULL DEFAULT 0,
			linked_context_id TEXT    NOT NULL DEFAULT '',
			created_ts        INTEGER NOT NULL,
			updated_ts        INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS turn (
			id              TEXT    PRIMARY KEY,
			conversation_id TEXT    NOT NULL REFERENCES conversation(id) ON DELETE CASCADE,
			role            TEXT    NOT NULL,
			content         TEXT    NOT NULL,
			meta            TEXT    NOT NULL DEFAULT '{}',
			created_ts      INTEGER NOT NULL,
			seq             INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turn_conversation ON turn(conversation_id, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// CreateConversation persists a new conversation record.
func (s *Store) CreateConversation(ctx context.Context, conv *core.Conversation) error {
	stmt := `INSERT INTO conversation (id, title, model, message_count, active, linked_context_id, created_ts, updated_ts)
	         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	created := conv.Created
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, stmt,
		conv.ID, conv.Title, conv.Model, conv.MessageCount, boolToInt(conv.Active),
		conv.LinkedContextID, created.UnixMilli(), created.UnixMilli(),
	)
	return err
}

// GetConversation returns the conversation or (nil, nil) when unknown.
func (s *Store) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	stmt := `SELECT id, title, model, message_count, active, linked_context_id, created_ts, updated_ts
	         FROM conversation WHERE id = ?`
	var (
		conv    core.Conversation
		active  int
		created int64
		updated int64
	)
	err := s.db.QueryRowContext(ctx, stmt, id).Scan(
		&conv.ID, &conv.Title, &conv.Model, &conv.MessageCount, &active,
		&conv.LinkedContextID, &created, &updated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	conv.Active = active != 0
	conv.Created = time.UnixMilli(created)
	conv.Updated = time.UnixMilli(updated)
	return &conv, nil
}

// CreateTurn persists a turn, assigning an id when the turn carries none.
func (s *Store) CreateTurn(ctx context.Context, turn *core.Turn) (string, error) {
	id := turn.ID
	if id == "" {
		id = core.NewID()
	}
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	meta, err := json.Marshal(turn.Meta)
	if err != nil {
		return "", fmt.Errorf("encode turn meta: %w", err)
	}
	stmt := `INSERT INTO turn (id, conversation_id, role, content, meta, created_ts, seq)
	         VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM turn WHERE conversation_id = ?))`
	if _, err := s.db.ExecContext(ctx, stmt,
		id, turn.ConversationID, string(turn.Role), turn.Content, string(meta),
		createdAt.UnixMilli(), turn.ConversationID,
	); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateConversation applies the non-nil patch fields.
func (s *Store) UpdateConversation(ctx context.Context, id string, patch core.ConversationPatch) error {
	set, args := []string{}, []any{}
	if v := patch.Title; v != nil {
		set, args = append(set, "title = ?"), append(args, *v)
	}
	if v := patch.Model; v != nil {
		set, args = append(set, "model = ?"), append(args, *v)
	}
	if v := patch.MessageCount; v != nil {
		set, args = append(set, "message_count = ?"), append(args, *v)
	}
	if v := patch.Active; v != nil {
		set, args = append(set, "active = ?"), append(args, boolToInt(*v))
	}
	if len(set) == 0 {
		return nil
	}
	set, args = append(set, "updated_ts = ?"), append(args, time.Now().UnixMilli())
	args = append(args, id)
	stmt := fmt.Sprintf(`UPDATE conversation SET %s WHERE id = ?`, strings.Join(set, ", "))
	_, err := s.db.ExecContext(ctx, stmt, args...)
	return err
}

// ListRecentTurns returns up to limit most recent turns oldest first.
func (s *Store) ListRecentTurns(ctx context.Context, conversationID string, limit int) ([]*core.Turn, error) {
	stmt := `SELECT id, role, content, meta, created_ts FROM (
	           SELECT id, role, content, meta, created_ts, seq FROM turn
	           WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?
	         ) ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, stmt, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*core.Turn
	for rows.Next() {
		t := &core.Turn{ConversationID: conversationID}
		var role, meta string
		var created int64
		if err := rows.Scan(&t.ID, &role, &t.Content, &meta, &created); err != nil {
			return nil, err
		}
		t.Role = core.Role(role)
		t.CreatedAt = time.UnixMilli(created)
		if err := json.Unmarshal([]byte(meta), &t.Meta); err != nil {
			return nil, fmt.Errorf("decode turn meta: %w", err)
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
