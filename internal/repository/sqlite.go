package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fathima-sithara/chat-fanout/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	username   TEXT NOT NULL,
	content    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at DESC);
CREATE TABLE IF NOT EXISTS reactions (
	message_id TEXT NOT NULL,
	room_id    TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(message_id, user_id, kind)
);
CREATE TABLE IF NOT EXISTS read_receipts (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL,
	message_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	read_at    INTEGER NOT NULL,
	UNIQUE(message_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_read_receipts_room_user ON read_receipts(room_id, user_id, read_at DESC);
`

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens path (":memory:" for a private in-memory database) and
// applies the schema.
func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer; also keeps an in-memory database on a single connection
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragma: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close(context.Context) error { return s.db.Close() }

func (s *SQLiteStore) SaveMessage(ctx context.Context, m *domain.Message) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, user_id, username, content, kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		m.MessageID, m.RoomID, m.UserID, m.Username, m.Content, string(m.Kind), m.Timestamp.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("save message %s: %w", m.MessageID, err)
	}
	return affected(res)
}

func (s *SQLiteStore) EnsureRoom(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		roomID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("ensure room %s: %w", roomID, err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, roomID string, before time.Time, limit int) ([]*domain.Message, error) {
	if before.IsZero() {
		before = time.Now()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, user_id, username, content, kind, created_at
		 FROM messages WHERE room_id = ? AND created_at < ?
		 ORDER BY created_at DESC LIMIT ?`,
		roomID, before.UnixMilli(), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", roomID, err)
	}
	defer rows.Close()

	out := []*domain.Message{}
	for rows.Next() {
		var (
			m    domain.Message
			kind string
			ts   int64
		)
		if err := rows.Scan(&m.MessageID, &m.RoomID, &m.UserID, &m.Username, &m.Content, &kind, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Kind = domain.MessageKind(kind)
		m.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddReaction(ctx context.Context, r *domain.Reaction) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reactions (message_id, room_id, user_id, kind, created_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT(message_id, user_id, kind) DO NOTHING`,
		r.MessageID, r.RoomID, r.UserID, string(r.Kind), r.Timestamp.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("add reaction %s: %w", r.MessageID, err)
	}
	return affected(res)
}

func (s *SQLiteStore) RemoveReaction(ctx context.Context, messageID, userID string, kind domain.ReactionKind) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND kind = ?`,
		messageID, userID, string(kind))
	if err != nil {
		return false, fmt.Errorf("remove reaction %s: %w", messageID, err)
	}
	return affected(res)
}

func (s *SQLiteStore) ReactionsForMessages(ctx context.Context, messageIDs []string) (map[string]domain.ReactionTally, error) {
	out := make(map[string]domain.ReactionTally)
	if len(messageIDs) == 0 {
		return out, nil
	}
	placeholders, args := inClause(messageIDs)
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, kind, user_id FROM reactions WHERE message_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("reactions for messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msgID, kind, userID string
		if err := rows.Scan(&msgID, &kind, &userID); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		tally, ok := out[msgID]
		if !ok {
			tally = domain.ReactionTally{}
			out[msgID] = tally
		}
		tally.Add(domain.ReactionKind(kind), userID)
	}
	for _, tally := range out {
		tally.Normalize()
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertReadReceipt(ctx context.Context, r *domain.ReadReceipt) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO read_receipts (id, room_id, message_id, user_id, read_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT(message_id, user_id) DO NOTHING`,
		r.EventID, r.RoomID, r.MessageID, r.UserID, r.Timestamp.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("insert read receipt %s/%s: %w", r.MessageID, r.UserID, err)
	}
	return affected(res)
}

func (s *SQLiteStore) HasRead(ctx context.Context, messageID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM read_receipts WHERE message_id = ? AND user_id = ?`, messageID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has read %s/%s: %w", messageID, userID, err)
	}
	return true, nil
}

func (s *SQLiteStore) ReadersOf(ctx context.Context, messageIDs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	if len(messageIDs) == 0 {
		return out, nil
	}
	placeholders, args := inClause(messageIDs)
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, user_id FROM read_receipts WHERE message_id IN (`+placeholders+`)
		 ORDER BY message_id, user_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("readers of messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msgID, userID string
		if err := rows.Scan(&msgID, &userID); err != nil {
			return nil, fmt.Errorf("scan reader: %w", err)
		}
		out[msgID] = append(out[msgID], userID)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountReaders(ctx context.Context, messageID string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM read_receipts WHERE message_id = ?`, messageID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count readers %s: %w", messageID, err)
	}
	return n, nil
}

func (s *SQLiteStore) LastRead(ctx context.Context, roomID, userID string) (string, bool, error) {
	var msgID string
	err := s.db.QueryRowContext(ctx,
		`SELECT message_id FROM read_receipts WHERE room_id = ? AND user_id = ?
		 ORDER BY read_at DESC, rowid DESC LIMIT 1`, roomID, userID).Scan(&msgID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("last read %s/%s: %w", roomID, userID, err)
	}
	return msgID, true, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func inClause(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}
