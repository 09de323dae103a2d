package chatstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite chat store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile derives a DSN from a plain file path.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite chat store: empty path")
	}
	// WAL for concurrent readers + writer. busy_timeout to avoid transient SQLITE_BUSY.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite chat store: db is nil")
	}

	createTableStmts := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT NOT NULL PRIMARY KEY,
			topic TEXT NOT NULL,
			creator_attr TEXT NOT NULL DEFAULT '',
			desired_attr TEXT NOT NULL DEFAULT '',
			second_user_joined INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_topic_open
			ON rooms (topic, second_user_joined, active, created_at_ms);`,
		`CREATE TABLE IF NOT EXISTS messages (
			room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			session_id TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_ts
			ON messages (room_id, timestamp_ms);`,
	}
	for _, stmt := range createTableStmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "sqlite chat store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) InsertRoom(ctx context.Context, room *Room) error {
	if room == nil {
		return errors.New("sqlite chat store: nil room")
	}
	createdAt := room.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, topic, creator_attr, desired_attr, second_user_joined, active, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		room.ID, room.Topic, room.CreatorAttr, room.DesiredAttr,
		boolToInt(room.SecondUserJoined), boolToInt(room.Active), createdAt.UnixMilli(),
	)
	return errors.Wrap(err, "sqlite chat store: insert room")
}

func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*Room, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, topic, creator_attr, desired_attr, second_user_joined, active, created_at_ms
		 FROM rooms WHERE id = ?`, id)
	room, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: get room")
	}
	return room, nil
}

func (s *SQLiteStore) ListOpenRooms(ctx context.Context, topic string) ([]*Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic, creator_attr, desired_attr, second_user_joined, active, created_at_ms
		 FROM rooms
		 WHERE topic = ? AND second_user_joined = 0 AND active = 1
		 ORDER BY created_at_ms ASC`, topic)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: list open rooms")
	}
	defer func() { _ = rows.Close() }()

	var out []*Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: scan room")
		}
		out = append(out, room)
	}
	return out, errors.Wrap(rows.Err(), "sqlite chat store: list open rooms")
}

func (s *SQLiteStore) SetSecondUserJoined(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET second_user_joined = 1 WHERE id = ?`, id)
	return errors.Wrap(err, "sqlite chat store: set second user joined")
}

func (s *SQLiteStore) SetInactive(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET active = 0 WHERE id = ?`, id)
	return errors.Wrap(err, "sqlite chat store: set inactive")
}

func (s *SQLiteStore) DeleteRoom(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "sqlite chat store: delete room messages")
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	return errors.Wrap(err, "sqlite chat store: delete room")
}

func (s *SQLiteStore) CountRooms(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&n)
	return n, errors.Wrap(err, "sqlite chat store: count rooms")
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, roomID, sessionID, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (room_id, session_id, content, timestamp_ms) VALUES (?, ?, ?, ?)`,
		roomID, sessionID, content, time.Now().UnixMilli())
	return errors.Wrap(err, "sqlite chat store: save message")
}

func (s *SQLiteStore) ListMessages(ctx context.Context, roomID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id, session_id, content, timestamp_ms
		 FROM messages WHERE room_id = ? ORDER BY timestamp_ms ASC`, roomID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: list messages")
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		var m Message
		var ts int64
		if err := rows.Scan(&m.RoomID, &m.SessionID, &m.Content, &ts); err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: scan message")
		}
		m.Timestamp = time.UnixMilli(ts)
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "sqlite chat store: list messages")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*Room, error) {
	var room Room
	var secondJoined, active int
	var createdAt int64
	if err := row.Scan(&room.ID, &room.Topic, &room.CreatorAttr, &room.DesiredAttr,
		&secondJoined, &active, &createdAt); err != nil {
		return nil, err
	}
	room.SecondUserJoined = secondJoined != 0
	room.Active = active != 0
	room.CreatedAt = time.UnixMilli(createdAt)
	return &room, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
