package chatstore

import (
	"context"
	"time"
)

// Room is the durable half of a chat room: matching metadata plus lifecycle
// flags. Live membership and connection counts live in the shared state
// store, not here.
type Room struct {
	ID               string
	Topic            string
	CreatorAttr      string
	DesiredAttr      string
	SecondUserJoined bool
	Active           bool
	CreatedAt        time.Time
}

type Message struct {
	RoomID    string
	SessionID string
	Content   string
	Timestamp time.Time
}

// RoomStore persists room metadata. Get returns (nil, nil) for a missing
// room; deletion cascades to the room's messages.
type RoomStore interface {
	InsertRoom(ctx context.Context, room *Room) error
	GetRoom(ctx context.Context, id string) (*Room, error)
	// ListOpenRooms returns active rooms with secondUserJoined == false for
	// the topic, oldest first.
	ListOpenRooms(ctx context.Context, topic string) ([]*Room, error)
	SetSecondUserJoined(ctx context.Context, id string) error
	SetInactive(ctx context.Context, id string) error
	DeleteRoom(ctx context.Context, id string) error
	CountRooms(ctx context.Context) (int64, error)
}

// MessageStore persists chat transcripts for history hydration.
type MessageStore interface {
	SaveMessage(ctx context.Context, roomID, sessionID, content string) error
	// ListMessages returns the room transcript ascending by timestamp.
	ListMessages(ctx context.Context, roomID string) ([]Message, error)
}

// Store is the combined surface the coordinator and HTTP layer consume.
type Store interface {
	RoomStore
	MessageStore
}
