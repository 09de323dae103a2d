package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/smalltalk/pkg/persistence/chatstore"
)

// Matching attribute wildcards. AttrAny and AttrUnspecified both accept any
// counterpart when used as a *desired* value; AttrUnspecified as a declared
// attribute is special-cased (see matches).
const (
	AttrAny         = "any"
	AttrUnspecified = "not-specified"
)

// RoomRegistry owns room entities and the topic/attribute matching that
// pairs a seeker with a waiting room. It is stateless over the durable
// room store, so a coordinator restart loses nothing.
type RoomRegistry struct {
	store chatstore.RoomStore
}

func NewRoomRegistry(store chatstore.RoomStore) *RoomRegistry {
	return &RoomRegistry{store: store}
}

// matches applies the symmetric matching policy between a waiting room's
// creator and a seeker. Both directions must hold: the seeker's desired
// attribute accepts the creator's declared one, and vice versa.
//
// Participants who declined to declare an attribute are only ever paired
// with each other, never opportunistically with attribute-specific rooms,
// so that matching cannot force attribute disclosure.
func matches(room *chatstore.Room, seekerAttr, desiredAttr string) bool {
	if room.CreatorAttr == AttrUnspecified || seekerAttr == AttrUnspecified {
		return room.CreatorAttr == AttrUnspecified && seekerAttr == AttrUnspecified
	}
	return wantAccepts(desiredAttr, room.CreatorAttr) && wantAccepts(room.DesiredAttr, seekerAttr)
}

func wantAccepts(want, attr string) bool {
	return want == AttrAny || want == AttrUnspecified || want == "" || want == attr
}

// FindWaitingRoom returns the oldest open, still-active room matching the
// topic and attributes, or nil when none is waiting.
func (r *RoomRegistry) FindWaitingRoom(ctx context.Context, topic, seekerAttr, desiredAttr string) (*chatstore.Room, error) {
	rooms, err := r.store.ListOpenRooms(ctx, topic)
	if err != nil {
		return nil, storeErr(err, "find waiting room")
	}
	for _, room := range rooms {
		if matches(room, seekerAttr, desiredAttr) {
			return room, nil
		}
	}
	return nil, nil
}

// CreateRoom always succeeds and returns a fresh open room.
func (r *RoomRegistry) CreateRoom(ctx context.Context, topic, creatorAttr, desiredAttr string) (*chatstore.Room, error) {
	room := &chatstore.Room{
		ID:          uuid.NewString(),
		Topic:       topic,
		CreatorAttr: creatorAttr,
		DesiredAttr: desiredAttr,
		Active:      true,
		CreatedAt:   time.Now(),
	}
	if err := r.store.InsertRoom(ctx, room); err != nil {
		return nil, storeErr(err, "create room")
	}
	log.Debug().Str("component", "chat").Str("room_id", room.ID).Str("topic", topic).Msg("room created")
	return room, nil
}

// SearchOrCreate finds a waiting room or creates a new one. Two seekers
// racing on the same filters may each create a room (acceptable
// duplication); neither is ever handed a room that already reports full.
func (r *RoomRegistry) SearchOrCreate(ctx context.Context, topic, seekerAttr, desiredAttr string) (*chatstore.Room, error) {
	room, err := r.FindWaitingRoom(ctx, topic, seekerAttr, desiredAttr)
	if err != nil {
		return nil, err
	}
	if room != nil && !room.SecondUserJoined {
		return room, nil
	}
	return r.CreateRoom(ctx, topic, seekerAttr, desiredAttr)
}

// GetRoom returns nil for an unknown room id.
func (r *RoomRegistry) GetRoom(ctx context.Context, roomID string) (*chatstore.Room, error) {
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, storeErr(err, "get room")
	}
	return room, nil
}

// MarkSecondUserJoined is idempotent.
func (r *RoomRegistry) MarkSecondUserJoined(ctx context.Context, roomID string) error {
	return storeErr(r.store.SetSecondUserJoined(ctx, roomID), "mark second user joined")
}

func (r *RoomRegistry) EndRoom(ctx context.Context, roomID string) error {
	return storeErr(r.store.SetInactive(ctx, roomID), "end room")
}

// DeleteRoom removes the room and its transcript from the durable store.
func (r *RoomRegistry) DeleteRoom(ctx context.Context, roomID string) error {
	return storeErr(r.store.DeleteRoom(ctx, roomID), "delete room")
}

// OpenRoomCount backs the landing-page "rooms online" counter.
func (r *RoomRegistry) OpenRoomCount(ctx context.Context) (int64, error) {
	n, err := r.store.CountRooms(ctx)
	return n, storeErr(err, "count rooms")
}
