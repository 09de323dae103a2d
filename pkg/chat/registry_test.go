package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/smalltalk/pkg/persistence/chatstore"
)

func newTestRegistry(t *testing.T) (*RoomRegistry, *chatstore.MemoryStore) {
	t.Helper()
	store := chatstore.NewMemoryStore()
	return NewRoomRegistry(store), store
}

func TestFindWaitingRoomAttributeMatching(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	// room R: topic "chat", creator male looking for female
	require.NoError(t, store.InsertRoom(ctx, &chatstore.Room{
		ID: "R", Topic: "chat", CreatorAttr: "male", DesiredAttr: "female",
		Active: true, CreatedAt: time.Now(),
	}))

	// female looking for male -> matches
	room, err := reg.FindWaitingRoom(ctx, "chat", "female", "male")
	require.NoError(t, err)
	require.NotNil(t, room)
	require.Equal(t, "R", room.ID)

	// female with no preference -> still matches
	room, err = reg.FindWaitingRoom(ctx, "chat", "female", AttrUnspecified)
	require.NoError(t, err)
	require.NotNil(t, room)
	require.Equal(t, "R", room.ID)

	// female looking for anyone -> matches
	room, err = reg.FindWaitingRoom(ctx, "chat", "female", AttrAny)
	require.NoError(t, err)
	require.NotNil(t, room)

	// undisclosed seeker never pairs with an attribute-specific room
	room, err = reg.FindWaitingRoom(ctx, "chat", AttrUnspecified, AttrAny)
	require.NoError(t, err)
	require.Nil(t, room)

	// male looking for male -> creator wants female, no match
	room, err = reg.FindWaitingRoom(ctx, "chat", "male", "male")
	require.NoError(t, err)
	require.Nil(t, room)

	// wrong topic -> no match
	room, err = reg.FindWaitingRoom(ctx, "music", "female", "male")
	require.NoError(t, err)
	require.Nil(t, room)
}

func TestFindWaitingRoomUnspecifiedPairsWithUnspecified(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	require.NoError(t, store.InsertRoom(ctx, &chatstore.Room{
		ID: "U", Topic: "chat", CreatorAttr: AttrUnspecified, DesiredAttr: AttrUnspecified,
		Active: true, CreatedAt: time.Now(),
	}))

	// undisclosed seeker finds the undisclosed room
	room, err := reg.FindWaitingRoom(ctx, "chat", AttrUnspecified, AttrUnspecified)
	require.NoError(t, err)
	require.NotNil(t, room)
	require.Equal(t, "U", room.ID)

	// an attribute-specific seeker does not land in the undisclosed room
	room, err = reg.FindWaitingRoom(ctx, "chat", "female", AttrAny)
	require.NoError(t, err)
	require.Nil(t, room)
}

func TestFindWaitingRoomReturnsOldest(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	base := time.Now()
	require.NoError(t, store.InsertRoom(ctx, &chatstore.Room{
		ID: "newer", Topic: "chat", CreatorAttr: AttrAny, DesiredAttr: AttrAny,
		Active: true, CreatedAt: base.Add(time.Second),
	}))
	require.NoError(t, store.InsertRoom(ctx, &chatstore.Room{
		ID: "older", Topic: "chat", CreatorAttr: AttrAny, DesiredAttr: AttrAny,
		Active: true, CreatedAt: base,
	}))

	room, err := reg.FindWaitingRoom(ctx, "chat", AttrAny, AttrAny)
	require.NoError(t, err)
	require.NotNil(t, room)
	require.Equal(t, "older", room.ID)
}

func TestSearchOrCreate(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	// nothing waiting: a fresh room is created with the seeker as creator
	room, err := reg.SearchOrCreate(ctx, "chat", "male", "female")
	require.NoError(t, err)
	require.NotNil(t, room)
	require.Equal(t, "male", room.CreatorAttr)
	require.True(t, room.Active)
	require.False(t, room.SecondUserJoined)

	// a compatible seeker is routed into the waiting room
	found, err := reg.SearchOrCreate(ctx, "chat", "female", "male")
	require.NoError(t, err)
	require.Equal(t, room.ID, found.ID)

	// once the room filled up, the next seeker gets a new room
	require.NoError(t, reg.MarkSecondUserJoined(ctx, room.ID))
	fresh, err := reg.SearchOrCreate(ctx, "chat", "female", "male")
	require.NoError(t, err)
	require.NotEqual(t, room.ID, fresh.ID)
}

func TestEndAndDeleteRoom(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	room, err := reg.CreateRoom(ctx, "chat", AttrAny, AttrAny)
	require.NoError(t, err)

	require.NoError(t, reg.EndRoom(ctx, room.ID))
	got, err := reg.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.False(t, got.Active)

	// ended rooms are not offered to seekers
	found, err := reg.FindWaitingRoom(ctx, "chat", AttrAny, AttrAny)
	require.NoError(t, err)
	require.Nil(t, found)

	require.NoError(t, reg.DeleteRoom(ctx, room.ID))
	got, err = reg.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}
