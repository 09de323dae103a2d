package chatstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoomLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.InsertRoom(ctx, &Room{ID: "r1", Topic: "chat", Active: true}))

	got, err := s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)

	// mutations on the returned copy must not leak into the store
	got.Active = false
	again, err := s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.True(t, again.Active)

	require.NoError(t, s.SetSecondUserJoined(ctx, "r1"))
	require.NoError(t, s.SetInactive(ctx, "r1"))
	again, err = s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.True(t, again.SecondUserJoined)
	require.False(t, again.Active)

	require.NoError(t, s.DeleteRoom(ctx, "r1"))
	gone, err := s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestMemoryStoreListOpenRoomsOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	base := time.Now()
	require.NoError(t, s.InsertRoom(ctx, &Room{ID: "b", Topic: "chat", Active: true, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.InsertRoom(ctx, &Room{ID: "a", Topic: "chat", Active: true, CreatedAt: base}))
	require.NoError(t, s.InsertRoom(ctx, &Room{ID: "c", Topic: "chat", Active: true, SecondUserJoined: true, CreatedAt: base}))

	rooms, err := s.ListOpenRooms(ctx, "chat")
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	require.Equal(t, "a", rooms[0].ID)
	require.Equal(t, "b", rooms[1].ID)
}

func TestMemoryStoreMessagesDeletedWithRoom(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.InsertRoom(ctx, &Room{ID: "r1", Topic: "chat", Active: true}))
	require.NoError(t, s.SaveMessage(ctx, "r1", "s1", "one"))
	require.NoError(t, s.SaveMessage(ctx, "r1", "s2", "two"))

	msgs, err := s.ListMessages(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "one", msgs[0].Content)

	require.NoError(t, s.DeleteRoom(ctx, "r1"))
	msgs, err = s.ListMessages(ctx, "r1")
	require.NoError(t, err)
	require.Empty(t, msgs)
}
