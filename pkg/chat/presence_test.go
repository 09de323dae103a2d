package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/smalltalk/pkg/state"
)

func newTestPresence() *PresenceTracker {
	return NewPresenceTracker(state.NewMemoryStore())
}

func TestPresenceJoinAndReconnect(t *testing.T) {
	ctx := context.Background()
	p := newTestPresence()

	isReconnect, count, err := p.Join(ctx, "r1", "s1")
	require.NoError(t, err)
	require.False(t, isReconnect)
	require.Equal(t, 1, count)

	isReconnect, count, err = p.Join(ctx, "r1", "s2")
	require.NoError(t, err)
	require.False(t, isReconnect)
	require.Equal(t, 2, count)

	// same session again is a reconnect, not a new member
	isReconnect, count, err = p.Join(ctx, "r1", "s1")
	require.NoError(t, err)
	require.True(t, isReconnect)
	require.Equal(t, 2, count)

	ok, err := p.IsMember(ctx, "r1", "s2")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPresenceJoinThirdSessionRejected(t *testing.T) {
	ctx := context.Background()
	p := newTestPresence()

	_, _, err := p.Join(ctx, "r1", "s1")
	require.NoError(t, err)
	_, _, err = p.Join(ctx, "r1", "s2")
	require.NoError(t, err)

	_, _, err = p.Join(ctx, "r1", "s3")
	require.ErrorIs(t, err, ErrRoomFull)

	// the failed join must not leave the intruder behind
	n, err := p.MemberCount(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	ok, err := p.IsMember(ctx, "r1", "s3")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPresenceMemberCountNeverExceedsTwo(t *testing.T) {
	ctx := context.Background()
	p := newTestPresence()

	sessions := []string{"s1", "s2", "s3", "s4", "s5", "s6"}
	var wg sync.WaitGroup
	for _, sid := range sessions {
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			_, _, _ = p.Join(ctx, "r1", sid)
		}(sid)
	}
	wg.Wait()

	n, err := p.MemberCount(ctx, "r1")
	require.NoError(t, err)
	require.LessOrEqual(t, n, 2)
}

func TestPresenceConnectedFlag(t *testing.T) {
	ctx := context.Background()
	p := newTestPresence()

	ok, err := p.IsAlreadyConnected(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, p.MarkConnected(ctx, "s1"))
	ok, err = p.IsAlreadyConnected(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, p.UnmarkConnected(ctx, "s1"))
	ok, err = p.IsAlreadyConnected(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)

	// unmark of an already-clear session is a no-op
	require.NoError(t, p.UnmarkConnected(ctx, "s1"))
}

func TestPresenceConnectionCountFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	p := newTestPresence()

	n, err := p.IncrConnectionCount(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = p.DecrConnectionCount(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, 0, n)

	// decrement after teardown cleared the key must not go negative
	n, err = p.DecrConnectionCount(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, 0, n)

	n, err = p.LiveCount(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestPresenceClear(t *testing.T) {
	ctx := context.Background()
	p := newTestPresence()

	_, _, err := p.Join(ctx, "r1", "s1")
	require.NoError(t, err)
	_, err = p.IncrConnectionCount(ctx, "r1")
	require.NoError(t, err)

	require.NoError(t, p.Clear(ctx, "r1"))

	n, err := p.MemberCount(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, 0, n)
	n, err = p.LiveCount(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
