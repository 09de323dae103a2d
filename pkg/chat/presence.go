package chat

import (
	"context"

	"github.com/go-go-golems/smalltalk/pkg/state"
)

// Key namespaces in the shared store.
func membershipKey(roomID string) string  { return "membership:" + roomID }
func liveCountKey(roomID string) string   { return "live_count:" + roomID }
func connectedKey(sessionID string) string { return "connected:" + sessionID }

const maxRoomMembers = 2

// PresenceTracker maps sessions to room membership, live-connection counts
// and the per-session "connected somewhere" flag. Every operation is a
// single atomic store primitive (or a self-correcting sequence of them), so
// concurrent connects from both participants never corrupt the counts.
type PresenceTracker struct {
	store state.Store
}

func NewPresenceTracker(store state.Store) *PresenceTracker {
	return &PresenceTracker{store: store}
}

// IsAlreadyConnected reports whether the session holds a live connection
// anywhere. Used to reject duplicate tabs.
func (p *PresenceTracker) IsAlreadyConnected(ctx context.Context, sessionID string) (bool, error) {
	ok, err := p.store.Exists(ctx, connectedKey(sessionID))
	return ok, storeErr(err, "is already connected")
}

func (p *PresenceTracker) MarkConnected(ctx context.Context, sessionID string) error {
	_, err := p.store.Incr(ctx, connectedKey(sessionID))
	return storeErr(err, "mark connected")
}

// UnmarkConnected clears the live flag. Clearing an already-clear session
// is a no-op, not an error.
func (p *PresenceTracker) UnmarkConnected(ctx context.Context, sessionID string) error {
	return storeErr(p.store.Delete(ctx, connectedKey(sessionID)), "unmark connected")
}

// Join adds the session to the room's member set and reports whether it was
// already a member (a reconnect) plus the resulting member count. A third
// distinct session fails with ErrRoomFull.
//
// Race safety without locks: SetAdd atomically reports first-time adds; when
// two new sessions race past an almost-full room, the loser observes a
// cardinality above the cap and removes itself again.
func (p *PresenceTracker) Join(ctx context.Context, roomID, sessionID string) (bool, int, error) {
	added, err := p.store.SetAdd(ctx, membershipKey(roomID), sessionID)
	if err != nil {
		return false, 0, storeErr(err, "join room")
	}
	count, err := p.store.SetCardinality(ctx, membershipKey(roomID))
	if err != nil {
		return false, 0, storeErr(err, "join room")
	}
	if !added {
		return true, int(count), nil
	}
	if count > maxRoomMembers {
		if err := p.store.SetRemove(ctx, membershipKey(roomID), sessionID); err != nil {
			return false, 0, storeErr(err, "join room rollback")
		}
		return false, int(count) - 1, ErrRoomFull
	}
	return false, int(count), nil
}

func (p *PresenceTracker) MemberCount(ctx context.Context, roomID string) (int, error) {
	n, err := p.store.SetCardinality(ctx, membershipKey(roomID))
	return int(n), storeErr(err, "member count")
}

func (p *PresenceTracker) IsMember(ctx context.Context, roomID, sessionID string) (bool, error) {
	ok, err := p.store.SetContains(ctx, membershipKey(roomID), sessionID)
	return ok, storeErr(err, "is member")
}

func (p *PresenceTracker) Members(ctx context.Context, roomID string) ([]string, error) {
	members, err := p.store.SetMembers(ctx, membershipKey(roomID))
	return members, storeErr(err, "members")
}

func (p *PresenceTracker) IncrConnectionCount(ctx context.Context, roomID string) (int, error) {
	n, err := p.store.Incr(ctx, liveCountKey(roomID))
	return int(n), storeErr(err, "incr connection count")
}

// DecrConnectionCount floors at zero: decrementing a key that was already
// cleared (teardown raced a disconnect) resets it instead of going
// negative.
func (p *PresenceTracker) DecrConnectionCount(ctx context.Context, roomID string) (int, error) {
	n, err := p.store.Decr(ctx, liveCountKey(roomID))
	if err != nil {
		return 0, storeErr(err, "decr connection count")
	}
	if n < 0 {
		if err := p.store.Delete(ctx, liveCountKey(roomID)); err != nil {
			return 0, storeErr(err, "decr connection count reset")
		}
		return 0, nil
	}
	return int(n), nil
}

func (p *PresenceTracker) LiveCount(ctx context.Context, roomID string) (int, error) {
	n, err := p.store.Get(ctx, liveCountKey(roomID))
	return int(n), storeErr(err, "live count")
}

// Clear removes all per-room presence state. Per-session connected flags
// are owned by the sessions themselves and cleared via UnmarkConnected.
func (p *PresenceTracker) Clear(ctx context.Context, roomID string) error {
	return storeErr(p.store.Delete(ctx, membershipKey(roomID), liveCountKey(roomID)), "clear room")
}
