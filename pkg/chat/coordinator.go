package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/smalltalk/pkg/persistence/chatstore"
)

// DefaultGracePeriod is how long a room survives after its live connection
// count drops to one or below, waiting for a reconnect.
const DefaultGracePeriod = 30 * time.Second

const teardownTimeout = 10 * time.Second

type CoordinatorConfig struct {
	Presence    *PresenceTracker
	Registry    *RoomRegistry
	Broadcaster *Broadcaster
	Messages    chatstore.MessageStore
	// GracePeriod defaults to DefaultGracePeriod when zero.
	GracePeriod time.Duration
}

// Coordinator drives the room state machine for every transport connection:
// admission on connect, action dispatch on message, grace-period arming on
// disconnect. It composes the presence tracker, room registry, deletion
// scheduler and broadcaster; the transport layer owns the sockets and calls
// in from each connection's read loop.
type Coordinator struct {
	presence  *PresenceTracker
	registry  *RoomRegistry
	bcast     *Broadcaster
	messages  chatstore.MessageStore
	scheduler *DeletionScheduler
	grace     time.Duration
	logger    zerolog.Logger

	// roomLocks serializes message handling per room so broadcast order
	// matches acceptance order.
	mu        sync.Mutex
	roomLocks map[string]*sync.Mutex
}

func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Presence == nil {
		return nil, errors.New("coordinator presence tracker is nil")
	}
	if cfg.Registry == nil {
		return nil, errors.New("coordinator room registry is nil")
	}
	if cfg.Broadcaster == nil {
		return nil, errors.New("coordinator broadcaster is nil")
	}
	if cfg.Messages == nil {
		return nil, errors.New("coordinator message store is nil")
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	c := &Coordinator{
		presence:  cfg.Presence,
		registry:  cfg.Registry,
		bcast:     cfg.Broadcaster,
		messages:  cfg.Messages,
		grace:     grace,
		logger:    log.With().Str("component", "chat").Logger(),
		roomLocks: map[string]*sync.Mutex{},
	}
	c.scheduler = NewDeletionScheduler(c.onGraceExpired)
	return c, nil
}

// Scheduler exposes the deletion scheduler, mostly so callers can stop it
// on shutdown.
func (c *Coordinator) Scheduler() *DeletionScheduler { return c.scheduler }

// Registry exposes the room registry for the HTTP layer.
func (c *Coordinator) Registry() *RoomRegistry { return c.registry }

// OnConnect admits the connection into the room or rejects it. On any
// reject path the coordinator itself closes the connection with
// CloseRejected (with a redirect payload when the cause is diagnosable) and
// returns a non-nil error; the transport must then skip its read loop and
// must not call OnDisconnect.
func (c *Coordinator) OnConnect(ctx context.Context, conn Conn, roomID, sessionID string) error {
	logger := c.logger.With().Str("room_id", roomID).Str("session_id", sessionID).Str("remote", conn.RemoteAddr()).Logger()

	lock := c.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	room, err := c.registry.GetRoom(ctx, roomID)
	if err != nil {
		c.rejectSilently(conn)
		return err
	}
	if room == nil || !room.Active {
		logger.Debug().Msg("connect to unknown room rejected")
		c.rejectSilently(conn)
		return errors.Wrapf(ErrRoomNotFound, "room %s", roomID)
	}

	already, err := c.presence.IsAlreadyConnected(ctx, sessionID)
	if err != nil {
		c.rejectSilently(conn)
		return err
	}
	if already {
		logger.Info().Msg("duplicate connection rejected")
		c.rejectWithPayload(conn)
		return errors.Wrapf(ErrAlreadyConnected, "session %s", sessionID)
	}

	isReconnect, memberCount, err := c.presence.Join(ctx, roomID, sessionID)
	if errors.Is(err, ErrRoomFull) {
		logger.Info().Msg("third session rejected, room full")
		c.rejectWithPayload(conn)
		return err
	}
	if err != nil {
		c.rejectSilently(conn)
		return err
	}

	if err := c.presence.MarkConnected(ctx, sessionID); err != nil {
		c.rejectSilently(conn)
		return err
	}
	if err := c.bcast.Subscribe(roomID, conn); err != nil {
		_ = c.presence.UnmarkConnected(ctx, sessionID)
		c.rejectSilently(conn)
		return err
	}

	// accepted from here on
	c.scheduler.Cancel(roomID)
	if _, err := c.presence.IncrConnectionCount(ctx, roomID); err != nil {
		logger.Error().Err(err).Msg("incr connection count failed")
	}

	if isReconnect {
		logger.Info().Msg("session reconnected")
		c.bcast.SendToOne(roomID, conn, Event{Type: EventReconnect})
		return nil
	}
	if memberCount == maxRoomMembers {
		logger.Info().Msg("second user joined")
		if err := c.registry.MarkSecondUserJoined(ctx, roomID); err != nil {
			logger.Error().Err(err).Msg("mark second user joined failed")
		}
		if err := c.bcast.Broadcast(roomID, Event{Type: EventSecondUserJoined, Message: "Second user joined"}); err != nil {
			logger.Error().Err(err).Msg("second user joined broadcast failed")
		}
	}
	return nil
}

// OnMessage dispatches one inbound frame. A malformed payload is dropped
// with ErrInvalidPayload; the connection stays up.
func (c *Coordinator) OnMessage(ctx context.Context, conn Conn, roomID, sessionID string, raw []byte) error {
	var payload ClientPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.logger.Warn().Err(err).Str("room_id", roomID).Msg("dropping malformed payload")
		return errors.Wrap(ErrInvalidPayload, err.Error())
	}

	lock := c.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	switch payload.Action {
	case ActionEndChat:
		return c.handleEndChat(ctx, roomID, sessionID)
	case ActionTyping:
		return c.bcast.BroadcastExcept(roomID, Event{Type: EventTyping, Message: payload.Message}, conn.ID())
	default:
		if err := c.messages.SaveMessage(ctx, roomID, sessionID, payload.Message); err != nil {
			return storeErr(err, "save message")
		}
		return c.bcast.Broadcast(roomID, Event{
			Type:      EventChatMessage,
			Message:   payload.Message,
			SessionID: sessionID,
			RoomID:    roomID,
		})
	}
}

// EndChat ends the room on behalf of sessionID, exactly as the end_chat
// socket action does. Exposed for the HTTP end endpoint.
func (c *Coordinator) EndChat(ctx context.Context, roomID, sessionID string) error {
	lock := c.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	room, err := c.registry.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil || !room.Active {
		return errors.Wrapf(ErrRoomNotFound, "room %s", roomID)
	}
	return c.handleEndChat(ctx, roomID, sessionID)
}

// handleEndChat runs the explicit-end path: everyone (sender included) gets
// the end_chat event and the room is deleted immediately, no grace period.
func (c *Coordinator) handleEndChat(ctx context.Context, roomID, sessionID string) error {
	c.logger.Info().Str("room_id", roomID).Str("session_id", sessionID).Msg("explicit end chat")
	if err := c.bcast.BroadcastSync(roomID, Event{
		Type:      EventEndChat,
		Message:   "Chat ended",
		SessionID: sessionID,
		RoomID:    roomID,
	}); err != nil {
		c.logger.Error().Err(err).Str("room_id", roomID).Msg("end chat broadcast failed")
	}
	if err := c.presence.UnmarkConnected(ctx, sessionID); err != nil {
		c.logger.Error().Err(err).Str("session_id", sessionID).Msg("unmark connected failed")
	}
	return c.teardown(ctx, roomID, false)
}

// OnDisconnect releases the connection's presence. Ordinary closes arm the
// grace timer when the room's live count dropped to one or below; the
// reserved rejection code skips all teardown since the rejecting path never
// admitted the connection.
func (c *Coordinator) OnDisconnect(ctx context.Context, conn Conn, roomID, sessionID string, closeCode int) error {
	if closeCode == CloseRejected {
		// never admitted; nothing was marked or counted
		c.bcast.Unsubscribe(roomID, conn)
		return nil
	}

	lock := c.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	// release local fan-out membership first: even when the store is down,
	// leaking a dead connection in the group is worse.
	c.bcast.Unsubscribe(roomID, conn)

	var firstErr error
	if err := c.presence.UnmarkConnected(ctx, sessionID); err != nil {
		firstErr = err
	}
	liveCount, err := c.presence.DecrConnectionCount(ctx, roomID)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	room, err := c.registry.GetRoom(ctx, roomID)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		return firstErr
	}
	if room == nil || !room.Active {
		// already torn down (explicit end or expired grace)
		return firstErr
	}

	if liveCount <= 1 {
		c.logger.Info().Str("room_id", roomID).Str("session_id", sessionID).Int("live_count", liveCount).Msg("participant left, arming grace timer")
		c.scheduler.Arm(roomID, c.grace)
	}
	return firstErr
}

// onGraceExpired is the scheduler fire callback. The live count is
// re-checked before teardown: a reconnect may have raced the timer.
func (c *Coordinator) onGraceExpired(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	lock := c.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	liveCount, err := c.presence.LiveCount(ctx, roomID)
	if err != nil {
		// store unavailable: do not delete on uncertainty, the timer can be
		// re-armed by the next disconnect
		c.logger.Error().Err(err).Str("room_id", roomID).Msg("grace expiry live count check failed")
		return
	}
	if liveCount > 1 {
		c.logger.Debug().Str("room_id", roomID).Msg("grace expired but room repopulated, keeping")
		return
	}
	c.logger.Info().Str("room_id", roomID).Msg("grace period expired, tearing down room")
	if err := c.teardown(ctx, roomID, true); err != nil {
		c.logger.Error().Err(err).Str("room_id", roomID).Msg("room teardown failed")
	}
}

// teardown deletes all room state: presence keys, durable room + transcript
// and the fan-out group. Idempotent; a second call observes the room gone
// and only re-drops the (already empty) local group. notifyRemaining sends
// a system end_chat to whoever is still connected before state is cleared.
func (c *Coordinator) teardown(ctx context.Context, roomID string, notifyRemaining bool) error {
	c.scheduler.Cancel(roomID)

	var firstErr error
	room, err := c.registry.GetRoom(ctx, roomID)
	if err != nil {
		firstErr = err
	}
	if room != nil {
		if notifyRemaining && c.bcast.GroupSize(roomID) > 0 {
			if err := c.bcast.BroadcastSync(roomID, Event{
				Type:      EventEndChat,
				Message:   "Chat ended",
				SessionID: SystemSessionID,
				RoomID:    roomID,
			}); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		members, err := c.presence.Members(ctx, roomID)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		for _, sid := range members {
			if err := c.presence.UnmarkConnected(ctx, sid); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := c.presence.Clear(ctx, roomID); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := c.registry.EndRoom(ctx, roomID); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := c.registry.DeleteRoom(ctx, roomID); err != nil && firstErr == nil {
			firstErr = err
		}
		c.logger.Info().Str("room_id", roomID).Msg("room deleted")
	}

	c.bcast.CloseGroup(roomID, true)
	c.releaseRoomLock(roomID)
	return firstErr
}

func (c *Coordinator) rejectWithPayload(conn Conn) {
	ev := Event{Type: EventRedirect, Message: "You cannot be connected to this room."}
	if err := conn.Send(ev.marshal()); err != nil {
		c.logger.Debug().Err(err).Msg("reject payload write failed")
	}
	_ = conn.Close(CloseRejected, "rejected")
}

func (c *Coordinator) rejectSilently(conn Conn) {
	_ = conn.Close(CloseRejected, "")
}

func (c *Coordinator) roomLock(roomID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.roomLocks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		c.roomLocks[roomID] = lock
	}
	return lock
}

// releaseRoomLock drops the lock entry for a deleted room. Holders keep
// their reference; a late call for the same room id just allocates a new
// mutex.
func (c *Coordinator) releaseRoomLock(roomID string) {
	c.mu.Lock()
	delete(c.roomLocks, roomID)
	c.mu.Unlock()
}
