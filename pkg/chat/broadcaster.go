package chat

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// metadata key carrying the connection id excluded from fan-out (typing
// indicator semantics). The exclusion only applies on the sender's own
// process; remote processes have no such connection.
const metaExcludeConn = "exclude_conn"

// metadata key marking messages already written to the publishing process's
// own pool. The matching forwarder skips them so synchronous local delivery
// is not duplicated; remote forwarders deliver normally.
const metaDeliveredBy = "delivered_by"

func topicForRoom(roomID string) string { return "room:" + roomID }

// Broadcaster is the per-room publish/subscribe fan-out. Broadcast publishes
// onto the bus; one forwarder goroutine per room subscribes and writes to
// the room's connection pool. Delivery is best-effort, at-most-once per
// connection per call.
type Broadcaster struct {
	baseCtx context.Context
	id      string
	pub     message.Publisher
	sub     message.Subscriber

	mu     sync.Mutex
	groups map[string]*broadcastGroup
}

type broadcastGroup struct {
	pool       *connectionPool
	cancelRead context.CancelFunc
}

func NewBroadcaster(baseCtx context.Context, bus *Bus) (*Broadcaster, error) {
	if baseCtx == nil {
		return nil, errors.New("broadcaster base context is nil")
	}
	if bus == nil {
		return nil, errors.New("broadcaster bus is nil")
	}
	return &Broadcaster{
		baseCtx: baseCtx,
		id:      watermill.NewShortUUID(),
		pub:     bus.Publisher,
		sub:     bus.Subscriber,
		groups:  map[string]*broadcastGroup{},
	}, nil
}

// Subscribe adds the connection to the room's fan-out group, starting the
// room forwarder on first subscription.
func (b *Broadcaster) Subscribe(roomID string, conn Conn) error {
	b.mu.Lock()
	group, ok := b.groups[roomID]
	if !ok {
		group = &broadcastGroup{pool: newConnectionPool(roomID)}
		readCtx, cancel := context.WithCancel(b.baseCtx)
		ch, err := b.sub.Subscribe(readCtx, topicForRoom(roomID))
		if err != nil {
			cancel()
			b.mu.Unlock()
			return errors.Wrapf(err, "subscribe room %s", roomID)
		}
		group.cancelRead = cancel
		b.groups[roomID] = group
		go b.forward(roomID, group.pool, ch)
	}
	b.mu.Unlock()

	group.pool.Add(conn)
	return nil
}

// Unsubscribe removes the connection from the room's group. The forwarder
// keeps running until CloseGroup so a reconnect within the grace period
// reuses it.
func (b *Broadcaster) Unsubscribe(roomID string, conn Conn) {
	b.mu.Lock()
	group, ok := b.groups[roomID]
	b.mu.Unlock()
	if !ok {
		return
	}
	group.pool.Remove(conn)
}

func (b *Broadcaster) Broadcast(roomID string, ev Event) error {
	return b.publish(roomID, ev, "")
}

// BroadcastExcept delivers to every group member except excludeConnID.
func (b *Broadcaster) BroadcastExcept(roomID string, ev Event, excludeConnID string) error {
	return b.publish(roomID, ev, excludeConnID)
}

// BroadcastSync writes the event to the local pool before publishing, so a
// caller may close the group immediately afterwards without racing the
// forwarder. Other processes still receive it through the bus.
func (b *Broadcaster) BroadcastSync(roomID string, ev Event) error {
	payload := ev.marshal()
	if payload == nil {
		return errors.New("event marshal failed")
	}
	b.mu.Lock()
	group, ok := b.groups[roomID]
	b.mu.Unlock()
	if ok {
		group.pool.WriteAll(payload, "")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metaDeliveredBy, b.id)
	return errors.Wrapf(b.pub.Publish(topicForRoom(roomID), msg), "publish room %s", roomID)
}

// SendToOne writes directly to a single pooled connection, bypassing the
// bus. Used for the reconnect notice, which must not reach the other side.
func (b *Broadcaster) SendToOne(roomID string, conn Conn, ev Event) {
	b.mu.Lock()
	group, ok := b.groups[roomID]
	b.mu.Unlock()
	if !ok {
		return
	}
	group.pool.SendToOne(conn, ev.marshal())
}

// GroupSize reports the number of live connections in the room's group.
func (b *Broadcaster) GroupSize(roomID string) int {
	b.mu.Lock()
	group, ok := b.groups[roomID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return group.pool.Count()
}

// CloseGroup stops the room forwarder and optionally closes every remaining
// connection. Safe to call for a room that has no group.
func (b *Broadcaster) CloseGroup(roomID string, closeConns bool) {
	b.mu.Lock()
	group, ok := b.groups[roomID]
	if ok {
		delete(b.groups, roomID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	if group.cancelRead != nil {
		group.cancelRead()
	}
	if closeConns {
		group.pool.CloseAll(CloseNormal, "chat ended")
	}
}

func (b *Broadcaster) publish(roomID string, ev Event, excludeConnID string) error {
	payload := ev.marshal()
	if payload == nil {
		return errors.New("event marshal failed")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if excludeConnID != "" {
		msg.Metadata.Set(metaExcludeConn, excludeConnID)
	}
	return errors.Wrapf(b.pub.Publish(topicForRoom(roomID), msg), "publish room %s", roomID)
}

func (b *Broadcaster) forward(roomID string, pool *connectionPool, ch <-chan *message.Message) {
	logger := log.With().Str("component", "chat").Str("room_id", roomID).Logger()
	logger.Debug().Msg("room forwarder started")
	for msg := range ch {
		if msg.Metadata.Get(metaDeliveredBy) != b.id {
			pool.WriteAll(msg.Payload, msg.Metadata.Get(metaExcludeConn))
		}
		msg.Ack()
	}
	logger.Debug().Msg("room forwarder stopped")
}
