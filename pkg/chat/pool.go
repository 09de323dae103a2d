package chat

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// connectionPool is the fan-out group for one room. It centralizes
// broadcasting and error handling so the broadcaster and coordinator stay
// small. A connection that fails a write is dropped from the pool and
// closed.
type connectionPool struct {
	roomID string
	mu     sync.Mutex
	conns  map[string]Conn
}

func newConnectionPool(roomID string) *connectionPool {
	return &connectionPool{
		roomID: roomID,
		conns:  map[string]Conn{},
	}
}

func (cp *connectionPool) Add(conn Conn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	cp.conns[conn.ID()] = conn
	cp.mu.Unlock()
}

func (cp *connectionPool) Remove(conn Conn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	delete(cp.conns, conn.ID())
	cp.mu.Unlock()
}

// WriteAll delivers data to every pooled connection, except the connection
// whose id equals excludeID when it is non-empty.
func (cp *connectionPool) WriteAll(data []byte, excludeID string) {
	if cp == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	for id, conn := range cp.conns {
		if excludeID != "" && id == excludeID {
			continue
		}
		if err := conn.Send(data); err != nil {
			log.Warn().Err(err).Str("component", "chat").Str("room_id", cp.roomID).Msg("broadcast write failed, dropping connection")
			delete(cp.conns, id)
			_ = conn.Close(CloseNormal, "")
		}
	}
	cp.mu.Unlock()
}

func (cp *connectionPool) SendToOne(conn Conn, data []byte) {
	if cp == nil || conn == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if _, ok := cp.conns[conn.ID()]; !ok {
		return
	}
	if err := conn.Send(data); err != nil {
		log.Warn().Err(err).Str("component", "chat").Str("room_id", cp.roomID).Msg("send failed, dropping connection")
		delete(cp.conns, conn.ID())
		_ = conn.Close(CloseNormal, "")
	}
}

func (cp *connectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

func (cp *connectionPool) CloseAll(code int, reason string) {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	for id, conn := range cp.conns {
		_ = conn.Close(code, reason)
		delete(cp.conns, id)
	}
	cp.mu.Unlock()
}
