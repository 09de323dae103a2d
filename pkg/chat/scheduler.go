package chat

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DeletionScheduler owns the per-room grace timers that fire room teardown
// unless a reconnect cancels them first. Timers are first-class cancellable
// handles stored per room; arming an armed room restarts the clock instead
// of stacking a second timer.
//
// Cancel may race-lose against a timer already executing its callback; the
// fire callback re-checks live state and teardown is idempotent, so a lost
// race is harmless.
type DeletionScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	fire   func(roomID string)
}

// NewDeletionScheduler takes the callback invoked when a grace period
// expires. The callback runs on the timer goroutine.
func NewDeletionScheduler(fire func(roomID string)) *DeletionScheduler {
	return &DeletionScheduler{
		timers: map[string]*time.Timer{},
		fire:   fire,
	}
}

// Arm schedules teardown for the room after grace. An existing timer for
// the room is replaced.
func (s *DeletionScheduler) Arm(roomID string, grace time.Duration) {
	s.mu.Lock()
	if t, ok := s.timers[roomID]; ok {
		t.Stop()
	}
	s.timers[roomID] = time.AfterFunc(grace, func() { s.onFire(roomID) })
	s.mu.Unlock()
	log.Debug().Str("component", "chat").Str("room_id", roomID).Dur("grace", grace).Msg("deletion armed")
}

// Cancel stops a pending timer. No-op when the room is not armed.
func (s *DeletionScheduler) Cancel(roomID string) {
	s.mu.Lock()
	t, ok := s.timers[roomID]
	if ok {
		t.Stop()
		delete(s.timers, roomID)
	}
	s.mu.Unlock()
	if ok {
		log.Debug().Str("component", "chat").Str("room_id", roomID).Msg("deletion cancelled")
	}
}

// Armed reports whether a timer is pending for the room.
func (s *DeletionScheduler) Armed(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[roomID]
	return ok
}

// Stop cancels every pending timer. Used on shutdown.
func (s *DeletionScheduler) Stop() {
	s.mu.Lock()
	for roomID, t := range s.timers {
		t.Stop()
		delete(s.timers, roomID)
	}
	s.mu.Unlock()
}

func (s *DeletionScheduler) onFire(roomID string) {
	s.mu.Lock()
	delete(s.timers, roomID)
	s.mu.Unlock()
	if s.fire != nil {
		s.fire(roomID)
	}
}
