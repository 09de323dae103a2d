package chatstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MemoryStore keeps rooms and transcripts in process memory. It backs tests
// and sqlite-less runs; state does not survive a restart.
type MemoryStore struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	messages map[string][]Message
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    map[string]*Room{},
		messages: map[string][]Message{},
	}
}

func (s *MemoryStore) InsertRoom(_ context.Context, room *Room) error {
	if room == nil {
		return errors.New("memory chat store: nil room")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *room
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.rooms[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRoom(_ context.Context, id string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}
	cp := *room
	return &cp, nil
}

func (s *MemoryStore) ListOpenRooms(_ context.Context, topic string) ([]*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Room
	for _, room := range s.rooms {
		if room.Topic != topic || room.SecondUserJoined || !room.Active {
			continue
		}
		cp := *room
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SetSecondUserJoined(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[id]; ok {
		room.SecondUserJoined = true
	}
	return nil
}

func (s *MemoryStore) SetInactive(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[id]; ok {
		room.Active = false
	}
	return nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) CountRooms(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rooms)), nil
}

func (s *MemoryStore) SaveMessage(_ context.Context, roomID, sessionID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[roomID] = append(s.messages[roomID], Message{
		RoomID:    roomID,
		SessionID: sessionID,
		Content:   content,
		Timestamp: time.Now(),
	})
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, roomID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages[roomID]...), nil
}
