package memory

import (
	"sync"

	"wfd-room-service/internal/app"
)

// RoomStore is an in-memory implementation of app.RoomRepository. It is the
// local fallback when no shared backend is configured.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*app.RoomSession
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*app.RoomSession),
	}
}

func (s *RoomStore) Put(session *app.RoomSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[session.ID()] = session
}

func (s *RoomStore) Get(roomID string) (*app.RoomSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.rooms[roomID]
	return session, ok
}

func (s *RoomStore) Delete(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}
