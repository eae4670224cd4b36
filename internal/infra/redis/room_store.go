package redis

import (
	"context"
	"sync"
	"time"

	"wfd-room-service/internal/app"
	"github.com/redis/go-redis/v9"
)

// RoomStore is a Redis-aware implementation of app.RoomRepository.
// Notes:
//   - It still keeps a local in-memory map of sessions to reuse the existing
//     in-process broadcast logic.
//   - Redis is used to mark room liveness (and could be extended to share
//     snapshots or route cross-instance pub/sub).
//   - For true distribution you'd pair this with a pub/sub projector that fans
//     out snapshots across instances.
type RoomStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
	rooms  map[string]*app.RoomSession
}

func NewRoomStore(client *redis.Client, ttl time.Duration) *RoomStore {
	return &RoomStore{
		client: client,
		ttl:    ttl,
		rooms:  make(map[string]*app.RoomSession),
	}
}

func (s *RoomStore) Put(session *app.RoomSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[session.ID()] = session
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(session.ID()), "1", s.ttl).Err()
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
	if _, ok := s.rooms[roomID]; !ok {
		return
	}
	delete(s.rooms, roomID)
	_ = s.client.Del(context.Background(), s.key(roomID)).Err()
}

func (s *RoomStore) key(roomID string) string {
	return "wfd:room:" + roomID
}
