package redis

import (
	"testing"
	"time"

	"wfd-room-service/internal/app"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRoomStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRoomStore(client, time.Minute)

	store.Put(app.NewRoomSession("ABC123", "host-1", "set-1"))
	if !mr.Exists("wfd:room:ABC123") {
		t.Fatalf("expected redis key to be set")
	}
	if _, ok := store.Get("ABC123"); !ok {
		t.Fatalf("expected session present")
	}

	store.Delete("ABC123")
	if mr.Exists("wfd:room:ABC123") {
		t.Fatalf("expected redis key to be removed")
	}
	if _, ok := store.Get("ABC123"); ok {
		t.Fatalf("expected session removed")
	}
}
