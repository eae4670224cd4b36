package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"wfd-room-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// PhraseLoader fetches phrase-set content from a backing store (e.g., document DB).
type PhraseLoader interface {
	LoadPhraseSet(ctx context.Context, setID string) (domain.PhraseSet, error)
}

// PhraseRepository caches phrase sets with TTL to avoid repeated DB hits.
type PhraseRepository struct {
	loader PhraseLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedSet
}

type cachedSet struct {
	set       domain.PhraseSet
	expiresAt time.Time
}

func NewPhraseRepository(loader PhraseLoader, ttl time.Duration) *PhraseRepository {
	return &PhraseRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedSet),
	}
}

func (r *PhraseRepository) GetPhraseSet(ctx context.Context, setID string) (domain.PhraseSet, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[setID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.set, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(setID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[setID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.set, nil
		}
		r.mu.RUnlock()

		set, err := r.loader.LoadPhraseSet(ctx, setID)
		if err != nil {
			return domain.PhraseSet{}, err
		}

		r.mu.Lock()
		r.cache[setID] = cachedSet{
			set:       set,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return domain.PhraseSet{}, err
	}
	return result.(domain.PhraseSet), nil
}

// StaticPhraseLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticPhraseLoader struct {
	sets map[string]domain.PhraseSet
}

func NewStaticPhraseLoader(sets map[string]domain.PhraseSet) *StaticPhraseLoader {
	return &StaticPhraseLoader{sets: sets}
}

func (l *StaticPhraseLoader) LoadPhraseSet(_ context.Context, setID string) (domain.PhraseSet, error) {
	if set, ok := l.sets[setID]; ok {
		return set, nil
	}
	return domain.PhraseSet{}, domain.ErrPhraseSetNotFound
}

func (r *PhraseRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
