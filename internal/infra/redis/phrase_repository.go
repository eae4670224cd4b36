package redis

import (
	"context"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"wfd-room-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// PhraseLoader fetches phrase-set content from a backing store (e.g., document DB).
type PhraseLoader interface {
	LoadPhraseSet(ctx context.Context, setID string) (domain.PhraseSet, error)
}

// PhraseRepository caches phrase sets in Redis (hash per set) and falls back
// to a loader on cache miss.
// Texts are stored as: HSET phrases:{setID}:texts {index} {text}
// Audio is stored as:  HSET phrases:{setID}:audio {index} {url}
type PhraseRepository struct {
	client *redis.Client
	loader PhraseLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewPhraseRepository(client *redis.Client, loader PhraseLoader, ttl time.Duration) *PhraseRepository {
	return &PhraseRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *PhraseRepository) GetPhraseSet(ctx context.Context, setID string) (domain.PhraseSet, error) {
	textKey := r.textsKey(setID)
	audioKey := r.audioKey(setID)

	texts, err := r.client.HGetAll(ctx, textKey).Result()
	if err == nil && len(texts) > 0 {
		audio, _ := r.client.HGetAll(ctx, audioKey).Result()
		return buildSetFromCache(setID, texts, audio), nil
	}

	result, err, _ := r.sf.Do(setID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		texts, err := r.client.HGetAll(ctx, textKey).Result()
		if err == nil && len(texts) > 0 {
			audio, _ := r.client.HGetAll(ctx, audioKey).Result()
			return buildSetFromCache(setID, texts, audio), nil
		}

		set, err := r.loader.LoadPhraseSet(ctx, setID)
		if err != nil {
			return domain.PhraseSet{}, err
		}

		ttl := r.ttlWithJitter()
		pipe := r.client.Pipeline()
		for i, phrase := range set.Phrases {
			pipe.HSet(ctx, textKey, strconv.Itoa(i), phrase.Text)
			if phrase.AudioURL != "" {
				pipe.HSet(ctx, audioKey, strconv.Itoa(i), phrase.AudioURL)
			}
		}
		if ttl > 0 {
			pipe.Expire(ctx, textKey, ttl)
			pipe.Expire(ctx, audioKey, ttl)
		}
		_, _ = pipe.Exec(ctx)

		return set, nil
	})
	if err != nil {
		return domain.PhraseSet{}, err
	}
	return result.(domain.PhraseSet), nil
}

func (r *PhraseRepository) textsKey(setID string) string {
	return "phrases:" + setID + ":texts"
}

func (r *PhraseRepository) audioKey(setID string) string {
	return "phrases:" + setID + ":audio"
}

// buildSetFromCache reassembles the ordered list from the index-keyed hashes.
func buildSetFromCache(setID string, texts, audio map[string]string) domain.PhraseSet {
	indexes := make([]int, 0, len(texts))
	for raw := range texts {
		if i, err := strconv.Atoi(raw); err == nil {
			indexes = append(indexes, i)
		}
	}
	sort.Ints(indexes)

	phrases := make([]domain.Phrase, 0, len(indexes))
	for _, i := range indexes {
		key := strconv.Itoa(i)
		phrases = append(phrases, domain.Phrase{
			Text:     texts[key],
			AudioURL: audio[key],
		})
	}
	return domain.PhraseSet{ID: setID, Phrases: phrases}
}

func (r *PhraseRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
