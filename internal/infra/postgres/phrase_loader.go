package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"wfd-room-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PhraseLoader loads phrase-set JSONB from Postgres.
type PhraseLoader struct {
	pool *pgxpool.Pool
}

func NewPhraseLoader(pool *pgxpool.Pool) *PhraseLoader {
	return &PhraseLoader{pool: pool}
}

func (l *PhraseLoader) LoadPhraseSet(ctx context.Context, setID string) (domain.PhraseSet, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM phrase_sets WHERE id=$1`, setID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PhraseSet{}, domain.ErrPhraseSetNotFound
	}
	if err != nil {
		return domain.PhraseSet{}, fmt.Errorf("%w: load phrase set: %v", domain.ErrBackendUnavailable, err)
	}
	var set domain.PhraseSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return domain.PhraseSet{}, fmt.Errorf("unmarshal phrase set: %w", err)
	}
	return set, nil
}
