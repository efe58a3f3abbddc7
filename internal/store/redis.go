package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/btcrgl/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over the report queries. Match records are immutable, so a cached
// MatchDetails result can only go stale when a new batch commits; a
// generation counter bumped after every successful transaction versions the
// cache keys instead of tracking invalidation per query.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// WithinTx delegates to the primary store so fn runs against the raw
// transactional view, then bumps the cache generation after commit. Stale
// keys from the old generation expire on their own.
func (s *CachedStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	if err := s.primary.WithinTx(ctx, fn); err != nil {
		return err
	}
	s.rdb.Incr(ctx, generationKey)
	return nil
}

const generationKey = "ledger:generation"

func (s *CachedStore) generation(ctx context.Context) string {
	gen, err := s.rdb.Get(ctx, generationKey).Result()
	if err != nil {
		return "0"
	}
	return gen
}

// --- Cached report queries ---

func (s *CachedStore) MatchDetails(ctx context.Context, tr model.Tracker, term model.Term, from, to time.Time) ([]model.MatchDetail, error) {
	key := fmt.Sprintf("ledger:matches:%s:%s:%s:%d:%d",
		s.generation(ctx), tr, term, from.Unix(), to.Unix())

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var details []model.MatchDetail
		if json.Unmarshal(data, &details) == nil {
			return details, nil
		}
	}

	details, err := s.primary.MatchDetails(ctx, tr, term, from, to)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(details); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return details, nil
}

func (s *CachedStore) UndisposedAcquisitionsAsOf(ctx context.Context, asOf time.Time) ([]model.AcquisitionLot, error) {
	key := fmt.Sprintf("ledger:holdings:%s:%d", s.generation(ctx), asOf.Unix())

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var lots []model.AcquisitionLot
		if json.Unmarshal(data, &lots) == nil {
			return lots, nil
		}
	}

	lots, err := s.primary.UndisposedAcquisitionsAsOf(ctx, asOf)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(lots); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return lots, nil
}

// --- Passthrough (not cached) ---
//
// Mutations outside WithinTx are passed straight through; callers that want
// cache invalidation must batch them in a transaction, which is what the
// service layer does.

func (s *CachedStore) InsertAcquisition(ctx context.Context, lot *model.AcquisitionLot) error {
	return s.primary.InsertAcquisition(ctx, lot)
}

func (s *CachedStore) InsertDisposition(ctx context.Context, d *model.DispositionLot) error {
	return s.primary.InsertDisposition(ctx, d)
}

func (s *CachedStore) UnmatchedAcquisitions(ctx context.Context, tr model.Tracker, scope model.Scope, wallet string) ([]model.AcquisitionLot, error) {
	return s.primary.UnmatchedAcquisitions(ctx, tr, scope, wallet)
}

func (s *CachedStore) UnmatchedDispositions(ctx context.Context, tr model.Tracker) ([]model.DispositionLot, error) {
	return s.primary.UnmatchedDispositions(ctx, tr)
}

func (s *CachedStore) ApplyMatch(ctx context.Context, m model.MatchRecord) error {
	return s.primary.ApplyMatch(ctx, m)
}

func (s *CachedStore) UpdateAcquisitionQuantities(ctx context.Context, id, satoshis, gaapUndisposed, taxUndisposed int64) error {
	return s.primary.UpdateAcquisitionQuantities(ctx, id, satoshis, gaapUndisposed, taxUndisposed)
}

func (s *CachedStore) SetAcquisitionWallet(ctx context.Context, id int64, wallet string) error {
	return s.primary.SetAcquisitionWallet(ctx, id, wallet)
}

func (s *CachedStore) UpdateAcquisitionAllocation(ctx context.Context, id int64, wallet string, undisposed int64) error {
	return s.primary.UpdateAcquisitionAllocation(ctx, id, wallet, undisposed)
}

func (s *CachedStore) RetagDispositions(ctx context.Context, wallet string) error {
	return s.primary.RetagDispositions(ctx, wallet)
}

func (s *CachedStore) InsertFairValueMark(ctx context.Context, mark *model.FairValueMark) error {
	return s.primary.InsertFairValueMark(ctx, mark)
}

func (s *CachedStore) LinkFairValueMark(ctx context.Context, markID, acquisitionID int64) error {
	return s.primary.LinkFairValueMark(ctx, markID, acquisitionID)
}

func (s *CachedStore) ApplyFairValue(ctx context.Context, asOf time.Time, priceCents int64) error {
	return s.primary.ApplyFairValue(ctx, asOf, priceCents)
}

func (s *CachedStore) InsertImpairment(ctx context.Context, imp *model.Impairment) error {
	return s.primary.InsertImpairment(ctx, imp)
}

func (s *CachedStore) ImpairableAcquisitions(ctx context.Context, asOf time.Time, priceCents int64) ([]model.AcquisitionLot, error) {
	return s.primary.ImpairableAcquisitions(ctx, asOf, priceCents)
}

func (s *CachedStore) ApplyImpairment(ctx context.Context, asOf time.Time, priceCents int64) error {
	return s.primary.ApplyImpairment(ctx, asOf, priceCents)
}
