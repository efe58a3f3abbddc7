package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btcrgl/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu   sync.Mutex
	st   *memState
	inTx bool
}

type markLink struct {
	markID        int64
	acquisitionID int64
}

type memState struct {
	acquisitions []model.AcquisitionLot
	dispositions []model.DispositionLot
	matches      []model.MatchRecord
	marks        []model.FairValueMark
	markLinks    []markLink
	impairments  []model.Impairment

	nextAcqID  int64
	nextDispID int64
	nextMarkID int64
	nextImpID  int64
}

func (s *memState) clone() *memState {
	c := *s
	c.acquisitions = append([]model.AcquisitionLot(nil), s.acquisitions...)
	c.dispositions = append([]model.DispositionLot(nil), s.dispositions...)
	c.matches = append([]model.MatchRecord(nil), s.matches...)
	c.marks = append([]model.FairValueMark(nil), s.marks...)
	c.markLinks = append([]markLink(nil), s.markLinks...)
	c.impairments = append([]model.Impairment(nil), s.impairments...)
	return &c
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: &memState{
		nextAcqID:  1,
		nextDispID: 1,
		nextMarkID: 1,
		nextImpID:  1,
	}}
}

// WithinTx clones the state, runs fn against the clone, and swaps the clone
// in only if fn succeeds. A failing fn therefore leaves the store untouched.
// Calls on a store already inside a transaction join that transaction.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &MemoryStore{st: s.st.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) findAcquisition(id int64) *model.AcquisitionLot {
	for i := range s.st.acquisitions {
		if s.st.acquisitions[i].ID == id {
			return &s.st.acquisitions[i]
		}
	}
	return nil
}

func (s *MemoryStore) findDisposition(id int64) *model.DispositionLot {
	for i := range s.st.dispositions {
		if s.st.dispositions[i].ID == id {
			return &s.st.dispositions[i]
		}
	}
	return nil
}

func (s *MemoryStore) InsertAcquisition(_ context.Context, lot *model.AcquisitionLot) error {
	defer s.lock()()

	lot.ID = s.st.nextAcqID
	s.st.nextAcqID++
	s.st.acquisitions = append(s.st.acquisitions, *lot)
	return nil
}

func (s *MemoryStore) InsertDisposition(_ context.Context, d *model.DispositionLot) error {
	defer s.lock()()

	d.ID = s.st.nextDispID
	s.st.nextDispID++
	s.st.dispositions = append(s.st.dispositions, *d)
	return nil
}

func (s *MemoryStore) UnmatchedAcquisitions(_ context.Context, tr model.Tracker, scope model.Scope, wallet string) ([]model.AcquisitionLot, error) {
	defer s.lock()()

	var lots []model.AcquisitionLot
	for _, lot := range s.st.acquisitions {
		if lot.Undisposed(tr) <= 0 {
			continue
		}
		if scope == model.ScopeWallet && lot.Wallet != wallet {
			continue
		}
		lots = append(lots, lot)
	}
	sort.SliceStable(lots, func(i, j int) bool {
		if !lots[i].AcquiredAt.Equal(lots[j].AcquiredAt) {
			return lots[i].AcquiredAt.Before(lots[j].AcquiredAt)
		}
		return lots[i].ID < lots[j].ID
	})
	return lots, nil
}

func (s *MemoryStore) UnmatchedDispositions(_ context.Context, tr model.Tracker) ([]model.DispositionLot, error) {
	defer s.lock()()

	var disps []model.DispositionLot
	for _, d := range s.st.dispositions {
		if d.Undisposed(tr) < 0 {
			disps = append(disps, d)
		}
	}
	sort.SliceStable(disps, func(i, j int) bool {
		if !disps[i].DisposedAt.Equal(disps[j].DisposedAt) {
			return disps[i].DisposedAt.Before(disps[j].DisposedAt)
		}
		return disps[i].ID < disps[j].ID
	})
	return disps, nil
}

func (s *MemoryStore) ApplyMatch(_ context.Context, m model.MatchRecord) error {
	defer s.lock()()

	acq := s.findAcquisition(m.AcquisitionID)
	if acq == nil {
		return fmt.Errorf("%w: acquisition %d", ErrNotFound, m.AcquisitionID)
	}
	disp := s.findDisposition(m.DispositionID)
	if disp == nil {
		return fmt.Errorf("%w: disposition %d", ErrNotFound, m.DispositionID)
	}
	if acq.Undisposed(m.Tracker) < m.Satoshis || disp.Undisposed(m.Tracker)+m.Satoshis > 0 {
		return fmt.Errorf("match of %d sat overshoots lot %d x disposition %d (%s)",
			m.Satoshis, m.AcquisitionID, m.DispositionID, m.Tracker)
	}

	if m.Tracker == model.TrackerTax {
		acq.TaxUndisposed -= m.Satoshis
		disp.TaxUndisposed += m.Satoshis
	} else {
		acq.GAAPUndisposed -= m.Satoshis
		disp.GAAPUndisposed += m.Satoshis
	}
	s.st.matches = append(s.st.matches, m)
	return nil
}

func (s *MemoryStore) UpdateAcquisitionQuantities(_ context.Context, id, satoshis, gaapUndisposed, taxUndisposed int64) error {
	defer s.lock()()

	acq := s.findAcquisition(id)
	if acq == nil {
		return fmt.Errorf("%w: acquisition %d", ErrNotFound, id)
	}
	acq.Satoshis = satoshis
	acq.GAAPUndisposed = gaapUndisposed
	acq.TaxUndisposed = taxUndisposed
	return nil
}

func (s *MemoryStore) SetAcquisitionWallet(_ context.Context, id int64, wallet string) error {
	defer s.lock()()

	acq := s.findAcquisition(id)
	if acq == nil {
		return fmt.Errorf("%w: acquisition %d", ErrNotFound, id)
	}
	acq.Wallet = wallet
	return nil
}

func (s *MemoryStore) UpdateAcquisitionAllocation(_ context.Context, id int64, wallet string, undisposed int64) error {
	defer s.lock()()

	acq := s.findAcquisition(id)
	if acq == nil {
		return fmt.Errorf("%w: acquisition %d", ErrNotFound, id)
	}
	acq.Wallet = wallet
	acq.GAAPUndisposed = undisposed
	acq.TaxUndisposed = undisposed
	return nil
}

func (s *MemoryStore) RetagDispositions(_ context.Context, wallet string) error {
	defer s.lock()()

	for i := range s.st.dispositions {
		s.st.dispositions[i].Wallet = wallet
	}
	return nil
}

func (s *MemoryStore) InsertFairValueMark(_ context.Context, mark *model.FairValueMark) error {
	defer s.lock()()

	mark.ID = s.st.nextMarkID
	s.st.nextMarkID++
	s.st.marks = append(s.st.marks, *mark)
	return nil
}

func (s *MemoryStore) LinkFairValueMark(_ context.Context, markID, acquisitionID int64) error {
	defer s.lock()()

	s.st.markLinks = append(s.st.markLinks, markLink{markID: markID, acquisitionID: acquisitionID})
	return nil
}

func (s *MemoryStore) ApplyFairValue(_ context.Context, asOf time.Time, priceCents int64) error {
	defer s.lock()()

	for i := range s.st.acquisitions {
		lot := &s.st.acquisitions[i]
		if lot.GAAPUndisposed > 0 && !lot.AcquiredAt.After(asOf) {
			lot.FairValueCents = priceCents
		}
	}
	return nil
}

func (s *MemoryStore) InsertImpairment(_ context.Context, imp *model.Impairment) error {
	defer s.lock()()

	imp.ID = s.st.nextImpID
	s.st.nextImpID++
	s.st.impairments = append(s.st.impairments, *imp)
	return nil
}

func (s *MemoryStore) ImpairableAcquisitions(_ context.Context, asOf time.Time, priceCents int64) ([]model.AcquisitionLot, error) {
	defer s.lock()()

	var lots []model.AcquisitionLot
	for _, lot := range s.st.acquisitions {
		if lot.GAAPUndisposed > 0 && !lot.AcquiredAt.After(asOf) && lot.ImpairedCents > priceCents {
			lots = append(lots, lot)
		}
	}
	sort.SliceStable(lots, func(i, j int) bool {
		if !lots[i].AcquiredAt.Equal(lots[j].AcquiredAt) {
			return lots[i].AcquiredAt.Before(lots[j].AcquiredAt)
		}
		return lots[i].ID < lots[j].ID
	})
	return lots, nil
}

func (s *MemoryStore) ApplyImpairment(_ context.Context, asOf time.Time, priceCents int64) error {
	defer s.lock()()

	for i := range s.st.acquisitions {
		lot := &s.st.acquisitions[i]
		if lot.GAAPUndisposed > 0 && !lot.AcquiredAt.After(asOf) && lot.ImpairedCents > priceCents {
			lot.ImpairedCents = priceCents
		}
	}
	return nil
}

func (s *MemoryStore) MatchDetails(_ context.Context, tr model.Tracker, term model.Term, from, to time.Time) ([]model.MatchDetail, error) {
	defer s.lock()()

	var details []model.MatchDetail
	for _, m := range s.st.matches {
		if m.Tracker != tr || m.Term != term {
			continue
		}
		acq := s.findAcquisition(m.AcquisitionID)
		disp := s.findDisposition(m.DispositionID)
		if acq == nil || disp == nil {
			return nil, fmt.Errorf("%w: match %d x %d", ErrNotFound, m.AcquisitionID, m.DispositionID)
		}
		if disp.DisposedAt.Before(from) || disp.DisposedAt.After(to) {
			continue
		}
		details = append(details, model.MatchDetail{Match: m, Acquisition: *acq, Disposition: *disp})
	}
	sort.SliceStable(details, func(i, j int) bool {
		di, dj := details[i].Disposition, details[j].Disposition
		if !di.DisposedAt.Equal(dj.DisposedAt) {
			return di.DisposedAt.Before(dj.DisposedAt)
		}
		if di.ID != dj.ID {
			return di.ID < dj.ID
		}
		return details[i].Match.AcquisitionID < details[j].Match.AcquisitionID
	})
	return details, nil
}

func (s *MemoryStore) UndisposedAcquisitionsAsOf(_ context.Context, asOf time.Time) ([]model.AcquisitionLot, error) {
	defer s.lock()()

	var lots []model.AcquisitionLot
	for _, lot := range s.st.acquisitions {
		if lot.GAAPUndisposed > 0 && !lot.AcquiredAt.After(asOf) {
			lots = append(lots, lot)
		}
	}
	sort.SliceStable(lots, func(i, j int) bool {
		if !lots[i].AcquiredAt.Equal(lots[j].AcquiredAt) {
			return lots[i].AcquiredAt.Before(lots[j].AcquiredAt)
		}
		return lots[i].ID < lots[j].ID
	})
	return lots, nil
}
