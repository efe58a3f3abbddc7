package valuation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcrgl/ledger-engine/internal/model"
	"github.com/btcrgl/ledger-engine/internal/store"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func insertLot(t *testing.T, st store.Store, at time.Time, sats, priceCents int64) model.AcquisitionLot {
	t.Helper()
	lot := model.AcquisitionLot{
		AcquiredAt:     at,
		Satoshis:       sats,
		GAAPUndisposed: sats,
		TaxUndisposed:  sats,
		BasisCents:     priceCents,
		FairValueCents: priceCents,
		ImpairedCents:  priceCents,
		Wallet:         model.DefaultWallet,
	}
	if err := st.InsertAcquisition(context.Background(), &lot); err != nil {
		t.Fatalf("insert lot: %v", err)
	}
	return lot
}

func lotByID(t *testing.T, st store.Store, id int64) model.AcquisitionLot {
	t.Helper()
	lots, err := st.UnmatchedAcquisitions(context.Background(), model.TrackerGAAP, model.ScopeUniversal, "")
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	for _, lot := range lots {
		if lot.ID == id {
			return lot
		}
	}
	t.Fatalf("lot %d not found", id)
	return model.AcquisitionLot{}
}

func TestMarkToMarket_RepricesHeldLots(t *testing.T) {
	st := store.NewMemoryStore()
	before := insertLot(t, st, date(2021, 1, 1), 100_000_000, 1_000_000)
	after := insertLot(t, st, date(2021, 6, 1), 100_000_000, 4_000_000)

	adjustments, err := MarkToMarket(context.Background(), st, date(2021, 3, 31), 2_500_000)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}

	if len(adjustments) != 1 || adjustments[0].AcquisitionID != before.ID {
		t.Fatalf("adjustments = %+v, want only the January lot", adjustments)
	}
	if adjustments[0].FromCents != 1_000_000 || adjustments[0].ToCents != 2_500_000 {
		t.Errorf("adjustment = %+v, want 1000000 -> 2500000", adjustments[0])
	}

	if got := lotByID(t, st, before.ID).FairValueCents; got != 2_500_000 {
		t.Errorf("january lot fair value = %d, want 2500000", got)
	}
	if got := lotByID(t, st, after.ID).FairValueCents; got != 4_000_000 {
		t.Errorf("june lot fair value = %d, want untouched 4000000", got)
	}
	// Cost basis is never moved by a mark.
	if got := lotByID(t, st, before.ID).BasisCents; got != 1_000_000 {
		t.Errorf("cost basis = %d, want 1000000", got)
	}
}

func TestMarkToMarket_MovesBothDirections(t *testing.T) {
	st := store.NewMemoryStore()
	lot := insertLot(t, st, date(2021, 1, 1), 100_000_000, 3_000_000)

	if _, err := MarkToMarket(context.Background(), st, date(2021, 2, 1), 1_000_000); err != nil {
		t.Fatalf("mark down: %v", err)
	}
	if _, err := MarkToMarket(context.Background(), st, date(2021, 3, 1), 5_000_000); err != nil {
		t.Fatalf("mark up: %v", err)
	}
	if got := lotByID(t, st, lot.ID).FairValueCents; got != 5_000_000 {
		t.Errorf("fair value = %d, want 5000000 after mark back up", got)
	}
}

func TestMarkToMarket_CoversWholeCalendarDay(t *testing.T) {
	st := store.NewMemoryStore()
	lot := model.AcquisitionLot{
		AcquiredAt:     time.Date(2021, 1, 15, 18, 30, 0, 0, time.UTC),
		Satoshis:       100_000_000,
		GAAPUndisposed: 100_000_000,
		TaxUndisposed:  100_000_000,
		BasisCents:     1_000_000,
		FairValueCents: 1_000_000,
		ImpairedCents:  1_000_000,
		Wallet:         model.DefaultWallet,
	}
	if err := st.InsertAcquisition(context.Background(), &lot); err != nil {
		t.Fatalf("insert lot: %v", err)
	}

	// Marked "on" the 15th: the evening acquisition is still covered.
	adjustments, err := MarkToMarket(context.Background(), st, date(2021, 1, 15), 2_000_000)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if len(adjustments) != 1 {
		t.Fatalf("expected the same-day lot to be covered, got %+v", adjustments)
	}
}

func TestImpair_WritesDownOnly(t *testing.T) {
	st := store.NewMemoryStore()
	high := insertLot(t, st, date(2021, 1, 1), 100_000_000, 4_000_000)
	low := insertLot(t, st, date(2021, 2, 1), 100_000_000, 1_000_000)

	adjustments, err := Impair(context.Background(), st, date(2021, 3, 1), 2_000_000)
	if err != nil {
		t.Fatalf("impair: %v", err)
	}

	if len(adjustments) != 1 || adjustments[0].AcquisitionID != high.ID {
		t.Fatalf("adjustments = %+v, want only the lot impaired above the price", adjustments)
	}
	if adjustments[0].FromCents != 4_000_000 || adjustments[0].ToCents != 2_000_000 {
		t.Errorf("adjustment = %+v, want 4000000 -> 2000000", adjustments[0])
	}

	hi := lotByID(t, st, high.ID)
	if hi.ImpairedCents != 2_000_000 {
		t.Errorf("impaired value = %d, want 2000000", hi.ImpairedCents)
	}
	if hi.FairValueCents != 4_000_000 {
		t.Errorf("fair value = %d, want 4000000; only a mark moves it", hi.FairValueCents)
	}
	lo := lotByID(t, st, low.ID)
	if lo.FairValueCents != 1_000_000 || lo.ImpairedCents != 1_000_000 {
		t.Errorf("lot below the price must be untouched, got fv %d imp %d", lo.FairValueCents, lo.ImpairedCents)
	}

	// A second impairment at a higher price writes nothing up.
	adjustments, err = Impair(context.Background(), st, date(2021, 4, 1), 3_000_000)
	if err != nil {
		t.Fatalf("impair: %v", err)
	}
	if len(adjustments) != 0 {
		t.Errorf("impairment must never raise the impaired value, got %+v", adjustments)
	}
}

func TestImpair_RatchetsOnImpairedValueNotFairValue(t *testing.T) {
	st := store.NewMemoryStore()
	lot := insertLot(t, st, date(2021, 1, 1), 100_000_000, 1_000_000)

	// Mark well above cost, then impair at a price between the impaired
	// value (still cost) and the new fair value. The mark must not expose
	// the lot to a write-down.
	if _, err := MarkToMarket(context.Background(), st, date(2021, 2, 1), 3_000_000); err != nil {
		t.Fatalf("mark: %v", err)
	}
	adjustments, err := Impair(context.Background(), st, date(2021, 3, 1), 2_000_000)
	if err != nil {
		t.Fatalf("impair: %v", err)
	}
	if len(adjustments) != 0 {
		t.Fatalf("impairment gates on the impaired value, got %+v", adjustments)
	}

	got := lotByID(t, st, lot.ID)
	if got.ImpairedCents != 1_000_000 || got.FairValueCents != 3_000_000 {
		t.Errorf("lot = imp %d fv %d, want 1000000/3000000", got.ImpairedCents, got.FairValueCents)
	}

	// Below the impaired value the ratchet engages, and the fair value
	// still stays where the mark put it.
	if _, err := Impair(context.Background(), st, date(2021, 4, 1), 800_000); err != nil {
		t.Fatalf("impair: %v", err)
	}
	got = lotByID(t, st, lot.ID)
	if got.ImpairedCents != 800_000 || got.FairValueCents != 3_000_000 {
		t.Errorf("lot = imp %d fv %d, want 800000/3000000", got.ImpairedCents, got.FairValueCents)
	}
}

func TestValuation_RejectsBadPrice(t *testing.T) {
	st := store.NewMemoryStore()
	if _, err := MarkToMarket(context.Background(), st, date(2021, 1, 1), 0); !errors.Is(err, ErrBadPrice) {
		t.Errorf("expected ErrBadPrice, got %v", err)
	}
	if _, err := Impair(context.Background(), st, date(2021, 1, 1), -5); !errors.Is(err, ErrBadPrice) {
		t.Errorf("expected ErrBadPrice, got %v", err)
	}
}
