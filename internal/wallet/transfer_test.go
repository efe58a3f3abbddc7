package wallet

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

func insertLot(t *testing.T, st store.Store, at time.Time, sats int64, wallet string) model.AcquisitionLot {
	t.Helper()
	lot := model.AcquisitionLot{
		AcquiredAt:     at,
		Satoshis:       sats,
		GAAPUndisposed: sats,
		TaxUndisposed:  sats,
		BasisCents:     1_000_000,
		FairValueCents: 1_000_000,
		Wallet:         wallet,
	}
	if err := st.InsertAcquisition(context.Background(), &lot); err != nil {
		t.Fatalf("insert lot: %v", err)
	}
	return lot
}

func walletBalance(t *testing.T, st store.Store, wallet string) int64 {
	t.Helper()
	lots, err := st.UnmatchedAcquisitions(context.Background(), model.TrackerTax, model.ScopeWallet, wallet)
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	var total int64
	for _, lot := range lots {
		total += lot.TaxUndisposed
	}
	return total
}

func TestTransfer_WholeAndPartialLots(t *testing.T) {
	st := store.NewMemoryStore()
	insertLot(t, st, date(2021, 1, 1), 100_000_000, "hot")
	insertLot(t, st, date(2021, 2, 1), 100_000_000, "hot")

	err := Transfer(context.Background(), st, []TransferRequest{
		{At: date(2021, 3, 1), From: "hot", To: "cold", Satoshis: 150_000_000},
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if got := walletBalance(t, st, "cold"); got != 150_000_000 {
		t.Errorf("cold balance = %d, want 150000000", got)
	}
	if got := walletBalance(t, st, "hot"); got != 50_000_000 {
		t.Errorf("hot balance = %d, want 50000000", got)
	}

	// The first lot moved whole; only the second was split.
	coldLots, _ := st.UnmatchedAcquisitions(context.Background(), model.TrackerTax, model.ScopeWallet, "cold")
	if len(coldLots) != 2 {
		t.Fatalf("expected 2 lots in cold, got %d", len(coldLots))
	}
	if coldLots[0].Satoshis != 100_000_000 {
		t.Errorf("first cold lot should be the whole January lot, got %d sats", coldLots[0].Satoshis)
	}
}

func TestTransfer_OrderedByTimestamp(t *testing.T) {
	// The second request only has funds once the first has run; passing them
	// out of order must still work.
	st := store.NewMemoryStore()
	insertLot(t, st, date(2021, 1, 1), 100_000_000, "a")

	err := Transfer(context.Background(), st, []TransferRequest{
		{At: date(2021, 3, 2), From: "b", To: "c", Satoshis: 100_000_000},
		{At: date(2021, 3, 1), From: "a", To: "b", Satoshis: 100_000_000},
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := walletBalance(t, st, "c"); got != 100_000_000 {
		t.Errorf("c balance = %d, want 100000000", got)
	}
}

func TestTransfer_InsufficientBalanceRollsBackBatch(t *testing.T) {
	st := store.NewMemoryStore()
	insertLot(t, st, date(2021, 1, 1), 100_000_000, "hot")

	err := Transfer(context.Background(), st, []TransferRequest{
		{At: date(2021, 2, 1), From: "hot", To: "cold", Satoshis: 50_000_000},
		{At: date(2021, 2, 2), From: "hot", To: "cold", Satoshis: 100_000_000},
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// The valid first request must not have stuck.
	if got := walletBalance(t, st, "hot"); got != 100_000_000 {
		t.Errorf("hot balance after rollback = %d, want 100000000", got)
	}
	if got := walletBalance(t, st, "cold"); got != 0 {
		t.Errorf("cold balance after rollback = %d, want 0", got)
	}
}

func TestTransfer_OnlyTaxUndisposedCounts(t *testing.T) {
	// GAAP availability is irrelevant to transfers.
	st := store.NewMemoryStore()
	lot := model.AcquisitionLot{
		AcquiredAt:     date(2021, 1, 1),
		Satoshis:       100_000_000,
		GAAPUndisposed: 100_000_000,
		TaxUndisposed:  40_000_000,
		BasisCents:     1_000_000,
		FairValueCents: 1_000_000,
		Wallet:         "hot",
	}
	if err := st.InsertAcquisition(context.Background(), &lot); err != nil {
		t.Fatalf("insert lot: %v", err)
	}

	err := Transfer(context.Background(), st, []TransferRequest{
		{At: date(2021, 2, 1), From: "hot", To: "cold", Satoshis: 50_000_000},
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestTransfer_RejectsBadRequests(t *testing.T) {
	st := store.NewMemoryStore()
	cases := []TransferRequest{
		{At: date(2021, 1, 1), From: "a", To: "b", Satoshis: 0},
		{At: date(2021, 1, 1), From: "a", To: "b", Satoshis: -5},
		{At: date(2021, 1, 1), From: "a", To: "a", Satoshis: 10},
	}
	for _, req := range cases {
		if err := Transfer(context.Background(), st, []TransferRequest{req}); !errors.Is(err, ErrBadTransfer) {
			t.Errorf("Transfer(%+v) = %v, want ErrBadTransfer", req, err)
		}
	}
}
