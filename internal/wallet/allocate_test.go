package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/btcrgl/ledger-engine/internal/model"
	"github.com/btcrgl/ledger-engine/internal/store"
)

func TestAllocate_FillsBucketsInFIFOOrder(t *testing.T) {
	st := store.NewMemoryStore()
	lot1 := insertLot(t, st, date(2020, 1, 1), 100_000_000, model.DefaultWallet)
	lot2 := insertLot(t, st, date(2020, 2, 1), 100_000_000, model.DefaultWallet)

	err := Allocate(context.Background(), st, []Bucket{
		{Wallet: "x", Satoshis: 150_000_000},
		{Wallet: "y", Satoshis: 50_000_000},
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if got := walletBalance(t, st, "x"); got != 150_000_000 {
		t.Errorf("x balance = %d, want 150000000", got)
	}
	if got := walletBalance(t, st, "y"); got != 50_000_000 {
		t.Errorf("y balance = %d, want 50000000", got)
	}

	// The straddling lot keeps its full quantity; only its trackers drop.
	lots, _ := st.UnmatchedAcquisitions(context.Background(), model.TrackerTax, model.ScopeUniversal, "")
	for _, lot := range lots {
		switch lot.ID {
		case lot1.ID:
			if lot.Wallet != "x" || lot.TaxUndisposed != 100_000_000 {
				t.Errorf("lot1 = %q/%d, want x/100000000", lot.Wallet, lot.TaxUndisposed)
			}
		case lot2.ID:
			if lot.Wallet != "x" || lot.TaxUndisposed != 50_000_000 || lot.Satoshis != 100_000_000 {
				t.Errorf("lot2 = %q tax %d sats %d, want x/50000000/100000000",
					lot.Wallet, lot.TaxUndisposed, lot.Satoshis)
			}
		default:
			// The spill from lot2, claimed by the next bucket.
			if lot.Wallet != "y" || lot.TaxUndisposed != 50_000_000 || lot.Satoshis != 50_000_000 {
				t.Errorf("spill = %q tax %d sats %d, want y/50000000/50000000",
					lot.Wallet, lot.TaxUndisposed, lot.Satoshis)
			}
			if !lot.AcquiredAt.Equal(lot2.AcquiredAt) {
				t.Errorf("spill must keep the parent acquisition date")
			}
		}
		if lot.GAAPUndisposed != lot.TaxUndisposed {
			t.Errorf("lot %d trackers diverged during allocation: gaap %d tax %d",
				lot.ID, lot.GAAPUndisposed, lot.TaxUndisposed)
		}
	}
}

func TestAllocate_RetagsDispositionsToLegacy(t *testing.T) {
	st := store.NewMemoryStore()
	insertLot(t, st, date(2020, 1, 1), 100_000_000, model.DefaultWallet)

	// A still-unmatched disposition left over from pre-wallet days. The
	// allocation guard only inspects acquisition lots, so it is allowed.
	d := model.DispositionLot{
		DisposedAt:     date(2020, 6, 1),
		Satoshis:       -1,
		GAAPUndisposed: -1,
		TaxUndisposed:  -1,
		PriceCents:     2_000_000,
		Wallet:         model.DefaultWallet,
	}
	if err := st.InsertDisposition(context.Background(), &d); err != nil {
		t.Fatalf("insert disposition: %v", err)
	}

	err := Allocate(context.Background(), st, []Bucket{{Wallet: "x", Satoshis: 100_000_000}})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	disps, _ := st.UnmatchedDispositions(context.Background(), model.TrackerTax)
	if len(disps) != 1 || disps[0].Wallet != model.LegacyWallet {
		t.Fatalf("disposition wallet = %+v, want legacy", disps)
	}
}

func TestAllocate_RejectsDivergedTrackers(t *testing.T) {
	st := store.NewMemoryStore()
	lot := model.AcquisitionLot{
		AcquiredAt:     date(2020, 1, 1),
		Satoshis:       100_000_000,
		GAAPUndisposed: 80_000_000,
		TaxUndisposed:  100_000_000,
		BasisCents:     1_000_000,
		FairValueCents: 1_000_000,
		Wallet:         model.DefaultWallet,
	}
	if err := st.InsertAcquisition(context.Background(), &lot); err != nil {
		t.Fatalf("insert lot: %v", err)
	}

	err := Allocate(context.Background(), st, []Bucket{{Wallet: "x", Satoshis: 100_000_000}})
	if !errors.Is(err, ErrTrackerDivergence) {
		t.Fatalf("expected ErrTrackerDivergence, got %v", err)
	}

	// Nothing moved.
	if got := walletBalance(t, st, model.DefaultWallet); got != 100_000_000 {
		t.Errorf("default balance = %d, want 100000000 (no mutation on failure)", got)
	}
}

func TestAllocate_RejectsTaxExhaustedDivergedLot(t *testing.T) {
	st := store.NewMemoryStore()
	insertLot(t, st, date(2020, 1, 1), 100_000_000, model.DefaultWallet)

	// Fully consumed on the tax side but still open on GAAP. The lot never
	// shows up in a tax-tracker listing, so the guard has to look at both.
	diverged := model.AcquisitionLot{
		AcquiredAt:     date(2020, 2, 1),
		Satoshis:       50_000_000,
		GAAPUndisposed: 50_000_000,
		TaxUndisposed:  0,
		BasisCents:     1_000_000,
		FairValueCents: 1_000_000,
		Wallet:         model.DefaultWallet,
	}
	if err := st.InsertAcquisition(context.Background(), &diverged); err != nil {
		t.Fatalf("insert lot: %v", err)
	}

	err := Allocate(context.Background(), st, []Bucket{{Wallet: "x", Satoshis: 100_000_000}})
	if !errors.Is(err, ErrTrackerDivergence) {
		t.Fatalf("expected ErrTrackerDivergence, got %v", err)
	}
}

func TestAllocate_BucketSumTolerance(t *testing.T) {
	st := store.NewMemoryStore()
	insertLot(t, st, date(2020, 1, 1), 100_000_000, model.DefaultWallet)

	// Two buckets may miss the total by up to two satoshis.
	err := Allocate(context.Background(), st, []Bucket{
		{Wallet: "x", Satoshis: 60_000_000},
		{Wallet: "y", Satoshis: 39_999_998},
	})
	if err != nil {
		t.Fatalf("allocate within tolerance: %v", err)
	}

	st = store.NewMemoryStore()
	insertLot(t, st, date(2020, 1, 1), 100_000_000, model.DefaultWallet)
	err = Allocate(context.Background(), st, []Bucket{
		{Wallet: "x", Satoshis: 60_000_000},
		{Wallet: "y", Satoshis: 39_999_997},
	})
	if !errors.Is(err, ErrBucketMismatch) {
		t.Fatalf("expected ErrBucketMismatch beyond tolerance, got %v", err)
	}
}

func TestAllocate_LeftoverTaggedUnallocated(t *testing.T) {
	st := store.NewMemoryStore()
	insertLot(t, st, date(2020, 1, 1), 100_000_000, model.DefaultWallet)

	err := Allocate(context.Background(), st, []Bucket{
		{Wallet: "x", Satoshis: 99_999_999},
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got := walletBalance(t, st, "x"); got != 99_999_999 {
		t.Errorf("x balance = %d, want 99999999", got)
	}
	if got := walletBalance(t, st, model.UnallocatedWallet); got != 1 {
		t.Errorf("unallocated balance = %d, want 1", got)
	}
}

func TestAllocate_RejectsEmptyOrBadBuckets(t *testing.T) {
	st := store.NewMemoryStore()
	cases := [][]Bucket{
		nil,
		{{Wallet: "", Satoshis: 10}},
		{{Wallet: "x", Satoshis: 0}},
		{{Wallet: "x", Satoshis: -1}},
	}
	for _, buckets := range cases {
		if err := Allocate(context.Background(), st, buckets); !errors.Is(err, ErrBucketMismatch) {
			t.Errorf("Allocate(%+v) = %v, want ErrBucketMismatch", buckets, err)
		}
	}
}
