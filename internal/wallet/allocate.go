package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/btcrgl/ledger-engine/internal/metrics"
	"github.com/btcrgl/ledger-engine/internal/model"
	"github.com/btcrgl/ledger-engine/internal/store"
)

var (
	// ErrTrackerDivergence means allocation was attempted on a ledger whose
	// GAAP and tax undisposed quantities have already diverged, so a single
	// wallet assignment can no longer be correct for both trackers.
	ErrTrackerDivergence = errors.New("wallet: gaap and tax undisposed quantities have diverged")

	// ErrBucketMismatch means the bucket quantities do not add up to the
	// ledger's undisposed total within the allowed rounding slack.
	ErrBucketMismatch = errors.New("wallet: bucket totals do not match undisposed holdings")
)

// Bucket names a wallet and the undisposed quantity to place in it.
type Bucket struct {
	Wallet   string `json:"wallet"`
	Satoshis int64  `json:"satoshis"`
}

// Allocate distributes every undisposed acquisition lot into the given wallet
// buckets, in FIFO order, splitting at most one lot per bucket boundary. It
// is intended as a one-time migration of an untagged ledger onto wallet-level
// tracking, so it requires that no lot's trackers have diverged and it retags
// all existing dispositions to the legacy wallet when it finishes.
//
// Bucket sums are allowed to miss the undisposed total by up to one satoshi
// per bucket, absorbing rounding in whatever produced the bucket figures.
// Quantity left over after the last bucket is tagged unallocated.
func Allocate(ctx context.Context, st store.Store, buckets []Bucket) error {
	if len(buckets) == 0 {
		return fmt.Errorf("%w: no buckets given", ErrBucketMismatch)
	}
	for _, b := range buckets {
		if b.Satoshis <= 0 || b.Wallet == "" {
			return fmt.Errorf("%w: bucket %q quantity %d", ErrBucketMismatch, b.Wallet, b.Satoshis)
		}
	}

	return st.WithinTx(ctx, func(tx store.Store) error {
		lots, err := tx.UnmatchedAcquisitions(ctx, model.TrackerTax, model.ScopeUniversal, "")
		if err != nil {
			return fmt.Errorf("wallet: query undisposed lots: %w", err)
		}
		gaapLots, err := tx.UnmatchedAcquisitions(ctx, model.TrackerGAAP, model.ScopeUniversal, "")
		if err != nil {
			return fmt.Errorf("wallet: query undisposed lots: %w", err)
		}

		// Every lot with positive undisposed quantity on either tracker must
		// have equal trackers. A lot exhausted on one side but not the other
		// appears in only one of the two listings.
		var total int64
		taxIDs := make(map[int64]bool, len(lots))
		for _, lot := range lots {
			if lot.GAAPUndisposed != lot.TaxUndisposed {
				return fmt.Errorf("%w: lot %d has gaap=%d tax=%d; allocate before any wallet-scoped activity",
					ErrTrackerDivergence, lot.ID, lot.GAAPUndisposed, lot.TaxUndisposed)
			}
			taxIDs[lot.ID] = true
			total += lot.TaxUndisposed
		}
		for _, lot := range gaapLots {
			if !taxIDs[lot.ID] {
				return fmt.Errorf("%w: lot %d has gaap=%d tax=%d; allocate before any wallet-scoped activity",
					ErrTrackerDivergence, lot.ID, lot.GAAPUndisposed, lot.TaxUndisposed)
			}
		}

		var want int64
		for _, b := range buckets {
			want += b.Satoshis
		}
		slack := int64(len(buckets))
		if diff := total - want; diff > slack || diff < -slack {
			return fmt.Errorf("%w: undisposed total %d sat, buckets sum to %d sat (slack %d)",
				ErrBucketMismatch, total, want, slack)
		}

		if err := fill(ctx, tx, lots, buckets); err != nil {
			return err
		}

		if err := tx.RetagDispositions(ctx, model.LegacyWallet); err != nil {
			return fmt.Errorf("wallet: retag dispositions: %w", err)
		}

		slog.Info("allocation applied", "buckets", len(buckets), "satoshis", total)
		return nil
	})
}

// fill walks lots in FIFO order, assigning each bucket its quantity. A lot
// that straddles a bucket boundary keeps its full satoshi quantity and drops
// its undisposed trackers to the filled amount; the excess becomes a new lot
// at the same date and prices, walked next.
func fill(ctx context.Context, tx store.Store, lots []model.AcquisitionLot, buckets []Bucket) error {
	bi := 0
	remaining := buckets[0].Satoshis
	for i := 0; i < len(lots); i++ {
		lot := lots[i]
		if lot.TaxUndisposed <= 0 {
			continue
		}

		if bi >= len(buckets) {
			// Rounding slack after the last bucket.
			if err := tx.UpdateAcquisitionAllocation(ctx, lot.ID, model.UnallocatedWallet, lot.TaxUndisposed); err != nil {
				return fmt.Errorf("wallet: tag lot %d unallocated: %w", lot.ID, err)
			}
			continue
		}

		if lot.TaxUndisposed > remaining {
			excess := lot.TaxUndisposed - remaining
			if err := tx.UpdateAcquisitionAllocation(ctx, lot.ID, buckets[bi].Wallet, remaining); err != nil {
				return fmt.Errorf("wallet: allocate lot %d to %q: %w", lot.ID, buckets[bi].Wallet, err)
			}
			spill := model.AcquisitionLot{
				AcquiredAt:     lot.AcquiredAt,
				Satoshis:       excess,
				GAAPUndisposed: excess,
				TaxUndisposed:  excess,
				BasisCents:     lot.BasisCents,
				FairValueCents: lot.FairValueCents,
				ImpairedCents:  lot.ImpairedCents,
				Wallet:         model.UnallocatedWallet,
			}
			if err := tx.InsertAcquisition(ctx, &spill); err != nil {
				return fmt.Errorf("wallet: insert allocation spill for lot %d: %w", lot.ID, err)
			}
			metrics.LotSplits.Inc()
			lots = append(lots[:i+1], append([]model.AcquisitionLot{spill}, lots[i+1:]...)...)
			remaining = 0
		} else {
			if err := tx.UpdateAcquisitionAllocation(ctx, lot.ID, buckets[bi].Wallet, lot.TaxUndisposed); err != nil {
				return fmt.Errorf("wallet: allocate lot %d to %q: %w", lot.ID, buckets[bi].Wallet, err)
			}
			remaining -= lot.TaxUndisposed
		}

		if remaining == 0 {
			bi++
			if bi < len(buckets) {
				remaining = buckets[bi].Satoshis
			}
		}
	}
	return nil
}
