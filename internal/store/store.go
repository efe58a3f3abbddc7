// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache over immutable match records), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/btcrgl/ledger-engine/internal/model"
)

// ErrNotFound is returned when a row lookup or update targets a missing lot.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. Every mutating operation of the engine
// runs inside WithinTx; the transactional store is the only concurrency
// primitive the engine relies on.
type Store interface {
	// WithinTx runs fn against a transactional view of the store. If fn
	// returns an error the transaction is rolled back and that error is
	// returned; otherwise the transaction commits. One WithinTx call is one
	// invocation in ledger terms: a mid-sequence failure leaves the ledger
	// exactly as it was before the call.
	WithinTx(ctx context.Context, fn func(Store) error) error

	// --- Lot rows ---

	// InsertAcquisition appends an acquisition lot and assigns lot.ID.
	// Identities are monotonically increasing so that split-off lots sort
	// after their parent at the same timestamp.
	InsertAcquisition(ctx context.Context, lot *model.AcquisitionLot) error

	// InsertDisposition appends a disposition lot and assigns d.ID.
	InsertDisposition(ctx context.Context, d *model.DispositionLot) error

	// UnmatchedAcquisitions returns acquisition lots with a positive
	// undisposed quantity for the given tracker, ordered by acquisition time
	// ascending with identity ascending as the tie-break. With ScopeWallet
	// the result is filtered to the given wallet tag; with ScopeUniversal
	// the wallet argument is ignored.
	UnmatchedAcquisitions(ctx context.Context, tr model.Tracker, scope model.Scope, wallet string) ([]model.AcquisitionLot, error)

	// UnmatchedDispositions returns disposition lots with remaining unmatched
	// magnitude for the given tracker, ordered by disposition time ascending.
	UnmatchedDispositions(ctx context.Context, tr model.Tracker) ([]model.DispositionLot, error)

	// ApplyMatch decrements the acquisition's tracker by m.Satoshis, moves
	// the disposition's tracker toward zero by the same amount, and inserts
	// the immutable match record.
	ApplyMatch(ctx context.Context, m model.MatchRecord) error

	// --- Splitting and wallet assignment ---

	// UpdateAcquisitionQuantities rewrites the three quantity trackers of a
	// lot in place, leaving identity, timestamp, prices and wallet untouched.
	UpdateAcquisitionQuantities(ctx context.Context, id, satoshis, gaapUndisposed, taxUndisposed int64) error

	// SetAcquisitionWallet reassigns a lot to another wallet (whole-lot move).
	SetAcquisitionWallet(ctx context.Context, id int64, wallet string) error

	// UpdateAcquisitionAllocation assigns a lot to a wallet bucket and sets
	// both undisposed trackers to the same quantity. Used only by bulk
	// allocation, which requires the trackers to be equal beforehand.
	UpdateAcquisitionAllocation(ctx context.Context, id int64, wallet string, undisposed int64) error

	// RetagDispositions rewrites the wallet tag on every disposition row.
	RetagDispositions(ctx context.Context, wallet string) error

	// --- Valuation ---

	// InsertFairValueMark records a mark-to-market event and assigns mark.ID.
	InsertFairValueMark(ctx context.Context, mark *model.FairValueMark) error

	// LinkFairValueMark associates a mark with one lot it repriced.
	LinkFairValueMark(ctx context.Context, markID, acquisitionID int64) error

	// ApplyFairValue sets the carrying fair value on every lot with positive
	// GAAP-undisposed quantity acquired on or before asOf.
	ApplyFairValue(ctx context.Context, asOf time.Time, priceCents int64) error

	// InsertImpairment records an impairment event and assigns imp.ID.
	InsertImpairment(ctx context.Context, imp *model.Impairment) error

	// ImpairableAcquisitions returns lots with positive GAAP-undisposed
	// quantity acquired on or before asOf whose impaired value still
	// exceeds priceCents.
	ImpairableAcquisitions(ctx context.Context, asOf time.Time, priceCents int64) ([]model.AcquisitionLot, error)

	// ApplyImpairment writes the impaired value down (never up) to
	// priceCents on every lot ImpairableAcquisitions would return for the
	// same arguments. The carrying fair value is untouched; only
	// mark-to-market moves it.
	ApplyImpairment(ctx context.Context, asOf time.Time, priceCents int64) error

	// --- Read-only report queries ---

	// MatchDetails returns match records of one tracker and term whose
	// disposition date falls in [from, to], joined with both counterparties,
	// ordered by disposition time ascending.
	MatchDetails(ctx context.Context, tr model.Tracker, term model.Term, from, to time.Time) ([]model.MatchDetail, error)

	// UndisposedAcquisitionsAsOf returns lots with positive GAAP-undisposed
	// quantity acquired on or before asOf, in FIFO order.
	UndisposedAcquisitionsAsOf(ctx context.Context, asOf time.Time) ([]model.AcquisitionLot, error)
}
