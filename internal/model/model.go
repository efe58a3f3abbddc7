// Package model defines the core domain types shared across the ledger engine.
// Quantities are int64 satoshis, prices are int64 US cents per whole bitcoin;
// money is never float64.
package model

import "time"

// SatoshisPerBTC is the unit scale: quantities are stored in satoshis while
// prices are quoted in cents per whole bitcoin.
const SatoshisPerBTC = 100_000_000

// Well-known wallet tags.
const (
	// DefaultWallet is assigned to ingested rows that carry no wallet tag.
	DefaultWallet = "default"
	// LegacyWallet marks dispositions (and thus their match records) recorded
	// before wallet-scoped tracking existed.
	LegacyWallet = "legacy"
	// UnallocatedWallet tags the excess half of a lot split during bulk
	// allocation until a later bucket claims it.
	UnallocatedWallet = "unallocated"
)

// Tracker selects one of the two independent bookkeeping views of a lot.
type Tracker string

const (
	TrackerTax  Tracker = "tax"
	TrackerGAAP Tracker = "gaap"
)

// Trackers lists both trackers in pass order: tax first, then GAAP.
var Trackers = []Tracker{TrackerTax, TrackerGAAP}

// Scope controls whether FIFO ordering considers all lots globally or only
// those tagged to the disposing wallet.
type Scope string

const (
	ScopeWallet    Scope = "wallet"
	ScopeUniversal Scope = "universal"
)

// Term classifies a match by elapsed holding time.
type Term string

const (
	TermShort Term = "short"
	TermLong  Term = "long"
)

// LongTermThreshold is the holding period at or above which a match is
// classified long: 365 elapsed days is long, 364 is short.
const LongTermThreshold = 365 * 24 * time.Hour

// TermFor classifies the elapsed time between acquisition and disposition.
func TermFor(elapsed time.Duration) Term {
	if elapsed >= LongTermThreshold {
		return TermLong
	}
	return TermShort
}

// AcquisitionLot is a quantity of bitcoin acquired at a point in time at a
// known price. Satoshis shrinks only when the lot is split; the two undisposed
// trackers shrink independently as the tax and GAAP matching passes consume
// the lot. Invariant: 0 <= GAAPUndisposed <= Satoshis and
// 0 <= TaxUndisposed <= Satoshis at all times.
type AcquisitionLot struct {
	ID             int64     `json:"id"`
	AcquiredAt     time.Time `json:"acquired_at"`
	Satoshis       int64     `json:"satoshis"`
	GAAPUndisposed int64     `json:"gaap_undisposed"`
	TaxUndisposed  int64     `json:"tax_undisposed"`
	BasisCents     int64     `json:"basis_cents"`      // cost basis, fixed at acquisition
	FairValueCents int64     `json:"fair_value_cents"` // carrying value, moved by mark-to-market
	ImpairedCents  int64     `json:"impaired_cents"`   // impaired value, starts at cost, only ever written down
	Wallet         string    `json:"wallet"`
}

// Undisposed returns the remaining unmatched quantity for the given tracker.
func (l *AcquisitionLot) Undisposed(tr Tracker) int64 {
	if tr == TrackerTax {
		return l.TaxUndisposed
	}
	return l.GAAPUndisposed
}

// PriceFor returns the acquisition-side price used to compute basis for the
// given tracker: historical cost for tax, carrying fair value for GAAP.
func (l *AcquisitionLot) PriceFor(tr Tracker) int64 {
	if tr == TrackerTax {
		return l.BasisCents
	}
	return l.FairValueCents
}

// DispositionLot is a disposal event. Satoshis is negative (the magnitude
// disposed); the undisposed trackers start at Satoshis and move toward zero
// as matches are recorded, never overshooting.
type DispositionLot struct {
	ID             int64     `json:"id"`
	DisposedAt     time.Time `json:"disposed_at"`
	Satoshis       int64     `json:"satoshis"`
	GAAPUndisposed int64     `json:"gaap_undisposed"`
	TaxUndisposed  int64     `json:"tax_undisposed"`
	PriceCents     int64     `json:"price_cents"` // disposal price per whole bitcoin
	Wallet         string    `json:"wallet"`
}

// Undisposed returns the remaining unmatched (negative) quantity for the
// given tracker.
func (d *DispositionLot) Undisposed(tr Tracker) int64 {
	if tr == TrackerTax {
		return d.TaxUndisposed
	}
	return d.GAAPUndisposed
}

// MatchRecord links a disposition to the acquisition lot that satisfied part
// of it under one tracker. (AcquisitionID, DispositionID, Tracker) is the
// composite identity; records are immutable once written and form the
// ledger's audit trail.
type MatchRecord struct {
	AcquisitionID int64   `json:"acquisition_id"`
	DispositionID int64   `json:"disposition_id"`
	Tracker       Tracker `json:"tracker"`
	Satoshis      int64   `json:"satoshis"`    // matched quantity, positive
	BasisCents    int64   `json:"basis_cents"` // acquisition-side value for this tracker
	RGLCents      int64   `json:"rgl_cents"`   // disposal value minus basis
	Term          Term    `json:"term"`
}

// MatchDetail is a match record joined with both of its counterparties, as
// returned by report queries.
type MatchDetail struct {
	Match       MatchRecord    `json:"match"`
	Acquisition AcquisitionLot `json:"acquisition"`
	Disposition DispositionLot `json:"disposition"`
}

// FairValueMark records one mark-to-market event applied to the ledger.
type FairValueMark struct {
	ID         int64     `json:"id"`
	PriceCents int64     `json:"price_cents"`
	MarkedAt   time.Time `json:"marked_at"`
}

// Impairment records one impairment event applied to the ledger.
type Impairment struct {
	ID         int64     `json:"id"`
	PriceCents int64     `json:"price_cents"`
	MarkedAt   time.Time `json:"marked_at"`
}
