// Package valuation implements the two GAAP valuation commands:
// mark-to-market, which moves the carrying fair value in either direction,
// and impairment, which ratchets the separate impaired value down. The
// impaired value starts at cost when a lot is imported and never rises.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/btcrgl/ledger-engine/internal/model"
	"github.com/btcrgl/ledger-engine/internal/store"
)

// ErrBadPrice is returned when a valuation command is given a non-positive
// price.
var ErrBadPrice = errors.New("valuation: price must be positive")

// Adjustment describes the valuation change applied to one lot: fair value
// for a mark, impaired value for an impairment.
type Adjustment struct {
	AcquisitionID int64 `json:"acquisition_id"`
	Satoshis      int64 `json:"satoshis"` // gaap-undisposed quantity repriced
	FromCents     int64 `json:"from_cents"`
	ToCents       int64 `json:"to_cents"`
}

// EndOfDay normalizes a valuation date to 23:59:59 UTC, so a mark dated on a
// calendar day covers every lot acquired any time that day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

// MarkToMarket reprices every lot with GAAP-undisposed quantity acquired on
// or before asOf to priceCents, recording the mark and a link to each lot it
// touched, all in one transaction. It returns the per-lot adjustments.
func MarkToMarket(ctx context.Context, st store.Store, asOf time.Time, priceCents int64) ([]Adjustment, error) {
	if priceCents <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrBadPrice, priceCents)
	}
	asOf = EndOfDay(asOf)

	var adjustments []Adjustment
	err := st.WithinTx(ctx, func(tx store.Store) error {
		adjustments = nil

		mark := model.FairValueMark{PriceCents: priceCents, MarkedAt: asOf}
		if err := tx.InsertFairValueMark(ctx, &mark); err != nil {
			return fmt.Errorf("valuation: insert mark: %w", err)
		}

		lots, err := tx.UndisposedAcquisitionsAsOf(ctx, asOf)
		if err != nil {
			return fmt.Errorf("valuation: list lots: %w", err)
		}
		for _, lot := range lots {
			if err := tx.LinkFairValueMark(ctx, mark.ID, lot.ID); err != nil {
				return fmt.Errorf("valuation: link mark to lot %d: %w", lot.ID, err)
			}
			adjustments = append(adjustments, Adjustment{
				AcquisitionID: lot.ID,
				Satoshis:      lot.GAAPUndisposed,
				FromCents:     lot.FairValueCents,
				ToCents:       priceCents,
			})
		}

		return tx.ApplyFairValue(ctx, asOf, priceCents)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("mark-to-market applied", "as_of", asOf.Format("2006-01-02"),
		"price_cents", priceCents, "lots", len(adjustments))
	return adjustments, nil
}

// Impair writes the impaired value down to priceCents on every lot acquired
// on or before asOf whose impaired value is still above it. Lots already
// impaired to or below priceCents are untouched; impairment never writes a
// value up, and it never moves the carrying fair value.
func Impair(ctx context.Context, st store.Store, asOf time.Time, priceCents int64) ([]Adjustment, error) {
	if priceCents <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrBadPrice, priceCents)
	}
	asOf = EndOfDay(asOf)

	var adjustments []Adjustment
	err := st.WithinTx(ctx, func(tx store.Store) error {
		adjustments = nil

		imp := model.Impairment{PriceCents: priceCents, MarkedAt: asOf}
		if err := tx.InsertImpairment(ctx, &imp); err != nil {
			return fmt.Errorf("valuation: insert impairment: %w", err)
		}

		lots, err := tx.ImpairableAcquisitions(ctx, asOf, priceCents)
		if err != nil {
			return fmt.Errorf("valuation: list impairable lots: %w", err)
		}
		for _, lot := range lots {
			adjustments = append(adjustments, Adjustment{
				AcquisitionID: lot.ID,
				Satoshis:      lot.GAAPUndisposed,
				FromCents:     lot.ImpairedCents,
				ToCents:       priceCents,
			})
		}

		return tx.ApplyImpairment(ctx, asOf, priceCents)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("impairment applied", "as_of", asOf.Format("2006-01-02"),
		"price_cents", priceCents, "lots", len(adjustments))
	return adjustments, nil
}
