// Package fifo implements the dual-tracker FIFO lot-matching core: the
// rounding primitive, the lot splitter, and the matching engine that consumes
// unmatched dispositions against unmatched acquisitions independently for the
// tax and GAAP trackers.
package fifo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/btcrgl/ledger-engine/internal/model"
	"github.com/btcrgl/ledger-engine/internal/store"
)

var (
	// ErrNoLotsAvailable means a disposition could not be fully matched
	// because no acquisition lot in scope had undisposed quantity left.
	ErrNoLotsAvailable = errors.New("fifo: no undisposed acquisition lots available")

	// ErrDispositionPredatesLot means FIFO order selected an acquisition lot
	// acquired after the disposition date.
	ErrDispositionPredatesLot = errors.New("fifo: disposition predates acquisition lot")
)

// Engine runs the FIFO matching passes. The two trackers may use different
// lot scopes, which is what allows tax and GAAP realized gain/loss to
// reference different acquisition lots for the same disposition.
type Engine struct {
	taxScope  model.Scope
	gaapScope model.Scope
}

// NewEngine creates a matching engine with the given per-tracker lot scopes.
func NewEngine(taxScope, gaapScope model.Scope) *Engine {
	return &Engine{taxScope: taxScope, gaapScope: gaapScope}
}

func (e *Engine) scopeFor(tr model.Tracker) model.Scope {
	if tr == model.TrackerTax {
		return e.taxScope
	}
	return e.gaapScope
}

// Summary reports how many match records each pass produced.
type Summary struct {
	TaxMatches  int `json:"tax_matches"`
	GAAPMatches int `json:"gaap_matches"`
}

// MatchAll runs the tax pass and then the GAAP pass against st. The caller is
// expected to hand in a transactional store: failure of either pass must roll
// back the entire batch, including any lot rows already inserted.
func (e *Engine) MatchAll(ctx context.Context, st store.Store) (Summary, error) {
	var sum Summary
	for _, tr := range model.Trackers {
		n, err := e.matchPass(ctx, st, tr)
		if err != nil {
			return Summary{}, err
		}
		if tr == model.TrackerTax {
			sum.TaxMatches = n
		} else {
			sum.GAAPMatches = n
		}
	}
	return sum, nil
}

// matchPass walks unmatched dispositions in date order and consumes
// acquisition lots in FIFO order until each disposition is fully matched.
// The acquisition list is queried fresh for every disposition so that each
// pass sees its own tracker's availability and nothing else.
func (e *Engine) matchPass(ctx context.Context, st store.Store, tr model.Tracker) (int, error) {
	scope := e.scopeFor(tr)

	disps, err := st.UnmatchedDispositions(ctx, tr)
	if err != nil {
		return 0, fmt.Errorf("fifo: query unmatched dispositions (%s): %w", tr, err)
	}

	matches := 0
	for _, disp := range disps {
		remaining := -disp.Undisposed(tr)
		if remaining <= 0 {
			continue
		}

		lots, err := st.UnmatchedAcquisitions(ctx, tr, scope, disp.Wallet)
		if err != nil {
			return 0, fmt.Errorf("fifo: query unmatched acquisitions (%s): %w", tr, err)
		}

		for _, lot := range lots {
			if remaining == 0 {
				break
			}
			available := lot.Undisposed(tr)
			if available <= 0 {
				continue
			}

			matched := remaining
			if available < matched {
				matched = available
			}

			elapsed := disp.DisposedAt.Sub(lot.AcquiredAt)
			if elapsed < 0 {
				return 0, fmt.Errorf("%w: disposition %d on %s matched lot %d acquired %s; the batch has been rolled back",
					ErrDispositionPredatesLot, disp.ID, disp.DisposedAt.Format("2006-01-02"),
					lot.ID, lot.AcquiredAt.Format("2006-01-02"))
			}

			basis := MulDiv(matched, lot.PriceFor(tr), model.SatoshisPerBTC)
			value := MulDiv(matched, disp.PriceCents, model.SatoshisPerBTC)

			rec := model.MatchRecord{
				AcquisitionID: lot.ID,
				DispositionID: disp.ID,
				Tracker:       tr,
				Satoshis:      matched,
				BasisCents:    basis,
				RGLCents:      value - basis,
				Term:          model.TermFor(elapsed),
			}
			if err := st.ApplyMatch(ctx, rec); err != nil {
				return 0, fmt.Errorf("fifo: apply %s match lot %d x disposition %d: %w", tr, lot.ID, disp.ID, err)
			}

			slog.Debug("match applied",
				"tracker", tr,
				"acquisition_id", lot.ID,
				"disposition_id", disp.ID,
				"satoshis", matched,
				"rgl_cents", rec.RGLCents,
				"term", rec.Term,
			)

			remaining -= matched
			matches++
		}

		if remaining > 0 {
			return 0, fmt.Errorf("%w: disposition %d on %s in wallet %q still needs %d sat (%s scope: %s); the batch has been rolled back",
				ErrNoLotsAvailable, disp.ID, disp.DisposedAt.Format("2006-01-02"), disp.Wallet, remaining, tr, scope)
		}
	}
	return matches, nil
}
