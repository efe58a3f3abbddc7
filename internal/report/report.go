// Package report builds the realized gain/loss and holdings reports from the
// immutable match records and the undisposed lot inventory.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/btcrgl/ledger-engine/internal/fifo"
	"github.com/btcrgl/ledger-engine/internal/model"
	"github.com/btcrgl/ledger-engine/internal/store"
)

// Row is one matched disposition line in a realized gain/loss report.
// Monetary fields are cents; Quantity is the matched satoshis.
type Row struct {
	AcquiredAt    time.Time `json:"acquired_at"`
	DisposedAt    time.Time `json:"disposed_at"`
	Satoshis      int64     `json:"satoshis"`
	ProceedsCents int64     `json:"proceeds_cents"`
	BasisCents    int64     `json:"basis_cents"`
	RGLCents      int64     `json:"rgl_cents"`

	// GAAP view only: the tax cost basis of the matched quantity and the
	// fair-value adjustment disposed of with it (carrying basis minus cost
	// basis). Zero on tax rows.
	CostBasisCents   int64 `json:"cost_basis_cents,omitempty"`
	FMVDisposedCents int64 `json:"fmv_disposed_cents,omitempty"`
}

// Totals sums a group of rows.
type Totals struct {
	Satoshis      int64 `json:"satoshis"`
	ProceedsCents int64 `json:"proceeds_cents"`
	BasisCents    int64 `json:"basis_cents"`
	RGLCents      int64 `json:"rgl_cents"`
}

// RGL is a realized gain/loss report for one tracker: short-term rows first,
// then long-term, each with totals.
type RGL struct {
	Tracker     model.Tracker `json:"tracker"`
	From        time.Time     `json:"from"`
	To          time.Time     `json:"to"`
	Short       []Row         `json:"short"`
	Long        []Row         `json:"long"`
	ShortTotals Totals        `json:"short_totals"`
	LongTotals  Totals        `json:"long_totals"`
}

// TaxRGL builds the tax realized gain/loss report for dispositions in
// [from, to]. Basis is historical cost.
func TaxRGL(ctx context.Context, st store.Store, from, to time.Time) (*RGL, error) {
	return buildRGL(ctx, st, model.TrackerTax, from, to)
}

// GAAPRGL builds the GAAP realized gain/loss report for dispositions in
// [from, to]. Basis is the carrying fair value at disposal; each row also
// breaks out its tax cost basis and the fair-value adjustment disposed.
func GAAPRGL(ctx context.Context, st store.Store, from, to time.Time) (*RGL, error) {
	return buildRGL(ctx, st, model.TrackerGAAP, from, to)
}

func buildRGL(ctx context.Context, st store.Store, tr model.Tracker, from, to time.Time) (*RGL, error) {
	r := &RGL{Tracker: tr, From: from, To: to}
	for _, term := range []model.Term{model.TermShort, model.TermLong} {
		details, err := st.MatchDetails(ctx, tr, term, from, to)
		if err != nil {
			return nil, fmt.Errorf("report: %s %s matches: %w", tr, term, err)
		}
		for _, det := range details {
			row := Row{
				AcquiredAt:    det.Acquisition.AcquiredAt,
				DisposedAt:    det.Disposition.DisposedAt,
				Satoshis:      det.Match.Satoshis,
				ProceedsCents: det.Match.BasisCents + det.Match.RGLCents,
				BasisCents:    det.Match.BasisCents,
				RGLCents:      det.Match.RGLCents,
			}
			if tr == model.TrackerGAAP {
				row.CostBasisCents = fifo.MulDiv(det.Match.Satoshis, det.Acquisition.BasisCents, model.SatoshisPerBTC)
				row.FMVDisposedCents = det.Match.BasisCents - row.CostBasisCents
			}
			if term == model.TermShort {
				r.Short = append(r.Short, row)
			} else {
				r.Long = append(r.Long, row)
			}
		}
	}
	r.ShortTotals = total(r.Short)
	r.LongTotals = total(r.Long)
	return r, nil
}

func total(rows []Row) Totals {
	var t Totals
	for _, row := range rows {
		t.Satoshis += row.Satoshis
		t.ProceedsCents += row.ProceedsCents
		t.BasisCents += row.BasisCents
		t.RGLCents += row.RGLCents
	}
	return t
}

// Holding is one undisposed lot in the holdings report.
type Holding struct {
	AcquiredAt     time.Time `json:"acquired_at"`
	Wallet         string    `json:"wallet"`
	Satoshis       int64     `json:"satoshis"`
	CostCents      int64     `json:"cost_cents"`       // cost basis value of the undisposed quantity
	FairValueCents int64     `json:"fair_value_cents"` // carrying value of the undisposed quantity
	ImpairedCents  int64     `json:"impaired_cents"`   // impaired value of the undisposed quantity
}

// Holdings lists undisposed lots as of asOf, each valued at cost, at its
// carrying fair value, and at its impaired value.
func Holdings(ctx context.Context, st store.Store, asOf time.Time) ([]Holding, error) {
	lots, err := st.UndisposedAcquisitionsAsOf(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("report: holdings: %w", err)
	}
	holdings := make([]Holding, 0, len(lots))
	for _, lot := range lots {
		holdings = append(holdings, Holding{
			AcquiredAt:     lot.AcquiredAt,
			Wallet:         lot.Wallet,
			Satoshis:       lot.GAAPUndisposed,
			CostCents:      fifo.MulDiv(lot.GAAPUndisposed, lot.BasisCents, model.SatoshisPerBTC),
			FairValueCents: fifo.MulDiv(lot.GAAPUndisposed, lot.FairValueCents, model.SatoshisPerBTC),
			ImpairedCents:  fifo.MulDiv(lot.GAAPUndisposed, lot.ImpairedCents, model.SatoshisPerBTC),
		})
	}
	return holdings, nil
}

// btc renders satoshis as a bitcoin quantity string.
func btc(sats int64) string {
	return decimal.New(sats, -8).String()
}

// usd renders cents as a fixed two-decimal dollar string.
func usd(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

const dateLayout = "2006-01-02"

// WriteRGLCSV renders an RGL report as CSV: a short-term section then a
// long-term section, each followed by a totals line.
func WriteRGLCSV(w io.Writer, r *RGL) error {
	cw := csv.NewWriter(w)

	header := []string{"term", "acquired", "disposed", "bitcoin", "proceeds", "basis", "gain_loss"}
	if r.Tracker == model.TrackerGAAP {
		header = append(header, "cost_basis", "fmv_disposed")
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	writeSection := func(term model.Term, rows []Row, totals Totals) error {
		for _, row := range rows {
			rec := []string{
				string(term),
				row.AcquiredAt.Format(dateLayout),
				row.DisposedAt.Format(dateLayout),
				btc(row.Satoshis),
				usd(row.ProceedsCents),
				usd(row.BasisCents),
				usd(row.RGLCents),
			}
			if r.Tracker == model.TrackerGAAP {
				rec = append(rec, usd(row.CostBasisCents), usd(row.FMVDisposedCents))
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		rec := []string{
			string(term) + " total", "", "",
			btc(totals.Satoshis),
			usd(totals.ProceedsCents),
			usd(totals.BasisCents),
			usd(totals.RGLCents),
		}
		if r.Tracker == model.TrackerGAAP {
			rec = append(rec, "", "")
		}
		return cw.Write(rec)
	}

	if err := writeSection(model.TermShort, r.Short, r.ShortTotals); err != nil {
		return err
	}
	if err := writeSection(model.TermLong, r.Long, r.LongTotals); err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

// WriteHoldingsCSV renders a holdings report as CSV with a final totals line.
func WriteHoldingsCSV(w io.Writer, holdings []Holding) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"acquired", "wallet", "bitcoin", "cost", "fair_value", "impaired"}); err != nil {
		return err
	}

	var sats, cost, fv, imp int64
	for _, h := range holdings {
		if err := cw.Write([]string{
			h.AcquiredAt.Format(dateLayout),
			h.Wallet,
			btc(h.Satoshis),
			usd(h.CostCents),
			usd(h.FairValueCents),
			usd(h.ImpairedCents),
		}); err != nil {
			return err
		}
		sats += h.Satoshis
		cost += h.CostCents
		fv += h.FairValueCents
		imp += h.ImpairedCents
	}
	if err := cw.Write([]string{"total", "", btc(sats), usd(cost), usd(fv), usd(imp)}); err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}
