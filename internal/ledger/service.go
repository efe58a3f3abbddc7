// Package ledger provides the HTTP handlers and business logic tying the
// engine together: importing ledger rows, running the matching passes,
// wallet transfers and allocation, valuation events, and reports.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/btcrgl/ledger-engine/internal/fifo"
	"github.com/btcrgl/ledger-engine/internal/ingest"
	"github.com/btcrgl/ledger-engine/internal/metrics"
	"github.com/btcrgl/ledger-engine/internal/model"
	"github.com/btcrgl/ledger-engine/internal/report"
	"github.com/btcrgl/ledger-engine/internal/store"
	"github.com/btcrgl/ledger-engine/internal/valuation"
	"github.com/btcrgl/ledger-engine/internal/wallet"
)

// Service executes ledger operations. Every mutating operation runs in a
// single store transaction, so a failure anywhere in a batch leaves the
// ledger untouched.
type Service struct {
	store  store.Store
	engine *fifo.Engine
}

// NewService creates a ledger service.
func NewService(st store.Store, engine *fifo.Engine) *Service {
	return &Service{store: st, engine: engine}
}

// ImportResult summarizes a committed import batch.
type ImportResult struct {
	BatchID      string       `json:"batch_id"`
	Acquisitions int          `json:"acquisitions"`
	Dispositions int          `json:"dispositions"`
	Matches      fifo.Summary `json:"matches"`
}

// Import inserts a batch of ledger rows in date order and then runs both
// matching passes, all in one transaction.
func (s *Service) Import(ctx context.Context, records []ingest.LedgerRecord) (ImportResult, error) {
	ordered := make([]ingest.LedgerRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].At.Before(ordered[j].At) })

	result := ImportResult{BatchID: uuid.New().String()}
	start := time.Now()

	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		result.Acquisitions, result.Dispositions = 0, 0
		for _, rec := range ordered {
			if rec.Satoshis > 0 {
				lot := model.AcquisitionLot{
					AcquiredAt:     rec.At,
					Satoshis:       rec.Satoshis,
					GAAPUndisposed: rec.Satoshis,
					TaxUndisposed:  rec.Satoshis,
					BasisCents:     rec.PriceCents,
					FairValueCents: rec.PriceCents,
					ImpairedCents:  rec.PriceCents,
					Wallet:         rec.Wallet,
				}
				if err := tx.InsertAcquisition(ctx, &lot); err != nil {
					return err
				}
				result.Acquisitions++
			} else {
				d := model.DispositionLot{
					DisposedAt:     rec.At,
					Satoshis:       rec.Satoshis,
					GAAPUndisposed: rec.Satoshis,
					TaxUndisposed:  rec.Satoshis,
					PriceCents:     rec.PriceCents,
					Wallet:         rec.Wallet,
				}
				if err := tx.InsertDisposition(ctx, &d); err != nil {
					return err
				}
				result.Dispositions++
			}
		}

		sum, err := s.engine.MatchAll(ctx, tx)
		if err != nil {
			return err
		}
		result.Matches = sum
		return nil
	})
	if err != nil {
		metrics.ImportsTotal.WithLabelValues("error").Inc()
		return ImportResult{}, err
	}

	metrics.ImportsTotal.WithLabelValues("ok").Inc()
	metrics.ImportedRows.WithLabelValues("acquisition").Add(float64(result.Acquisitions))
	metrics.ImportedRows.WithLabelValues("disposition").Add(float64(result.Dispositions))
	metrics.MatchesTotal.WithLabelValues(string(model.TrackerTax)).Add(float64(result.Matches.TaxMatches))
	metrics.MatchesTotal.WithLabelValues(string(model.TrackerGAAP)).Add(float64(result.Matches.GAAPMatches))
	metrics.MatchLatency.Observe(time.Since(start).Seconds())

	slog.Info("import committed", "batch_id", result.BatchID,
		"acquisitions", result.Acquisitions, "dispositions", result.Dispositions,
		"tax_matches", result.Matches.TaxMatches, "gaap_matches", result.Matches.GAAPMatches)
	return result, nil
}

// TransferResult summarizes a committed transfer batch.
type TransferResult struct {
	BatchID   string `json:"batch_id"`
	Transfers int    `json:"transfers"`
}

// Transfer applies a batch of wallet transfers atomically.
func (s *Service) Transfer(ctx context.Context, records []ingest.TransferRecord) (TransferResult, error) {
	reqs := make([]wallet.TransferRequest, len(records))
	for i, rec := range records {
		reqs[i] = wallet.TransferRequest{At: rec.At, From: rec.From, To: rec.To, Satoshis: rec.Satoshis}
	}

	if err := wallet.Transfer(ctx, s.store, reqs); err != nil {
		metrics.TransfersTotal.WithLabelValues("error").Inc()
		return TransferResult{}, err
	}
	metrics.TransfersTotal.WithLabelValues("ok").Add(float64(len(reqs)))
	return TransferResult{BatchID: uuid.New().String(), Transfers: len(reqs)}, nil
}

// AllocateResult summarizes a committed allocation.
type AllocateResult struct {
	BatchID string `json:"batch_id"`
	Buckets int    `json:"buckets"`
}

// Allocate distributes the undisposed ledger into wallet buckets.
func (s *Service) Allocate(ctx context.Context, records []ingest.BucketRecord) (AllocateResult, error) {
	buckets := make([]wallet.Bucket, len(records))
	for i, rec := range records {
		buckets[i] = wallet.Bucket{Wallet: rec.Wallet, Satoshis: rec.Satoshis}
	}

	if err := wallet.Allocate(ctx, s.store, buckets); err != nil {
		return AllocateResult{}, err
	}
	return AllocateResult{BatchID: uuid.New().String(), Buckets: len(buckets)}, nil
}

// ValuationResult summarizes a committed valuation event.
type ValuationResult struct {
	AsOf        time.Time              `json:"as_of"`
	PriceCents  int64                  `json:"price_cents"`
	Adjustments []valuation.Adjustment `json:"adjustments"`
}

// MarkToMarket reprices the undisposed inventory to a fair value price.
func (s *Service) MarkToMarket(ctx context.Context, asOf time.Time, priceCents int64) (ValuationResult, error) {
	adjustments, err := valuation.MarkToMarket(ctx, s.store, asOf, priceCents)
	if err != nil {
		return ValuationResult{}, err
	}
	metrics.ValuationsTotal.WithLabelValues("mark").Inc()
	return ValuationResult{AsOf: valuation.EndOfDay(asOf), PriceCents: priceCents, Adjustments: adjustments}, nil
}

// Impair writes the undisposed inventory's carrying value down to a price.
func (s *Service) Impair(ctx context.Context, asOf time.Time, priceCents int64) (ValuationResult, error) {
	adjustments, err := valuation.Impair(ctx, s.store, asOf, priceCents)
	if err != nil {
		return ValuationResult{}, err
	}
	metrics.ValuationsTotal.WithLabelValues("impairment").Inc()
	return ValuationResult{AsOf: valuation.EndOfDay(asOf), PriceCents: priceCents, Adjustments: adjustments}, nil
}

// RGLReport builds the realized gain/loss report for one tracker.
func (s *Service) RGLReport(ctx context.Context, tr model.Tracker, from, to time.Time) (*report.RGL, error) {
	switch tr {
	case model.TrackerTax:
		return report.TaxRGL(ctx, s.store, from, to)
	case model.TrackerGAAP:
		return report.GAAPRGL(ctx, s.store, from, to)
	default:
		return nil, fmt.Errorf("ledger: unknown tracker %q", tr)
	}
}

// Holdings lists the undisposed inventory as of a date.
func (s *Service) Holdings(ctx context.Context, asOf time.Time) ([]report.Holding, error) {
	return report.Holdings(ctx, s.store, asOf)
}
