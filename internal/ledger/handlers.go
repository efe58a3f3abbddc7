package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/btcrgl/ledger-engine/internal/fifo"
	"github.com/btcrgl/ledger-engine/internal/ingest"
	"github.com/btcrgl/ledger-engine/internal/model"
	"github.com/btcrgl/ledger-engine/internal/report"
	"github.com/btcrgl/ledger-engine/internal/valuation"
	"github.com/btcrgl/ledger-engine/internal/wallet"
)

// Routes mounts the ledger API onto a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/import", s.HandleImport)
	r.Post("/transfers", s.HandleTransfers)
	r.Post("/allocations", s.HandleAllocations)
	r.Post("/marks", s.HandleMark)
	r.Post("/impairments", s.HandleImpairment)
	r.Get("/reports/rgl", s.HandleRGLReport)
	r.Get("/holdings", s.HandleHoldings)
}

// HandleImport handles POST /api/v1/import. The request body is a ledger CSV.
func (s *Service) HandleImport(w http.ResponseWriter, r *http.Request) {
	records, err := ingest.ParseLedgerCSV(r.Body)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(records) == 0 {
		writeError(w, "no records in body", http.StatusBadRequest)
		return
	}

	result, err := s.Import(r.Context(), records)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// HandleTransfers handles POST /api/v1/transfers. The body is a transfer CSV.
func (s *Service) HandleTransfers(w http.ResponseWriter, r *http.Request) {
	records, err := ingest.ParseTransferCSV(r.Body)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(records) == 0 {
		writeError(w, "no records in body", http.StatusBadRequest)
		return
	}

	result, err := s.Transfer(r.Context(), records)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// HandleAllocations handles POST /api/v1/allocations. The body is a bucket CSV.
func (s *Service) HandleAllocations(w http.ResponseWriter, r *http.Request) {
	records, err := ingest.ParseBucketCSV(r.Body)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(records) == 0 {
		writeError(w, "no records in body", http.StatusBadRequest)
		return
	}

	result, err := s.Allocate(r.Context(), records)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// valuationRequest is the JSON body for marks and impairments. Price is a
// dollar string ("97000.50", "$97,000.50" also accepted).
type valuationRequest struct {
	AsOf  string `json:"as_of"`
	Price string `json:"price"`
}

func (s *Service) handleValuation(w http.ResponseWriter, r *http.Request,
	apply func(r *http.Request, asOf time.Time, priceCents int64) (ValuationResult, error)) {

	var req valuationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	asOf, err := ingest.ParseDate(req.AsOf)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	priceCents, err := ingest.ParseMoney(req.Price)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := apply(r, asOf, priceCents)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// HandleMark handles POST /api/v1/marks.
func (s *Service) HandleMark(w http.ResponseWriter, r *http.Request) {
	s.handleValuation(w, r, func(r *http.Request, asOf time.Time, priceCents int64) (ValuationResult, error) {
		return s.MarkToMarket(r.Context(), asOf, priceCents)
	})
}

// HandleImpairment handles POST /api/v1/impairments.
func (s *Service) HandleImpairment(w http.ResponseWriter, r *http.Request) {
	s.handleValuation(w, r, func(r *http.Request, asOf time.Time, priceCents int64) (ValuationResult, error) {
		return s.Impair(r.Context(), asOf, priceCents)
	})
}

// HandleRGLReport handles GET /api/v1/reports/rgl?view=tax|gaap&from=&to=.
// With format=csv the report is rendered as CSV instead of JSON.
func (s *Service) HandleRGLReport(w http.ResponseWriter, r *http.Request) {
	var tr model.Tracker
	switch r.URL.Query().Get("view") {
	case "tax", "":
		tr = model.TrackerTax
	case "gaap":
		tr = model.TrackerGAAP
	default:
		writeError(w, "view must be tax or gaap", http.StatusBadRequest)
		return
	}

	from, to, err := dateRange(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rgl, err := s.RGLReport(r.Context(), tr, from, to)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		if err := report.WriteRGLCSV(w, rgl); err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, rgl)
}

// HandleHoldings handles GET /api/v1/holdings?asof=. Defaults to now.
func (s *Service) HandleHoldings(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now().UTC()
	if v := r.URL.Query().Get("asof"); v != "" {
		var err error
		if asOf, err = ingest.ParseDate(v); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		asOf = valuation.EndOfDay(asOf)
	}

	holdings, err := s.Holdings(r.Context(), asOf)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		if err := report.WriteHoldingsCSV(w, holdings); err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

// dateRange parses from/to query params, defaulting to an unbounded range.
func dateRange(r *http.Request) (time.Time, time.Time, error) {
	from := time.Time{}
	to := time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = ingest.ParseDate(v); err != nil {
			return from, to, err
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = ingest.ParseDate(v); err != nil {
			return from, to, err
		}
		to = valuation.EndOfDay(to)
	}
	return from, to, nil
}

// statusFor maps business errors onto HTTP status codes. Anything the caller
// can fix in their input is a conflict; the rest is internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fifo.ErrNoLotsAvailable),
		errors.Is(err, fifo.ErrDispositionPredatesLot),
		errors.Is(err, fifo.ErrSplitQuantity),
		errors.Is(err, wallet.ErrInsufficientBalance),
		errors.Is(err, wallet.ErrBadTransfer),
		errors.Is(err, wallet.ErrTrackerDivergence),
		errors.Is(err, wallet.ErrBucketMismatch),
		errors.Is(err, valuation.ErrBadPrice):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
