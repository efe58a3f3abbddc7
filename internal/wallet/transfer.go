// Package wallet implements wallet-level operations over acquisition lots:
// moving tax-undisposed quantity between wallets and the one-time allocation
// of an untagged ledger into named wallet buckets.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/btcrgl/ledger-engine/internal/fifo"
	"github.com/btcrgl/ledger-engine/internal/metrics"
	"github.com/btcrgl/ledger-engine/internal/model"
	"github.com/btcrgl/ledger-engine/internal/store"
)

var (
	// ErrInsufficientBalance means a transfer request asked for more
	// tax-undisposed quantity than the source wallet holds.
	ErrInsufficientBalance = errors.New("wallet: insufficient undisposed balance in source wallet")

	// ErrBadTransfer means a transfer request is malformed (non-positive
	// quantity or identical source and destination).
	ErrBadTransfer = errors.New("wallet: invalid transfer request")
)

// TransferRequest moves tax-undisposed satoshis from one wallet to another
// as of a point in time.
type TransferRequest struct {
	At       time.Time `json:"at"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Satoshis int64     `json:"satoshis"`
}

// Transfer applies a batch of wallet transfers in one transaction. Requests
// are processed in timestamp order (stable, so same-timestamp requests keep
// their input order). For each request the source wallet's lots are consumed
// in FIFO order: whole lots are retagged, and at most one final lot is split
// so the moved quantity lands exactly. Any failure rolls back the whole batch.
func Transfer(ctx context.Context, st store.Store, reqs []TransferRequest) error {
	for _, r := range reqs {
		if r.Satoshis <= 0 || r.From == r.To {
			return fmt.Errorf("%w: %d sat from %q to %q", ErrBadTransfer, r.Satoshis, r.From, r.To)
		}
	}

	ordered := make([]TransferRequest, len(reqs))
	copy(ordered, reqs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].At.Before(ordered[j].At) })

	return st.WithinTx(ctx, func(tx store.Store) error {
		for _, r := range ordered {
			if err := applyTransfer(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyTransfer(ctx context.Context, tx store.Store, r TransferRequest) error {
	lots, err := tx.UnmatchedAcquisitions(ctx, model.TrackerTax, model.ScopeWallet, r.From)
	if err != nil {
		return fmt.Errorf("wallet: query lots in %q: %w", r.From, err)
	}

	var available int64
	for _, lot := range lots {
		available += lot.TaxUndisposed
	}
	if available < r.Satoshis {
		return fmt.Errorf("%w: wallet %q holds %d sat undisposed, transfer on %s needs %d; the batch has been rolled back",
			ErrInsufficientBalance, r.From, available, r.At.Format("2006-01-02"), r.Satoshis)
	}

	remaining := r.Satoshis
	for _, lot := range lots {
		if remaining == 0 {
			break
		}
		if lot.TaxUndisposed <= 0 {
			continue
		}
		move := remaining
		if lot.TaxUndisposed < move {
			move = lot.TaxUndisposed
		}
		if err := fifo.Split(ctx, tx, lot, move, r.To); err != nil {
			return fmt.Errorf("wallet: split lot %d for transfer to %q: %w", lot.ID, r.To, err)
		}
		if move < lot.TaxUndisposed {
			metrics.LotSplits.Inc()
		}
		remaining -= move
	}

	slog.Info("transfer applied",
		"at", r.At.Format("2006-01-02"),
		"from", r.From,
		"to", r.To,
		"satoshis", r.Satoshis,
	)
	return nil
}
