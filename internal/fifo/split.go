package fifo

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcrgl/ledger-engine/internal/model"
	"github.com/btcrgl/ledger-engine/internal/store"
)

// ErrSplitQuantity is returned when a split is asked to move a non-positive
// quantity or more than the lot's tax-undisposed quantity.
var ErrSplitQuantity = errors.New("fifo: split quantity out of range")

// Split moves transferTax satoshis of lot's tax-undisposed quantity into
// destWallet. If the whole tax tracker moves, only the wallet tag changes.
// Otherwise the lot is divided in two: the original shrinks in place (keeping
// its identity, timestamp, prices and wallet) and a new lot is inserted in
// destWallet carrying the transferred amounts. The original quantity and the
// GAAP tracker move in proportion to the tax quantity transferred, computed
// with the same rounding rule as matching so that for every field
// original.after + new.field == original.before exactly.
func Split(ctx context.Context, st store.Store, lot model.AcquisitionLot, transferTax int64, destWallet string) error {
	if transferTax <= 0 || transferTax > lot.TaxUndisposed {
		return fmt.Errorf("%w: lot %d has %d tax-undisposed sat, asked to move %d",
			ErrSplitQuantity, lot.ID, lot.TaxUndisposed, transferTax)
	}

	if transferTax == lot.TaxUndisposed {
		// Whole-lot move.
		return st.SetAcquisitionWallet(ctx, lot.ID, destWallet)
	}

	transferredGAAP := MulDiv(lot.GAAPUndisposed, transferTax, lot.TaxUndisposed)
	transferredSats := MulDiv(lot.Satoshis, transferTax, lot.TaxUndisposed)

	if err := st.UpdateAcquisitionQuantities(ctx, lot.ID,
		lot.Satoshis-transferredSats,
		lot.GAAPUndisposed-transferredGAAP,
		lot.TaxUndisposed-transferTax,
	); err != nil {
		return fmt.Errorf("fifo: shrink lot %d: %w", lot.ID, err)
	}

	split := model.AcquisitionLot{
		AcquiredAt:     lot.AcquiredAt,
		Satoshis:       transferredSats,
		GAAPUndisposed: transferredGAAP,
		TaxUndisposed:  transferTax,
		BasisCents:     lot.BasisCents,
		FairValueCents: lot.FairValueCents,
		ImpairedCents:  lot.ImpairedCents,
		Wallet:         destWallet,
	}
	if err := st.InsertAcquisition(ctx, &split); err != nil {
		return fmt.Errorf("fifo: insert split of lot %d: %w", lot.ID, err)
	}
	return nil
}
