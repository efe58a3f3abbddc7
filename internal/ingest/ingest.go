// Package ingest parses the CSV inputs accepted by the ledger engine:
// acquisition/disposition ledgers, wallet transfer batches, and allocation
// buckets. All quantity and price text is parsed through decimal arithmetic
// and converted to integer satoshis and cents before anything else sees it.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/btcrgl/ledger-engine/internal/model"
)

var (
	// ErrBadHeader means the CSV header row is missing a required column.
	ErrBadHeader = errors.New("ingest: missing required column")

	// ErrBadRecord means a data row could not be parsed.
	ErrBadRecord = errors.New("ingest: bad record")
)

// dateFormats are tried in order when parsing a date cell. Exports from
// spreadsheets and exchange statements disagree on format, so the list is
// deliberately permissive.
var dateFormats = []string{
	"01/02/06 15:04:05",
	"01/02/2006 15:04:05",
	"2006-01-02 15:04:05",
	"01/02/06 3:04 PM",
	"01/02/06",
	"01/02/2006",
	"06-01-02",
	"2006-01-02",
}

// ParseDate parses a date cell against the accepted formats. Dates are
// interpreted in UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized date %q", ErrBadRecord, s)
}

// ParseMoney parses a dollar amount, tolerating a leading $ and comma
// grouping, and returns whole cents rounded half away from zero.
func ParseMoney(s string) (int64, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("%w: price %q: %v", ErrBadRecord, s, err)
	}
	return d.Shift(2).Round(0).IntPart(), nil
}

// ParseBTC parses a bitcoin quantity and returns satoshis rounded half
// away from zero.
func ParseBTC(s string) (int64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("%w: quantity %q: %v", ErrBadRecord, s, err)
	}
	return d.Shift(8).Round(0).IntPart(), nil
}

// columnIndex maps lowercased header names to their positions.
func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return idx
}

func require(idx map[string]int, names ...string) error {
	for _, name := range names {
		if _, ok := idx[name]; !ok {
			return fmt.Errorf("%w: %q", ErrBadHeader, name)
		}
	}
	return nil
}

// LedgerRecord is one parsed ledger row. Satoshis is positive for an
// acquisition and negative for a disposition.
type LedgerRecord struct {
	At         time.Time
	Satoshis   int64
	PriceCents int64
	Wallet     string
}

// ParseLedgerCSV reads a ledger CSV with columns Date, Bitcoin, Price and an
// optional Wallet column (header names case-insensitive). Rows with a zero
// quantity are rejected; rows without a wallet get the default wallet tag.
func ParseLedgerCSV(r io.Reader) ([]LedgerRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("ingest: read header: %w", err)
	}
	idx := columnIndex(header)
	if err := require(idx, "date", "bitcoin", "price"); err != nil {
		return nil, err
	}
	walletCol, hasWallet := idx["wallet"]

	var records []LedgerRecord
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: line %d: %w", line+1, err)
		}
		line++

		at, err := ParseDate(row[idx["date"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		sats, err := ParseBTC(row[idx["bitcoin"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if sats == 0 {
			return nil, fmt.Errorf("%w: line %d: zero quantity", ErrBadRecord, line)
		}
		price, err := ParseMoney(row[idx["price"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		wallet := model.DefaultWallet
		if hasWallet && walletCol < len(row) {
			if w := strings.TrimSpace(row[walletCol]); w != "" {
				wallet = w
			}
		}

		records = append(records, LedgerRecord{At: at, Satoshis: sats, PriceCents: price, Wallet: wallet})
	}
	return records, nil
}

// TransferRecord is one parsed wallet transfer row.
type TransferRecord struct {
	At       time.Time
	From     string
	To       string
	Satoshis int64
}

// ParseTransferCSV reads a transfer CSV with columns Date, From, To, Bitcoin.
func ParseTransferCSV(r io.Reader) ([]TransferRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("ingest: read header: %w", err)
	}
	idx := columnIndex(header)
	if err := require(idx, "date", "from", "to", "bitcoin"); err != nil {
		return nil, err
	}

	var records []TransferRecord
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: line %d: %w", line+1, err)
		}
		line++

		at, err := ParseDate(row[idx["date"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		sats, err := ParseBTC(row[idx["bitcoin"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if sats <= 0 {
			return nil, fmt.Errorf("%w: line %d: transfer quantity must be positive", ErrBadRecord, line)
		}

		records = append(records, TransferRecord{
			At:       at,
			From:     strings.TrimSpace(row[idx["from"]]),
			To:       strings.TrimSpace(row[idx["to"]]),
			Satoshis: sats,
		})
	}
	return records, nil
}

// BucketRecord is one parsed allocation bucket row.
type BucketRecord struct {
	Wallet   string
	Satoshis int64
}

// ParseBucketCSV reads an allocation CSV with columns Wallet, Bitcoin.
func ParseBucketCSV(r io.Reader) ([]BucketRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("ingest: read header: %w", err)
	}
	idx := columnIndex(header)
	if err := require(idx, "wallet", "bitcoin"); err != nil {
		return nil, err
	}

	var records []BucketRecord
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: line %d: %w", line+1, err)
		}
		line++

		sats, err := ParseBTC(row[idx["bitcoin"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		wallet := strings.TrimSpace(row[idx["wallet"]])
		if wallet == "" || sats <= 0 {
			return nil, fmt.Errorf("%w: line %d: bucket needs a wallet and a positive quantity", ErrBadRecord, line)
		}

		records = append(records, BucketRecord{Wallet: wallet, Satoshis: sats})
	}
	return records, nil
}
