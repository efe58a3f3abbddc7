package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/btcrgl/ledger-engine/internal/model"
)

func TestParseLedgerCSV_Basic(t *testing.T) {
	csv := `Date,Bitcoin,Price
01/15/21,1.5,"$30,000.00"
2021-02-01,-0.25,35000.125
`
	records, err := ParseLedgerCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	r := records[0]
	if !r.At.Equal(time.Date(2021, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %v", r.At)
	}
	if r.Satoshis != 150_000_000 {
		t.Errorf("satoshis = %d, want 150000000", r.Satoshis)
	}
	if r.PriceCents != 3_000_000 {
		t.Errorf("price = %d cents, want 3000000", r.PriceCents)
	}
	if r.Wallet != model.DefaultWallet {
		t.Errorf("wallet = %q, want default", r.Wallet)
	}

	r = records[1]
	if r.Satoshis != -25_000_000 {
		t.Errorf("satoshis = %d, want -25000000", r.Satoshis)
	}
	// 35000.125 dollars rounds half away from zero at the cent.
	if r.PriceCents != 3_500_013 {
		t.Errorf("price = %d cents, want 3500013", r.PriceCents)
	}
}

func TestParseLedgerCSV_WalletColumn(t *testing.T) {
	csv := `date,bitcoin,price,wallet
01/15/2021,1.0,10000,cold
01/16/2021,1.0,10000,
`
	records, err := ParseLedgerCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if records[0].Wallet != "cold" {
		t.Errorf("wallet = %q, want cold", records[0].Wallet)
	}
	if records[1].Wallet != model.DefaultWallet {
		t.Errorf("empty wallet cell should fall back to default, got %q", records[1].Wallet)
	}
}

func TestParseLedgerCSV_DateFormats(t *testing.T) {
	dates := []string{
		"01/02/21 15:04:05",
		"01/02/2021 15:04:05",
		"2021-01-02 15:04:05",
		"01/02/21 3:04 PM",
		"01/02/21",
		"01/02/2021",
		"21-01-02",
		"2021-01-02",
	}
	for _, d := range dates {
		at, err := ParseDate(d)
		if err != nil {
			t.Errorf("ParseDate(%q): %v", d, err)
			continue
		}
		y, m, day := at.Date()
		if y != 2021 || m != time.January || day != 2 {
			t.Errorf("ParseDate(%q) = %v, want 2021-01-02", d, at)
		}
	}

	if _, err := ParseDate("the 2nd of January"); !errors.Is(err, ErrBadRecord) {
		t.Errorf("expected ErrBadRecord for nonsense date, got %v", err)
	}
}

func TestParseLedgerCSV_ZeroQuantityRejected(t *testing.T) {
	csv := `Date,Bitcoin,Price
01/15/21,0,30000
`
	if _, err := ParseLedgerCSV(strings.NewReader(csv)); !errors.Is(err, ErrBadRecord) {
		t.Errorf("expected ErrBadRecord for zero quantity, got %v", err)
	}
}

func TestParseLedgerCSV_MissingColumn(t *testing.T) {
	csv := `Date,Amount,Price
01/15/21,1.0,30000
`
	if _, err := ParseLedgerCSV(strings.NewReader(csv)); !errors.Is(err, ErrBadHeader) {
		t.Errorf("expected ErrBadHeader, got %v", err)
	}
}

func TestParseBTC_Rounding(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1", 100_000_000},
		{"0.00000001", 1},
		{"0.000000005", 1},  // half a satoshi rounds up
		{"-0.000000005", -1},
		{"21,000,000", 2_100_000_000_000_000},
	}
	for _, tt := range tests {
		got, err := ParseBTC(tt.in)
		if err != nil {
			t.Errorf("ParseBTC(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseBTC(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseTransferCSV(t *testing.T) {
	csv := `Date,From,To,Bitcoin
01/15/21,hot,cold,0.5
`
	records, err := ParseTransferCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := records[0]
	if r.From != "hot" || r.To != "cold" || r.Satoshis != 50_000_000 {
		t.Errorf("record = %+v", r)
	}

	bad := `Date,From,To,Bitcoin
01/15/21,hot,cold,-0.5
`
	if _, err := ParseTransferCSV(strings.NewReader(bad)); !errors.Is(err, ErrBadRecord) {
		t.Errorf("expected ErrBadRecord for negative transfer, got %v", err)
	}
}

func TestParseBucketCSV(t *testing.T) {
	csv := `Wallet,Bitcoin
treasury,10.5
ops,0.25
`
	records, err := ParseBucketCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Wallet != "treasury" || records[0].Satoshis != 1_050_000_000 {
		t.Errorf("record = %+v", records[0])
	}

	bad := `Wallet,Bitcoin
,1.0
`
	if _, err := ParseBucketCSV(strings.NewReader(bad)); !errors.Is(err, ErrBadRecord) {
		t.Errorf("expected ErrBadRecord for empty wallet, got %v", err)
	}
}
