package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/btcrgl/ledger-engine/internal/model"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// pgxQuerier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// same query methods serve both the pooled store and its transactional view.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Quantities and cent amounts are BIGINT end to end; no floating point
// touches money.
type PostgresStore struct {
	pool *pgxpool.Pool // nil on a transactional view
	q    pgxQuerier
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// Migrate applies the embedded schema migrations in filename order. Every
// statement is idempotent, so running it at startup is safe.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := migrationFiles.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := s.q.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

// WithinTx begins a database transaction and runs fn against a store view
// bound to it. Nested calls join the enclosing transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresStore{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// trackerColumn maps a tracker to its undisposed-quantity column. Trackers
// come from model constants, never user input, so interpolating the column
// name is safe.
func trackerColumn(tr model.Tracker) string {
	if tr == model.TrackerTax {
		return "tax_undisposed"
	}
	return "gaap_undisposed"
}

func (s *PostgresStore) InsertAcquisition(ctx context.Context, lot *model.AcquisitionLot) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO acquisitions (acquired_at, satoshis, gaap_undisposed, tax_undisposed,
		                           basis_cents, fair_value_cents, impaired_cents, wallet)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		lot.AcquiredAt, lot.Satoshis, lot.GAAPUndisposed, lot.TaxUndisposed,
		lot.BasisCents, lot.FairValueCents, lot.ImpairedCents, lot.Wallet,
	).Scan(&lot.ID)
	if err != nil {
		return fmt.Errorf("insert acquisition: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertDisposition(ctx context.Context, d *model.DispositionLot) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO dispositions (disposed_at, satoshis, gaap_undisposed, tax_undisposed,
		                           price_cents, wallet)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		d.DisposedAt, d.Satoshis, d.GAAPUndisposed, d.TaxUndisposed,
		d.PriceCents, d.Wallet,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("insert disposition: %w", err)
	}
	return nil
}

const acquisitionColumns = `id, acquired_at, satoshis, gaap_undisposed, tax_undisposed,
	        basis_cents, fair_value_cents, impaired_cents, wallet`

func (s *PostgresStore) UnmatchedAcquisitions(ctx context.Context, tr model.Tracker, scope model.Scope, wallet string) ([]model.AcquisitionLot, error) {
	col := trackerColumn(tr)

	query := `SELECT ` + acquisitionColumns + `
		 FROM acquisitions
		 WHERE ` + col + ` > 0`
	args := []any{}
	if scope == model.ScopeWallet {
		query += ` AND wallet = $1`
		args = append(args, wallet)
	}
	query += ` ORDER BY acquired_at ASC, id ASC`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAcquisitions(rows)
}

func (s *PostgresStore) UnmatchedDispositions(ctx context.Context, tr model.Tracker) ([]model.DispositionLot, error) {
	col := trackerColumn(tr)

	rows, err := s.q.Query(ctx,
		`SELECT id, disposed_at, satoshis, gaap_undisposed, tax_undisposed, price_cents, wallet
		 FROM dispositions
		 WHERE `+col+` < 0
		 ORDER BY disposed_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disps []model.DispositionLot
	for rows.Next() {
		var d model.DispositionLot
		if err := rows.Scan(&d.ID, &d.DisposedAt, &d.Satoshis,
			&d.GAAPUndisposed, &d.TaxUndisposed, &d.PriceCents, &d.Wallet); err != nil {
			return nil, err
		}
		disps = append(disps, d)
	}
	return disps, rows.Err()
}

func (s *PostgresStore) ApplyMatch(ctx context.Context, m model.MatchRecord) error {
	col := trackerColumn(m.Tracker)

	tag, err := s.q.Exec(ctx,
		`UPDATE acquisitions SET `+col+` = `+col+` - $2
		 WHERE id = $1 AND `+col+` >= $2`,
		m.AcquisitionID, m.Satoshis)
	if err != nil {
		return fmt.Errorf("decrement acquisition %d: %w", m.AcquisitionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: acquisition %d", ErrNotFound, m.AcquisitionID)
	}

	tag, err = s.q.Exec(ctx,
		`UPDATE dispositions SET `+col+` = `+col+` + $2
		 WHERE id = $1 AND `+col+` + $2 <= 0`,
		m.DispositionID, m.Satoshis)
	if err != nil {
		return fmt.Errorf("advance disposition %d: %w", m.DispositionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: disposition %d", ErrNotFound, m.DispositionID)
	}

	_, err = s.q.Exec(ctx,
		`INSERT INTO matches (acquisition_id, disposition_id, tracker, satoshis, basis_cents, rgl_cents, term)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.AcquisitionID, m.DispositionID, string(m.Tracker),
		m.Satoshis, m.BasisCents, m.RGLCents, string(m.Term))
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAcquisitionQuantities(ctx context.Context, id, satoshis, gaapUndisposed, taxUndisposed int64) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE acquisitions
		 SET satoshis = $2, gaap_undisposed = $3, tax_undisposed = $4
		 WHERE id = $1`,
		id, satoshis, gaapUndisposed, taxUndisposed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: acquisition %d", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) SetAcquisitionWallet(ctx context.Context, id int64, wallet string) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE acquisitions SET wallet = $2 WHERE id = $1`, id, wallet)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: acquisition %d", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) UpdateAcquisitionAllocation(ctx context.Context, id int64, wallet string, undisposed int64) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE acquisitions
		 SET wallet = $2, gaap_undisposed = $3, tax_undisposed = $3
		 WHERE id = $1`,
		id, wallet, undisposed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: acquisition %d", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) RetagDispositions(ctx context.Context, wallet string) error {
	_, err := s.q.Exec(ctx, `UPDATE dispositions SET wallet = $1`, wallet)
	return err
}

func (s *PostgresStore) InsertFairValueMark(ctx context.Context, mark *model.FairValueMark) error {
	return s.q.QueryRow(ctx,
		`INSERT INTO fair_value_marks (price_cents, marked_at) VALUES ($1, $2) RETURNING id`,
		mark.PriceCents, mark.MarkedAt).Scan(&mark.ID)
}

func (s *PostgresStore) LinkFairValueMark(ctx context.Context, markID, acquisitionID int64) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO acquisition_fair_values (mark_id, acquisition_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		markID, acquisitionID)
	return err
}

func (s *PostgresStore) ApplyFairValue(ctx context.Context, asOf time.Time, priceCents int64) error {
	_, err := s.q.Exec(ctx,
		`UPDATE acquisitions SET fair_value_cents = $2
		 WHERE gaap_undisposed > 0 AND acquired_at <= $1`,
		asOf, priceCents)
	return err
}

func (s *PostgresStore) InsertImpairment(ctx context.Context, imp *model.Impairment) error {
	return s.q.QueryRow(ctx,
		`INSERT INTO impairments (price_cents, marked_at) VALUES ($1, $2) RETURNING id`,
		imp.PriceCents, imp.MarkedAt).Scan(&imp.ID)
}

func (s *PostgresStore) ImpairableAcquisitions(ctx context.Context, asOf time.Time, priceCents int64) ([]model.AcquisitionLot, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+acquisitionColumns+`
		 FROM acquisitions
		 WHERE gaap_undisposed > 0 AND acquired_at <= $1 AND impaired_cents > $2
		 ORDER BY acquired_at ASC, id ASC`,
		asOf, priceCents)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAcquisitions(rows)
}

func (s *PostgresStore) ApplyImpairment(ctx context.Context, asOf time.Time, priceCents int64) error {
	_, err := s.q.Exec(ctx,
		`UPDATE acquisitions SET impaired_cents = $2
		 WHERE gaap_undisposed > 0 AND acquired_at <= $1 AND impaired_cents > $2`,
		asOf, priceCents)
	return err
}

func (s *PostgresStore) MatchDetails(ctx context.Context, tr model.Tracker, term model.Term, from, to time.Time) ([]model.MatchDetail, error) {
	rows, err := s.q.Query(ctx,
		`SELECT m.acquisition_id, m.disposition_id, m.tracker, m.satoshis, m.basis_cents, m.rgl_cents, m.term,
		        a.id, a.acquired_at, a.satoshis, a.gaap_undisposed, a.tax_undisposed,
		        a.basis_cents, a.fair_value_cents, a.impaired_cents, a.wallet,
		        d.id, d.disposed_at, d.satoshis, d.gaap_undisposed, d.tax_undisposed, d.price_cents, d.wallet
		 FROM matches m
		 JOIN acquisitions a ON a.id = m.acquisition_id
		 JOIN dispositions d ON d.id = m.disposition_id
		 WHERE m.tracker = $1 AND m.term = $2 AND d.disposed_at >= $3 AND d.disposed_at <= $4
		 ORDER BY d.disposed_at ASC, d.id ASC, m.acquisition_id ASC`,
		string(tr), string(term), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []model.MatchDetail
	for rows.Next() {
		var det model.MatchDetail
		var trS, termS string
		if err := rows.Scan(
			&det.Match.AcquisitionID, &det.Match.DispositionID, &trS,
			&det.Match.Satoshis, &det.Match.BasisCents, &det.Match.RGLCents, &termS,
			&det.Acquisition.ID, &det.Acquisition.AcquiredAt, &det.Acquisition.Satoshis,
			&det.Acquisition.GAAPUndisposed, &det.Acquisition.TaxUndisposed,
			&det.Acquisition.BasisCents, &det.Acquisition.FairValueCents,
			&det.Acquisition.ImpairedCents, &det.Acquisition.Wallet,
			&det.Disposition.ID, &det.Disposition.DisposedAt, &det.Disposition.Satoshis,
			&det.Disposition.GAAPUndisposed, &det.Disposition.TaxUndisposed,
			&det.Disposition.PriceCents, &det.Disposition.Wallet,
		); err != nil {
			return nil, err
		}
		det.Match.Tracker = model.Tracker(trS)
		det.Match.Term = model.Term(termS)
		details = append(details, det)
	}
	return details, rows.Err()
}

func (s *PostgresStore) UndisposedAcquisitionsAsOf(ctx context.Context, asOf time.Time) ([]model.AcquisitionLot, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+acquisitionColumns+`
		 FROM acquisitions
		 WHERE gaap_undisposed > 0 AND acquired_at <= $1
		 ORDER BY acquired_at ASC, id ASC`,
		asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAcquisitions(rows)
}

func scanAcquisitions(rows pgx.Rows) ([]model.AcquisitionLot, error) {
	var lots []model.AcquisitionLot
	for rows.Next() {
		var lot model.AcquisitionLot
		if err := rows.Scan(&lot.ID, &lot.AcquiredAt, &lot.Satoshis,
			&lot.GAAPUndisposed, &lot.TaxUndisposed,
			&lot.BasisCents, &lot.FairValueCents, &lot.ImpairedCents, &lot.Wallet); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}
