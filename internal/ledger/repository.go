package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sitestock-erp/sitestock/internal/platform/db"
)

// Repository persists ledger entries and the balance projection in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxStore posts movements inside one transaction. Workflow repositories embed
// it so a document status change and its ledger effect commit together.
type TxStore interface {
	Post(ctx context.Context, mv Movement) (Entry, error)
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore wraps an open transaction for ledger posting.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

// Post validates the movement, locks the balance row for its key, computes the
// running balance and appends the entry. The FOR UPDATE lock serialises
// concurrent postings per key so check-then-act on the balance cannot race.
func (s *txStore) Post(ctx context.Context, mv Movement) (Entry, error) {
	if err := mv.Validate(); err != nil {
		return Entry{}, err
	}

	var prevStr *string
	err := s.tx.QueryRow(ctx, `SELECT quantity::text FROM stock_balances
WHERE project_id=$1 AND location_id=$2 AND material_id=$3 FOR UPDATE`,
		mv.ProjectID, mv.LocationID, mv.MaterialID).Scan(&prevStr)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, err
	}
	prev := decimal.Zero
	if prevStr != nil {
		prev, err = decimal.NewFromString(*prevStr)
		if err != nil {
			return Entry{}, fmt.Errorf("ledger: corrupt balance for %s: %w", mv.Key(), err)
		}
	}

	next := prev.Add(mv.QtyIn).Sub(mv.QtyOut)
	if next.IsNegative() {
		return Entry{}, ErrNegativeBalance
	}

	entry := Entry{
		ID:         uuid.New(),
		ProjectID:  mv.ProjectID,
		LocationID: mv.LocationID,
		MaterialID: mv.MaterialID,
		RefType:    mv.RefType,
		RefID:      mv.RefID,
		QtyIn:      mv.QtyIn,
		QtyOut:     mv.QtyOut,
		Balance:    next,
		Remarks:    mv.Remarks,
	}
	err = s.tx.QueryRow(ctx, `INSERT INTO stock_ledger_entries
(id, project_id, location_id, material_id, ref_type, ref_id, qty_in, qty_out, balance, remarks, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8::numeric,$9::numeric,$10,NOW())
RETURNING seq, created_at`,
		entry.ID, entry.ProjectID, entry.LocationID, entry.MaterialID, string(entry.RefType), entry.RefID,
		entry.QtyIn.String(), entry.QtyOut.String(), entry.Balance.String(), entry.Remarks).
		Scan(&entry.Seq, &entry.CreatedAt)
	if err != nil {
		return Entry{}, err
	}

	_, err = s.tx.Exec(ctx, `INSERT INTO stock_balances (project_id, location_id, material_id, quantity, updated_at)
VALUES ($1,$2,$3,$4::numeric,NOW())
ON CONFLICT (project_id, location_id, material_id) DO UPDATE SET quantity=EXCLUDED.quantity, updated_at=NOW()`,
		mv.ProjectID, mv.LocationID, mv.MaterialID, next.String())
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// QueryByKey lists entries for one key in stable seq ascending order.
func (r *Repository) QueryByKey(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	rows, err := r.pool.Query(ctx, `SELECT id, seq, project_id, location_id, material_id, ref_type, ref_id,
qty_in::text, qty_out::text, balance::text, remarks, created_at
FROM stock_ledger_entries
WHERE project_id=$1 AND location_id=$2 AND material_id=$3
ORDER BY seq ASC
LIMIT $4`, filter.ProjectID, filter.LocationID, filter.MaterialID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// CurrentBalance reads the maintained projection, zero when the key is unseen.
func (r *Repository) CurrentBalance(ctx context.Context, key Key) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, errors.New("ledger repository not initialised")
	}
	var qtyStr string
	err := r.pool.QueryRow(ctx, `SELECT quantity::text FROM stock_balances
WHERE project_id=$1 AND location_id=$2 AND material_id=$3`,
		key.ProjectID, key.LocationID, key.MaterialID).Scan(&qtyStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(qtyStr)
}

// ListBalances returns the stock register for a project, optionally one location.
func (r *Repository) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT project_id, location_id, material_id, quantity::text, updated_at
FROM stock_balances
WHERE project_id=$1 AND ($2::bigint IS NULL OR location_id=$2)
ORDER BY location_id ASC, material_id ASC`, filter.ProjectID, nullInt(filter.LocationID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	balances := []Balance{}
	for rows.Next() {
		var b Balance
		var qtyStr string
		if err := rows.Scan(&b.ProjectID, &b.LocationID, &b.MaterialID, &qtyStr, &b.UpdatedAt); err != nil {
			return nil, err
		}
		if b.Quantity, err = decimal.NewFromString(qtyStr); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return balances, nil
}

// ListKeys returns every key the projection knows about; used by the integrity job.
func (r *Repository) ListKeys(ctx context.Context) ([]Key, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT project_id, location_id, material_id FROM stock_balances ORDER BY project_id, location_id, material_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.ProjectID, &k.LocationID, &k.MaterialID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// SumMovements replays a key's entries in SQL; the integrity job compares it
// against the projection.
func (r *Repository) SumMovements(ctx context.Context, key Key) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, errors.New("ledger repository not initialised")
	}
	var sumStr string
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(qty_in - qty_out), 0)::text
FROM stock_ledger_entries
WHERE project_id=$1 AND location_id=$2 AND material_id=$3`,
		key.ProjectID, key.LocationID, key.MaterialID).Scan(&sumStr)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(sumStr)
}

func scanEntry(rows pgx.Rows) (Entry, error) {
	var entry Entry
	var refType string
	var inStr, outStr, balStr string
	if err := rows.Scan(&entry.ID, &entry.Seq, &entry.ProjectID, &entry.LocationID, &entry.MaterialID,
		&refType, &entry.RefID, &inStr, &outStr, &balStr, &entry.Remarks, &entry.CreatedAt); err != nil {
		return Entry{}, err
	}
	entry.RefType = RefType(refType)
	var err error
	if entry.QtyIn, err = decimal.NewFromString(inStr); err != nil {
		return Entry{}, err
	}
	if entry.QtyOut, err = decimal.NewFromString(outStr); err != nil {
		return Entry{}, err
	}
	if entry.Balance, err = decimal.NewFromString(balStr); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
