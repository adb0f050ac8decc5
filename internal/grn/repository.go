package grn

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sitestock-erp/sitestock/internal/ledger"
	"github.com/sitestock-erp/sitestock/internal/platform/db"
	"github.com/sitestock-erp/sitestock/internal/shared"
)

// Repository persists goods receipts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx     pgx.Tx
	ledger ledger.TxStore
}

// WithTx executes the callback inside a repeatable-read transaction; ledger
// postings issued through the callback ride the same transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("grn repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, ledger: ledger.NewTxStore(tx)})
	})
}

// Get loads a goods receipt with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (GoodsReceipt, []Line, error) {
	if r == nil {
		return GoodsReceipt{}, nil, errors.New("grn repository not initialised")
	}
	var grn GoodsReceipt
	var status string
	var approvedBy *int64
	var approvedAt *time.Time
	err := r.pool.QueryRow(ctx, `SELECT id, number, project_id, location_id, po_id, status, remarks, created_by, created_at, approved_by, approved_at
FROM goods_receipts WHERE id=$1`, id).
		Scan(&grn.ID, &grn.Number, &grn.ProjectID, &grn.LocationID, &grn.POID, &status, &grn.Remarks, &grn.CreatedBy, &grn.CreatedAt, &approvedBy, &approvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceipt{}, nil, shared.ErrNotFound
		}
		return GoodsReceipt{}, nil, err
	}
	grn.Status = Status(status)
	if approvedBy != nil {
		grn.ApprovedBy = *approvedBy
	}
	if approvedAt != nil {
		grn.ApprovedAt = *approvedAt
	}

	rows, err := r.pool.Query(ctx, `SELECT id, grn_id, po_line_id, material_id, ordered_qty::text, received_qty::text, accepted_qty::text, rejected_qty::text
FROM goods_receipt_lines WHERE grn_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		var ordered, received, accepted, rejected string
		if err := rows.Scan(&line.ID, &line.GRNID, &line.POLineID, &line.MaterialID, &ordered, &received, &accepted, &rejected); err != nil {
			return GoodsReceipt{}, nil, err
		}
		if line.OrderedQty, err = decimal.NewFromString(ordered); err != nil {
			return GoodsReceipt{}, nil, err
		}
		if line.ReceivedQty, err = decimal.NewFromString(received); err != nil {
			return GoodsReceipt{}, nil, err
		}
		if line.AcceptedQty, err = decimal.NewFromString(accepted); err != nil {
			return GoodsReceipt{}, nil, err
		}
		if line.RejectedQty, err = decimal.NewFromString(rejected); err != nil {
			return GoodsReceipt{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return GoodsReceipt{}, nil, err
	}
	return grn, lines, nil
}

func (r *txRepository) CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO goods_receipts (number, project_id, location_id, po_id, status, remarks, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id`,
		grn.Number, grn.ProjectID, grn.LocationID, grn.POID, string(grn.Status), grn.Remarks, grn.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO goods_receipt_lines (grn_id, po_line_id, material_id, ordered_qty, received_qty, accepted_qty, rejected_qty)
VALUES ($1,$2,$3,$4::numeric,$5::numeric,$6::numeric,$7::numeric)`,
		line.GRNID, line.POLineID, line.MaterialID,
		line.OrderedQty.String(), line.ReceivedQty.String(), line.AcceptedQty.String(), line.RejectedQty.String())
	return err
}

func (r *txRepository) UpdateLineReceipt(ctx context.Context, lineID int64, received, accepted, rejected decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE goods_receipt_lines SET received_qty=$2::numeric, accepted_qty=$3::numeric, rejected_qty=$4::numeric WHERE id=$1`,
		lineID, received.String(), accepted.String(), rejected.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, grnID int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE goods_receipts SET status=$2 WHERE id=$1`, grnID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) SetApproval(ctx context.Context, grnID int64, actorID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE goods_receipts SET approved_by=$2, approved_at=NOW() WHERE id=$1`, grnID, actorID)
	return err
}

func (r *txRepository) PostLedger(ctx context.Context, mv ledger.Movement) (ledger.Entry, error) {
	return r.ledger.Post(ctx, mv)
}
