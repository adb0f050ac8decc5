package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sitestock-erp/sitestock/internal/platform/db"
	"github.com/sitestock-erp/sitestock/internal/shared"
)

// Repository persists purchase orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Get loads a PO header with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	if r == nil {
		return PurchaseOrder{}, nil, errors.New("procurement repository not initialised")
	}
	var po PurchaseOrder
	var status string
	var approvedBy *int64
	var approvedAt *time.Time
	err := r.pool.QueryRow(ctx, `SELECT id, number, project_id, supplier_id, status, note, approved_by, approved_at, created_at
FROM purchase_orders WHERE id=$1`, id).
		Scan(&po.ID, &po.Number, &po.ProjectID, &po.SupplierID, &status, &po.Note, &approvedBy, &approvedAt, &po.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, shared.ErrNotFound
		}
		return PurchaseOrder{}, nil, err
	}
	po.Status = POStatus(status)
	if approvedBy != nil {
		po.ApprovedBy = *approvedBy
	}
	if approvedAt != nil {
		po.ApprovedAt = *approvedAt
	}

	rows, err := r.pool.Query(ctx, `SELECT id, po_id, material_id, ordered_qty::text, received_qty::text, note
FROM purchase_order_lines WHERE po_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var line POLine
		var orderedStr, receivedStr string
		if err := rows.Scan(&line.ID, &line.POID, &line.MaterialID, &orderedStr, &receivedStr, &line.Note); err != nil {
			return PurchaseOrder{}, nil, err
		}
		if line.OrderedQty, err = decimal.NewFromString(orderedStr); err != nil {
			return PurchaseOrder{}, nil, err
		}
		if line.ReceivedQty, err = decimal.NewFromString(receivedStr); err != nil {
			return PurchaseOrder{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, lines, nil
}

func (r *txRepository) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, project_id, supplier_id, status, note, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id`, po.Number, po.ProjectID, po.SupplierID, string(po.Status), po.Note).Scan(&id)
	return id, err
}

func (r *txRepository) InsertPOLine(ctx context.Context, line POLine) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO purchase_order_lines (po_id, material_id, ordered_qty, received_qty, note)
VALUES ($1,$2,$3::numeric,0,$4)`, line.POID, line.MaterialID, line.OrderedQty.String(), line.Note)
	return err
}

func (r *txRepository) UpdatePOStatus(ctx context.Context, poID int64, status POStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2 WHERE id=$1`, poID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) SetPOApproval(ctx context.Context, poID int64, actorID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET approved_by=$2, approved_at=NOW() WHERE id=$1`, poID, actorID)
	return err
}

func (r *txRepository) AddReceivedQty(ctx context.Context, poLineID int64, qty decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_order_lines SET received_qty = received_qty + $2::numeric WHERE id=$1`, poLineID, qty.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
