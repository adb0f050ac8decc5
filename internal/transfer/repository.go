package transfer

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

// Repository persists stock transfers in PostgreSQL.
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
		return errors.New("transfer repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, ledger: ledger.NewTxStore(tx)})
	})
}

// Get loads a stock transfer with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (StockTransfer, []Line, error) {
	if r == nil {
		return StockTransfer{}, nil, errors.New("transfer repository not initialised")
	}
	var transfer StockTransfer
	var status string
	var approvedBy, executedBy *int64
	var approvedAt, executedAt *time.Time
	err := r.pool.QueryRow(ctx, `SELECT id, number, project_id, from_location_id, to_location_id, vehicle_no, driver_name, remarks, status, created_by, created_at,
approved_by, approved_at, executed_by, executed_at
FROM stock_transfers WHERE id=$1`, id).
		Scan(&transfer.ID, &transfer.Number, &transfer.ProjectID, &transfer.FromLocationID, &transfer.ToLocationID,
			&transfer.VehicleNo, &transfer.DriverName,
			&transfer.Remarks, &status, &transfer.CreatedBy, &transfer.CreatedAt,
			&approvedBy, &approvedAt, &executedBy, &executedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockTransfer{}, nil, shared.ErrNotFound
		}
		return StockTransfer{}, nil, err
	}
	transfer.Status = Status(status)
	if approvedBy != nil {
		transfer.ApprovedBy = *approvedBy
	}
	if approvedAt != nil {
		transfer.ApprovedAt = *approvedAt
	}
	if executedBy != nil {
		transfer.ExecutedBy = *executedBy
	}
	if executedAt != nil {
		transfer.ExecutedAt = *executedAt
	}

	rows, err := r.pool.Query(ctx, `SELECT id, transfer_id, material_id, qty::text, note
FROM stock_transfer_lines WHERE transfer_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return StockTransfer{}, nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		var quantity string
		if err := rows.Scan(&line.ID, &line.TransferID, &line.MaterialID, &quantity, &line.Note); err != nil {
			return StockTransfer{}, nil, err
		}
		if line.Qty, err = decimal.NewFromString(quantity); err != nil {
			return StockTransfer{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return StockTransfer{}, nil, err
	}
	return transfer, lines, nil
}

func (r *txRepository) CreateTransfer(ctx context.Context, transfer StockTransfer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transfers (number, project_id, from_location_id, to_location_id, vehicle_no, driver_name, remarks, status, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		transfer.Number, transfer.ProjectID, transfer.FromLocationID, transfer.ToLocationID,
		transfer.VehicleNo, transfer.DriverName,
		transfer.Remarks, string(transfer.Status), transfer.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_transfer_lines (transfer_id, material_id, qty, note)
VALUES ($1,$2,$3::numeric,$4)`,
		line.TransferID, line.MaterialID, line.Qty.String(), line.Note)
	return err
}

func (r *txRepository) UpdateStatus(ctx context.Context, transferID int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_transfers SET status=$2 WHERE id=$1`, transferID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) SetApproval(ctx context.Context, transferID int64, actorID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_transfers SET approved_by=$2, approved_at=NOW() WHERE id=$1`, transferID, actorID)
	return err
}

func (r *txRepository) SetExecution(ctx context.Context, transferID int64, actorID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_transfers SET executed_by=$2, executed_at=NOW() WHERE id=$1`, transferID, actorID)
	return err
}

func (r *txRepository) PostLedger(ctx context.Context, mv ledger.Movement) (ledger.Entry, error) {
	return r.ledger.Post(ctx, mv)
}
