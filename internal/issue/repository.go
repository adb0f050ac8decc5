package issue

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

// Repository persists material issues in PostgreSQL.
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
		return errors.New("issue repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, ledger: ledger.NewTxStore(tx)})
	})
}

// Get loads a material issue with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (MaterialIssue, []Line, error) {
	if r == nil {
		return MaterialIssue{}, nil, errors.New("issue repository not initialised")
	}
	var issue MaterialIssue
	var status string
	var approvedBy, cancelledBy *int64
	var approvedAt, cancelledAt *time.Time
	err := r.pool.QueryRow(ctx, `SELECT id, number, project_id, location_id, issued_to, purpose, status, created_by, created_at,
approved_by, approved_at, cancelled_by, cancelled_at
FROM material_issues WHERE id=$1`, id).
		Scan(&issue.ID, &issue.Number, &issue.ProjectID, &issue.LocationID, &issue.IssuedTo, &issue.Purpose, &status,
			&issue.CreatedBy, &issue.CreatedAt, &approvedBy, &approvedAt, &cancelledBy, &cancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MaterialIssue{}, nil, shared.ErrNotFound
		}
		return MaterialIssue{}, nil, err
	}
	issue.Status = Status(status)
	if approvedBy != nil {
		issue.ApprovedBy = *approvedBy
	}
	if approvedAt != nil {
		issue.ApprovedAt = *approvedAt
	}
	if cancelledBy != nil {
		issue.CancelledBy = *cancelledBy
	}
	if cancelledAt != nil {
		issue.CancelledAt = *cancelledAt
	}

	rows, err := r.pool.Query(ctx, `SELECT id, issue_id, material_id, issued_qty::text, note
FROM material_issue_lines WHERE issue_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return MaterialIssue{}, nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		var issued string
		if err := rows.Scan(&line.ID, &line.IssueID, &line.MaterialID, &issued, &line.Note); err != nil {
			return MaterialIssue{}, nil, err
		}
		if line.IssuedQty, err = decimal.NewFromString(issued); err != nil {
			return MaterialIssue{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return MaterialIssue{}, nil, err
	}
	return issue, lines, nil
}

func (r *txRepository) CreateIssue(ctx context.Context, issue MaterialIssue) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO material_issues (number, project_id, location_id, issued_to, purpose, status, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id`,
		issue.Number, issue.ProjectID, issue.LocationID, issue.IssuedTo, issue.Purpose, string(issue.Status), issue.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO material_issue_lines (issue_id, material_id, issued_qty, note)
VALUES ($1,$2,$3::numeric,$4)`,
		line.IssueID, line.MaterialID, line.IssuedQty.String(), line.Note)
	return err
}

func (r *txRepository) UpdateStatus(ctx context.Context, issueID int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE material_issues SET status=$2 WHERE id=$1`, issueID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) SetApproval(ctx context.Context, issueID int64, actorID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE material_issues SET approved_by=$2, approved_at=NOW() WHERE id=$1`, issueID, actorID)
	return err
}

func (r *txRepository) SetCancellation(ctx context.Context, issueID int64, actorID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE material_issues SET cancelled_by=$2, cancelled_at=NOW() WHERE id=$1`, issueID, actorID)
	return err
}

func (r *txRepository) PostLedger(ctx context.Context, mv ledger.Movement) (ledger.Entry, error) {
	return r.ledger.Post(ctx, mv)
}
