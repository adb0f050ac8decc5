package transfer

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sitestock-erp/sitestock/internal/ledger"
	"github.com/sitestock-erp/sitestock/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (StockTransfer, []Line, error)
}

// TxRepository exposes transactional operations. PostLedger rides the same
// database transaction as the status update, so both sides of every line
// commit or roll back together.
type TxRepository interface {
	CreateTransfer(ctx context.Context, transfer StockTransfer) (int64, error)
	InsertLine(ctx context.Context, line Line) error
	UpdateStatus(ctx context.Context, transferID int64, status Status) error
	SetApproval(ctx context.Context, transferID int64, actorID int64) error
	SetExecution(ctx context.Context, transferID int64, actorID int64) error
	PostLedger(ctx context.Context, mv ledger.Movement) (ledger.Entry, error)
}

// LedgerObserver is notified after postings commit.
type LedgerObserver interface {
	ObservePosted(ctx context.Context, refType ledger.RefType)
	ObserveRejection(err error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ReferencePort validates master data references before a document is
// accepted. The masterdata repository satisfies it.
type ReferencePort interface {
	CheckProject(ctx context.Context, projectID int64) error
	CheckLocation(ctx context.Context, projectID, locationID int64) error
	CheckMaterials(ctx context.Context, materialIDs []int64) error
}

// Service coordinates the stock transfer workflow.
type Service struct {
	repo        RepositoryPort
	refs        ReferencePort
	observer    LedgerObserver
	audit       AuditPort
	idempotency *shared.IdempotencyStore
}

// NewService builds Service. Refs, observer, audit and idempotency are
// optional.
func NewService(repo RepositoryPort, refs ReferencePort, observer LedgerObserver, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, refs: refs, observer: observer, audit: audit, idempotency: idem}
}

// CreateInput describes a new transfer.
type CreateInput struct {
	Number         string
	ProjectID      int64
	FromLocationID int64
	ToLocationID   int64
	VehicleNo      string
	DriverName     string
	Remarks        string
	Lines          []CreateLineInput
}

// CreateLineInput is one material to move.
type CreateLineInput struct {
	MaterialID int64
	Qty        decimal.Decimal
	Note       string
}

// Create persists a draft transfer. Source and destination must differ.
func (s *Service) Create(ctx context.Context, input CreateInput, actor shared.Actor) (StockTransfer, error) {
	if input.ProjectID == 0 || input.FromLocationID == 0 || input.ToLocationID == 0 {
		return StockTransfer{}, fmt.Errorf("transfer: project and both locations are required: %w", shared.ErrValidation)
	}
	if input.FromLocationID == input.ToLocationID {
		return StockTransfer{}, fmt.Errorf("transfer: source and destination must differ: %w", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return StockTransfer{}, fmt.Errorf("transfer: at least one line is required: %w", shared.ErrValidation)
	}
	seen := make(map[int64]bool, len(input.Lines))
	for _, line := range input.Lines {
		if line.MaterialID == 0 {
			return StockTransfer{}, fmt.Errorf("transfer: material is required: %w", shared.ErrValidation)
		}
		if !line.Qty.IsPositive() {
			return StockTransfer{}, fmt.Errorf("transfer: quantity must be positive for material %d: %w", line.MaterialID, shared.ErrValidation)
		}
		if seen[line.MaterialID] {
			return StockTransfer{}, fmt.Errorf("transfer: duplicate material %d: %w", line.MaterialID, shared.ErrValidation)
		}
		seen[line.MaterialID] = true
	}
	if s.refs != nil {
		if err := s.refs.CheckProject(ctx, input.ProjectID); err != nil {
			return StockTransfer{}, err
		}
		if err := s.refs.CheckLocation(ctx, input.ProjectID, input.FromLocationID); err != nil {
			return StockTransfer{}, err
		}
		if err := s.refs.CheckLocation(ctx, input.ProjectID, input.ToLocationID); err != nil {
			return StockTransfer{}, err
		}
		materials := make([]int64, 0, len(input.Lines))
		for _, line := range input.Lines {
			materials = append(materials, line.MaterialID)
		}
		if err := s.refs.CheckMaterials(ctx, materials); err != nil {
			return StockTransfer{}, err
		}
	}

	if input.Number == "" {
		input.Number = shared.DocumentNumber("TRF")
	}
	transfer := StockTransfer{
		Number:         input.Number,
		ProjectID:      input.ProjectID,
		FromLocationID: input.FromLocationID,
		ToLocationID:   input.ToLocationID,
		VehicleNo:      input.VehicleNo,
		DriverName:     input.DriverName,
		Remarks:        input.Remarks,
		Status:         StatusDraft,
		CreatedBy:      actor.ID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transferID, err := tx.CreateTransfer(ctx, transfer)
		if err != nil {
			return err
		}
		transfer.ID = transferID
		for _, in := range input.Lines {
			if err := tx.InsertLine(ctx, Line{
				TransferID: transferID,
				MaterialID: in.MaterialID,
				Qty:        in.Qty,
				Note:       in.Note,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return StockTransfer{}, err
	}
	s.recordAudit(ctx, actor, "TRANSFER_CREATE", transfer.ID, map[string]any{"number": transfer.Number})
	return transfer, nil
}

// Approve moves a draft to APPROVED. Stock is untouched until execution.
func (s *Service) Approve(ctx context.Context, transferID int64, actor shared.Actor) (StockTransfer, error) {
	transfer, _, err := s.repo.Get(ctx, transferID)
	if err != nil {
		return StockTransfer{}, err
	}
	if transfer.Status != StatusDraft {
		return StockTransfer{}, fmt.Errorf("transfer: approve from %s: %w", transfer.Status, shared.ErrInvalidState)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, transferID, StatusApproved); err != nil {
			return err
		}
		return tx.SetApproval(ctx, transferID, actor.ID)
	})
	if err != nil {
		return StockTransfer{}, err
	}
	transfer.Status = StatusApproved
	transfer.ApprovedBy = actor.ID
	s.recordAudit(ctx, actor, "TRANSFER_APPROVE", transferID, map[string]any{"number": transfer.Number})
	return transfer, nil
}

// Execute posts, per line, an outbound entry at the source and an inbound
// entry at the destination under the same reference. A source balance that
// cannot cover its line fails the whole transaction, leaving both locations
// exactly as they were.
func (s *Service) Execute(ctx context.Context, transferID int64, actor shared.Actor) (StockTransfer, error) {
	transfer, lines, err := s.repo.Get(ctx, transferID)
	if err != nil {
		return StockTransfer{}, err
	}
	if transfer.Status != StatusApproved {
		return StockTransfer{}, fmt.Errorf("transfer: execute from %s: %w", transfer.Status, shared.ErrInvalidState)
	}

	key := fmt.Sprintf("TRANSFER:%s", transfer.Number)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "transfer.execute"); err != nil {
			return StockTransfer{}, err
		}
		inserted = true
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, transferID, StatusCompleted); err != nil {
			return err
		}
		if err := tx.SetExecution(ctx, transferID, actor.ID); err != nil {
			return err
		}
		refID := transfer.RefID()
		for _, line := range lines {
			if _, err := tx.PostLedger(ctx, ledger.Movement{
				ProjectID:  transfer.ProjectID,
				LocationID: transfer.FromLocationID,
				MaterialID: line.MaterialID,
				RefType:    ledger.RefTypeTransfer,
				RefID:      refID,
				QtyOut:     line.Qty,
				Remarks:    fmt.Sprintf("Transfer %s out", transfer.Number),
			}); err != nil {
				return err
			}
			if _, err := tx.PostLedger(ctx, ledger.Movement{
				ProjectID:  transfer.ProjectID,
				LocationID: transfer.ToLocationID,
				MaterialID: line.MaterialID,
				RefType:    ledger.RefTypeTransfer,
				RefID:      refID,
				QtyIn:      line.Qty,
				Remarks:    fmt.Sprintf("Transfer %s in", transfer.Number),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		if s.observer != nil {
			s.observer.ObserveRejection(err)
		}
		return StockTransfer{}, err
	}

	if s.observer != nil {
		s.observer.ObservePosted(ctx, ledger.RefTypeTransfer)
	}
	transfer.Status = StatusCompleted
	transfer.ExecutedBy = actor.ID
	s.recordAudit(ctx, actor, "TRANSFER_EXECUTE", transferID, map[string]any{"number": transfer.Number})
	return transfer, nil
}

// Get returns a transfer with its lines.
func (s *Service) Get(ctx context.Context, transferID int64) (StockTransfer, []Line, error) {
	return s.repo.Get(ctx, transferID)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, transferID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "stock_transfer",
		EntityID: fmt.Sprintf("%d", transferID),
		Meta:     meta,
	})
}
