package procurement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sitestock-erp/sitestock/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (PurchaseOrder, []POLine, error)
}

// TxRepository exposes transactional mutations.
type TxRepository interface {
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertPOLine(ctx context.Context, line POLine) error
	UpdatePOStatus(ctx context.Context, poID int64, status POStatus) error
	SetPOApproval(ctx context.Context, poID int64, actorID int64) error
	AddReceivedQty(ctx context.Context, poLineID int64, qty decimal.Decimal) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ReferencePort validates master data references before a document is
// accepted. The masterdata repository satisfies it.
type ReferencePort interface {
	CheckProject(ctx context.Context, projectID int64) error
	CheckMaterials(ctx context.Context, materialIDs []int64) error
}

// Service manages the purchase order side of the receiving flow.
type Service struct {
	repo  RepositoryPort
	refs  ReferencePort
	audit AuditPort
}

// NewService constructs the procurement service. Refs and audit are optional.
func NewService(repo RepositoryPort, refs ReferencePort, audit AuditPort) *Service {
	return &Service{repo: repo, refs: refs, audit: audit}
}

// CreatePOInput describes the creation payload.
type CreatePOInput struct {
	Number     string
	ProjectID  int64
	SupplierID int64
	Note       string
	Lines      []POLineInput
}

// POLineInput describes one ordered material.
type POLineInput struct {
	MaterialID int64
	OrderedQty decimal.Decimal
	Note       string
}

// Create persists a draft PO with its lines.
func (s *Service) Create(ctx context.Context, input CreatePOInput, actor shared.Actor) (PurchaseOrder, error) {
	if input.ProjectID == 0 {
		return PurchaseOrder{}, fmt.Errorf("procurement: project is required: %w", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, fmt.Errorf("procurement: at least one line is required: %w", shared.ErrValidation)
	}
	if s.refs != nil {
		if err := s.refs.CheckProject(ctx, input.ProjectID); err != nil {
			return PurchaseOrder{}, err
		}
		materials := make([]int64, 0, len(input.Lines))
		for _, line := range input.Lines {
			materials = append(materials, line.MaterialID)
		}
		if err := s.refs.CheckMaterials(ctx, materials); err != nil {
			return PurchaseOrder{}, err
		}
	}
	if input.Number == "" {
		input.Number = shared.DocumentNumber("PO")
	}
	po := PurchaseOrder{Number: input.Number, ProjectID: input.ProjectID, SupplierID: input.SupplierID, Status: POStatusDraft, Note: input.Note}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		poID, err := tx.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = poID
		for _, line := range input.Lines {
			if line.MaterialID == 0 || !line.OrderedQty.IsPositive() {
				return fmt.Errorf("procurement: line requires material and positive quantity: %w", shared.ErrValidation)
			}
			if err := tx.InsertPOLine(ctx, POLine{POID: poID, MaterialID: line.MaterialID, OrderedQty: line.OrderedQty, Note: line.Note}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actor, "PO_CREATE", po.ID, map[string]any{"number": po.Number})
	return po, nil
}

// Submit transitions a draft PO into approval.
func (s *Service) Submit(ctx context.Context, poID int64, actor shared.Actor) error {
	po, _, err := s.repo.Get(ctx, poID)
	if err != nil {
		return err
	}
	if po.Status != POStatusDraft {
		return fmt.Errorf("procurement: submit from %s: %w", po.Status, shared.ErrInvalidState)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdatePOStatus(ctx, poID, POStatusApproval)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "PO_SUBMIT", poID, map[string]any{"number": po.Number})
	return nil
}

// Approve marks a PO as approved, making it receivable.
func (s *Service) Approve(ctx context.Context, poID int64, actor shared.Actor) error {
	po, _, err := s.repo.Get(ctx, poID)
	if err != nil {
		return err
	}
	if po.Status != POStatusApproval {
		return fmt.Errorf("procurement: approve from %s: %w", po.Status, shared.ErrInvalidState)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdatePOStatus(ctx, poID, POStatusApproved); err != nil {
			return err
		}
		return tx.SetPOApproval(ctx, poID, actor.ID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "PO_APPROVE", poID, map[string]any{"number": po.Number})
	return nil
}

// Get returns a PO with its lines.
func (s *Service) Get(ctx context.Context, poID int64) (PurchaseOrder, []POLine, error) {
	return s.repo.Get(ctx, poID)
}

// GetApprovedPO returns an approved PO with lines; receiving against anything
// else is a validation failure for the caller.
func (s *Service) GetApprovedPO(ctx context.Context, poID int64) (PurchaseOrder, []POLine, error) {
	po, lines, err := s.repo.Get(ctx, poID)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	if po.Status != POStatusApproved {
		return PurchaseOrder{}, nil, fmt.Errorf("procurement: PO %s is not approved: %w", po.Number, shared.ErrValidation)
	}
	return po, lines, nil
}

// ReceivedLine reports delivered quantity per PO line.
type ReceivedLine struct {
	POLineID    int64
	AcceptedQty decimal.Decimal
}

// NotifyReceived accumulates delivered quantities on PO lines after a goods
// receipt is approved.
func (s *Service) NotifyReceived(ctx context.Context, poID int64, lines []ReceivedLine) error {
	if len(lines) == 0 {
		return nil
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, line := range lines {
			if line.AcceptedQty.IsPositive() {
				if err := tx.AddReceivedQty(ctx, line.POLineID, line.AcceptedQty); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, poID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: fmt.Sprintf("%d", poID),
		Meta:     meta,
	})
}
