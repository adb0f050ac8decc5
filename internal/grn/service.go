package grn

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sitestock-erp/sitestock/internal/ledger"
	"github.com/sitestock-erp/sitestock/internal/procurement"
	"github.com/sitestock-erp/sitestock/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (GoodsReceipt, []Line, error)
}

// TxRepository exposes transactional operations. PostLedger writes through the
// same database transaction as the status update, so an approval and its
// stock effect commit or roll back as one unit.
type TxRepository interface {
	CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error)
	InsertLine(ctx context.Context, line Line) error
	UpdateLineReceipt(ctx context.Context, lineID int64, received, accepted, rejected decimal.Decimal) error
	UpdateStatus(ctx context.Context, grnID int64, status Status) error
	SetApproval(ctx context.Context, grnID int64, actorID int64) error
	PostLedger(ctx context.Context, mv ledger.Movement) (ledger.Entry, error)
}

// PurchaseOrderPort exposes the PO collaborator required for receiving.
type PurchaseOrderPort interface {
	GetApprovedPO(ctx context.Context, poID int64) (procurement.PurchaseOrder, []procurement.POLine, error)
	NotifyReceived(ctx context.Context, poID int64, lines []procurement.ReceivedLine) error
}

// LedgerObserver is notified after postings commit; it keeps the register
// cache and movement metrics current.
type LedgerObserver interface {
	ObservePosted(ctx context.Context, refType ledger.RefType)
	ObserveRejection(err error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ReferencePort validates master data references before a document is
// accepted. The masterdata repository satisfies it. Material existence is
// already guaranteed by the approved PO lines, so receiving only checks the
// project and location.
type ReferencePort interface {
	CheckProject(ctx context.Context, projectID int64) error
	CheckLocation(ctx context.Context, projectID, locationID int64) error
}

// Service coordinates the goods receipt workflow.
type Service struct {
	repo        RepositoryPort
	po          PurchaseOrderPort
	refs        ReferencePort
	observer    LedgerObserver
	audit       AuditPort
	idempotency *shared.IdempotencyStore
}

// NewService builds Service. Refs, observer, audit and idempotency are
// optional.
func NewService(repo RepositoryPort, po PurchaseOrderPort, refs ReferencePort, observer LedgerObserver, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, po: po, refs: refs, observer: observer, audit: audit, idempotency: idem}
}

// CreateInput describes GRN creation against an approved PO.
type CreateInput struct {
	Number     string
	ProjectID  int64
	LocationID int64
	POID       int64
	Remarks    string
	Lines      []CreateLineInput
}

// CreateLineInput references a PO line; received quantities may already be
// populated at creation time.
type CreateLineInput struct {
	POLineID    int64
	ReceivedQty decimal.Decimal
	AcceptedQty decimal.Decimal
	RejectedQty decimal.Decimal
}

// ReceiptLineInput records quantities observed at the gate and after QC.
type ReceiptLineInput struct {
	POLineID    int64
	ReceivedQty decimal.Decimal
	AcceptedQty decimal.Decimal
	RejectedQty decimal.Decimal
}

// Create validates the referenced PO, copies ordered quantities, and persists
// the document. Status starts at DRAFT, or QC_PENDING when received
// quantities are already present.
func (s *Service) Create(ctx context.Context, input CreateInput, actor shared.Actor) (GoodsReceipt, error) {
	if input.ProjectID == 0 || input.LocationID == 0 {
		return GoodsReceipt{}, fmt.Errorf("grn: project and location are required: %w", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return GoodsReceipt{}, fmt.Errorf("grn: at least one line is required: %w", shared.ErrValidation)
	}
	if s.refs != nil {
		if err := s.refs.CheckProject(ctx, input.ProjectID); err != nil {
			return GoodsReceipt{}, err
		}
		if err := s.refs.CheckLocation(ctx, input.ProjectID, input.LocationID); err != nil {
			return GoodsReceipt{}, err
		}
	}
	_, poLines, err := s.po.GetApprovedPO(ctx, input.POID)
	if err != nil {
		return GoodsReceipt{}, err
	}
	poLineByID := make(map[int64]procurement.POLine, len(poLines))
	for _, line := range poLines {
		poLineByID[line.ID] = line
	}

	status := StatusDraft
	lines := make([]Line, 0, len(input.Lines))
	for _, in := range input.Lines {
		poLine, ok := poLineByID[in.POLineID]
		if !ok {
			return GoodsReceipt{}, fmt.Errorf("grn: line %d does not belong to PO %d: %w", in.POLineID, input.POID, shared.ErrValidation)
		}
		line := Line{
			POLineID:    in.POLineID,
			MaterialID:  poLine.MaterialID,
			OrderedQty:  poLine.OrderedQty,
			ReceivedQty: in.ReceivedQty,
			AcceptedQty: in.AcceptedQty,
			RejectedQty: in.RejectedQty,
		}
		if line.Received() {
			if err := validateReceipt(line.ReceivedQty, line.AcceptedQty, line.RejectedQty); err != nil {
				return GoodsReceipt{}, err
			}
			status = StatusQCPending
		}
		lines = append(lines, line)
	}

	if input.Number == "" {
		input.Number = shared.DocumentNumber("GRN")
	}
	grn := GoodsReceipt{
		Number:     input.Number,
		ProjectID:  input.ProjectID,
		LocationID: input.LocationID,
		POID:       input.POID,
		Status:     status,
		Remarks:    input.Remarks,
		CreatedBy:  actor.ID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grnID, err := tx.CreateGRN(ctx, grn)
		if err != nil {
			return err
		}
		grn.ID = grnID
		for _, line := range lines {
			line.GRNID = grnID
			if err := tx.InsertLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.recordAudit(ctx, actor, "GRN_CREATE", grn.ID, map[string]any{"number": grn.Number, "po_id": grn.POID})
	return grn, nil
}

// RecordReceipt stores received/accepted/rejected quantities and moves the
// document to QC_PENDING. Only DRAFT and QC_PENDING documents accept it; an
// approved GRN is immutable.
func (s *Service) RecordReceipt(ctx context.Context, grnID int64, inputs []ReceiptLineInput, actor shared.Actor) error {
	if len(inputs) == 0 {
		return fmt.Errorf("grn: at least one receipt line is required: %w", shared.ErrValidation)
	}
	grn, lines, err := s.repo.Get(ctx, grnID)
	if err != nil {
		return err
	}
	if grn.Status != StatusDraft && grn.Status != StatusQCPending {
		return fmt.Errorf("grn: record receipt from %s: %w", grn.Status, shared.ErrInvalidState)
	}
	lineByPOLine := make(map[int64]Line, len(lines))
	for _, line := range lines {
		lineByPOLine[line.POLineID] = line
	}
	for _, in := range inputs {
		if _, ok := lineByPOLine[in.POLineID]; !ok {
			return fmt.Errorf("grn: unknown PO line %d: %w", in.POLineID, shared.ErrValidation)
		}
		if err := validateReceipt(in.ReceivedQty, in.AcceptedQty, in.RejectedQty); err != nil {
			return err
		}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, in := range inputs {
			line := lineByPOLine[in.POLineID]
			if err := tx.UpdateLineReceipt(ctx, line.ID, in.ReceivedQty, in.AcceptedQty, in.RejectedQty); err != nil {
				return err
			}
		}
		return tx.UpdateStatus(ctx, grnID, StatusQCPending)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "GRN_RECEIPT", grnID, map[string]any{"number": grn.Number})
	return nil
}

// Approve posts one inbound ledger entry per accepted line and fixes the
// terminal status. Any line with accepted below ordered makes the document
// PARTIAL_APPROVED; a document where every line was fully rejected becomes
// REJECTED with no stock effect. All entries and the status update share one
// transaction.
func (s *Service) Approve(ctx context.Context, grnID int64, actor shared.Actor) (GoodsReceipt, error) {
	grn, lines, err := s.repo.Get(ctx, grnID)
	if err != nil {
		return GoodsReceipt{}, err
	}
	if grn.Status != StatusQCPending {
		return GoodsReceipt{}, fmt.Errorf("grn: approve from %s: %w", grn.Status, shared.ErrInvalidState)
	}
	for _, line := range lines {
		if !line.Received() {
			continue
		}
		if err := validateReceipt(line.ReceivedQty, line.AcceptedQty, line.RejectedQty); err != nil {
			return GoodsReceipt{}, err
		}
	}

	target := StatusApproved
	anyAccepted := false
	for _, line := range lines {
		if line.AcceptedQty.IsPositive() {
			anyAccepted = true
		}
		if line.AcceptedQty.LessThan(line.OrderedQty) {
			target = StatusPartialApproved
		}
	}
	if !anyAccepted {
		target = StatusRejected
	}

	key := fmt.Sprintf("GRN:%s", grn.Number)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "grn.approve"); err != nil {
			return GoodsReceipt{}, err
		}
		inserted = true
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, grnID, target); err != nil {
			return err
		}
		if err := tx.SetApproval(ctx, grnID, actor.ID); err != nil {
			return err
		}
		for _, line := range lines {
			if !line.AcceptedQty.IsPositive() {
				continue
			}
			_, err := tx.PostLedger(ctx, ledger.Movement{
				ProjectID:  grn.ProjectID,
				LocationID: grn.LocationID,
				MaterialID: line.MaterialID,
				RefType:    ledger.RefTypeGRN,
				RefID:      grn.RefID(),
				QtyIn:      line.AcceptedQty,
				Remarks:    fmt.Sprintf("GRN %s", grn.Number),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return GoodsReceipt{}, err
	}

	if anyAccepted {
		if s.observer != nil {
			s.observer.ObservePosted(ctx, ledger.RefTypeGRN)
		}
		received := make([]procurement.ReceivedLine, 0, len(lines))
		for _, line := range lines {
			if line.AcceptedQty.IsPositive() {
				received = append(received, procurement.ReceivedLine{POLineID: line.POLineID, AcceptedQty: line.AcceptedQty})
			}
		}
		if err := s.po.NotifyReceived(ctx, grn.POID, received); err != nil {
			// Delivered-quantity tracking is advisory for billing; the ledger
			// already committed, so surface via audit trail only.
			s.recordAudit(ctx, actor, "GRN_NOTIFY_FAILED", grnID, map[string]any{"error": err.Error()})
		}
	}

	grn.Status = target
	grn.ApprovedBy = actor.ID
	s.recordAudit(ctx, actor, "GRN_APPROVE", grnID, map[string]any{"number": grn.Number, "status": string(target)})
	return grn, nil
}

// Get returns a GRN with its lines.
func (s *Service) Get(ctx context.Context, grnID int64) (GoodsReceipt, []Line, error) {
	return s.repo.Get(ctx, grnID)
}

func validateReceipt(received, accepted, rejected decimal.Decimal) error {
	if received.IsNegative() || accepted.IsNegative() || rejected.IsNegative() {
		return fmt.Errorf("grn: receipt quantities must be non-negative: %w", shared.ErrValidation)
	}
	if !accepted.Add(rejected).Equal(received) {
		return fmt.Errorf("grn: accepted %s + rejected %s must equal received %s: %w",
			accepted, rejected, received, shared.ErrValidation)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, grnID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "goods_receipt",
		EntityID: fmt.Sprintf("%d", grnID),
		Meta:     meta,
	})
}
