package issue

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
	Get(ctx context.Context, id int64) (MaterialIssue, []Line, error)
}

// TxRepository exposes transactional operations. PostLedger rides the same
// database transaction as the status update, so an approval either posts every
// line or leaves the ledger untouched.
type TxRepository interface {
	CreateIssue(ctx context.Context, issue MaterialIssue) (int64, error)
	InsertLine(ctx context.Context, line Line) error
	UpdateStatus(ctx context.Context, issueID int64, status Status) error
	SetApproval(ctx context.Context, issueID int64, actorID int64) error
	SetCancellation(ctx context.Context, issueID int64, actorID int64) error
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

// Service coordinates the material issue workflow.
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

// CreateInput describes a new material issue.
type CreateInput struct {
	Number     string
	ProjectID  int64
	LocationID int64
	IssuedTo   string
	Purpose    string
	Lines      []CreateLineInput
}

// CreateLineInput is one requested material.
type CreateLineInput struct {
	MaterialID int64
	IssuedQty  decimal.Decimal
	Note       string
}

// Create persists a draft issue. Availability is not checked here; drafts may
// reference more than is on hand and the approval re-validates against live
// balances.
func (s *Service) Create(ctx context.Context, input CreateInput, actor shared.Actor) (MaterialIssue, error) {
	if input.ProjectID == 0 || input.LocationID == 0 {
		return MaterialIssue{}, fmt.Errorf("issue: project and location are required: %w", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return MaterialIssue{}, fmt.Errorf("issue: at least one line is required: %w", shared.ErrValidation)
	}
	seen := make(map[int64]bool, len(input.Lines))
	for _, line := range input.Lines {
		if line.MaterialID == 0 {
			return MaterialIssue{}, fmt.Errorf("issue: material is required: %w", shared.ErrValidation)
		}
		if !line.IssuedQty.IsPositive() {
			return MaterialIssue{}, fmt.Errorf("issue: issued quantity must be positive for material %d: %w", line.MaterialID, shared.ErrValidation)
		}
		if seen[line.MaterialID] {
			return MaterialIssue{}, fmt.Errorf("issue: duplicate material %d: %w", line.MaterialID, shared.ErrValidation)
		}
		seen[line.MaterialID] = true
	}
	if s.refs != nil {
		if err := s.refs.CheckProject(ctx, input.ProjectID); err != nil {
			return MaterialIssue{}, err
		}
		if err := s.refs.CheckLocation(ctx, input.ProjectID, input.LocationID); err != nil {
			return MaterialIssue{}, err
		}
		materials := make([]int64, 0, len(input.Lines))
		for _, line := range input.Lines {
			materials = append(materials, line.MaterialID)
		}
		if err := s.refs.CheckMaterials(ctx, materials); err != nil {
			return MaterialIssue{}, err
		}
	}

	if input.Number == "" {
		input.Number = shared.DocumentNumber("ISS")
	}
	issue := MaterialIssue{
		Number:     input.Number,
		ProjectID:  input.ProjectID,
		LocationID: input.LocationID,
		IssuedTo:   input.IssuedTo,
		Purpose:    input.Purpose,
		Status:     StatusDraft,
		CreatedBy:  actor.ID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		issueID, err := tx.CreateIssue(ctx, issue)
		if err != nil {
			return err
		}
		issue.ID = issueID
		for _, in := range input.Lines {
			if err := tx.InsertLine(ctx, Line{
				IssueID:    issueID,
				MaterialID: in.MaterialID,
				IssuedQty:  in.IssuedQty,
				Note:       in.Note,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return MaterialIssue{}, err
	}
	s.recordAudit(ctx, actor, "ISSUE_CREATE", issue.ID, map[string]any{"number": issue.Number})
	return issue, nil
}

// Approve posts one outbound ledger entry per line. Any line that would drive
// its balance negative fails the whole transaction, so a partially applicable
// issue has no stock effect at all.
func (s *Service) Approve(ctx context.Context, issueID int64, actor shared.Actor) (MaterialIssue, error) {
	issue, lines, err := s.repo.Get(ctx, issueID)
	if err != nil {
		return MaterialIssue{}, err
	}
	if issue.Status != StatusDraft {
		return MaterialIssue{}, fmt.Errorf("issue: approve from %s: %w", issue.Status, shared.ErrInvalidState)
	}

	key := fmt.Sprintf("ISSUE:%s", issue.Number)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "issue.approve"); err != nil {
			return MaterialIssue{}, err
		}
		inserted = true
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, issueID, StatusApproved); err != nil {
			return err
		}
		if err := tx.SetApproval(ctx, issueID, actor.ID); err != nil {
			return err
		}
		for _, line := range lines {
			_, err := tx.PostLedger(ctx, ledger.Movement{
				ProjectID:  issue.ProjectID,
				LocationID: issue.LocationID,
				MaterialID: line.MaterialID,
				RefType:    ledger.RefTypeIssue,
				RefID:      issue.RefID(),
				QtyOut:     line.IssuedQty,
				Remarks:    fmt.Sprintf("Issue %s", issue.Number),
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
		if s.observer != nil {
			s.observer.ObserveRejection(err)
		}
		return MaterialIssue{}, err
	}

	if s.observer != nil {
		s.observer.ObservePosted(ctx, ledger.RefTypeIssue)
	}
	issue.Status = StatusApproved
	issue.ApprovedBy = actor.ID
	s.recordAudit(ctx, actor, "ISSUE_APPROVE", issueID, map[string]any{"number": issue.Number})
	return issue, nil
}

// Cancel reverses an approved issue by posting one inbound entry per line. The
// original outbound entries stay in the ledger; the net effect on every
// touched balance is zero.
func (s *Service) Cancel(ctx context.Context, issueID int64, actor shared.Actor) (MaterialIssue, error) {
	issue, lines, err := s.repo.Get(ctx, issueID)
	if err != nil {
		return MaterialIssue{}, err
	}
	if issue.Status != StatusApproved {
		return MaterialIssue{}, fmt.Errorf("issue: cancel from %s: %w", issue.Status, shared.ErrInvalidState)
	}

	key := fmt.Sprintf("ISSUE_CANCEL:%s", issue.Number)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "issue.cancel"); err != nil {
			return MaterialIssue{}, err
		}
		inserted = true
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, issueID, StatusCancelled); err != nil {
			return err
		}
		if err := tx.SetCancellation(ctx, issueID, actor.ID); err != nil {
			return err
		}
		for _, line := range lines {
			_, err := tx.PostLedger(ctx, ledger.Movement{
				ProjectID:  issue.ProjectID,
				LocationID: issue.LocationID,
				MaterialID: line.MaterialID,
				RefType:    ledger.RefTypeIssueCancel,
				RefID:      issue.CancelRefID(),
				QtyIn:      line.IssuedQty,
				Remarks:    fmt.Sprintf("Cancel issue %s", issue.Number),
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
		return MaterialIssue{}, err
	}

	if s.observer != nil {
		s.observer.ObservePosted(ctx, ledger.RefTypeIssueCancel)
	}
	issue.Status = StatusCancelled
	issue.CancelledBy = actor.ID
	s.recordAudit(ctx, actor, "ISSUE_CANCEL", issueID, map[string]any{"number": issue.Number})
	return issue, nil
}

// Get returns an issue with its lines.
func (s *Service) Get(ctx context.Context, issueID int64) (MaterialIssue, []Line, error) {
	return s.repo.Get(ctx, issueID)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, issueID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "material_issue",
		EntityID: fmt.Sprintf("%d", issueID),
		Meta:     meta,
	})
}
