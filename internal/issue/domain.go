// Package issue implements the material issue workflow: consumption of stock
// from a project location, with approval posting outbound ledger entries and
// cancellation posting offsetting reversals.
package issue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Material issue lifecycle statuses. CANCELLED is reached only from APPROVED
// and leaves the original outbound entries in place next to their reversals.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusApproved  Status = "APPROVED"
	StatusCancelled Status = "CANCELLED"
)

// MaterialIssue domain model.
type MaterialIssue struct {
	ID          int64
	Number      string
	ProjectID   int64
	LocationID  int64
	IssuedTo    string
	Purpose     string
	Status      Status
	CreatedBy   int64
	CreatedAt   time.Time
	ApprovedBy  int64
	ApprovedAt  time.Time
	CancelledBy int64
	CancelledAt time.Time
}

// RefID derives the deterministic ledger reference for the approval entries.
func (m MaterialIssue) RefID() uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("ISSUE:%d", m.ID)))
}

// CancelRefID derives the reference for the reversal entries. It differs from
// RefID so the two posting events stay distinguishable in the ledger.
func (m MaterialIssue) CancelRefID() uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("ISSUE_CANCEL:%d", m.ID)))
}

// Line is one issued material with a strictly positive quantity.
type Line struct {
	ID         int64
	IssueID    int64
	MaterialID int64
	IssuedQty  decimal.Decimal
	Note       string
}
