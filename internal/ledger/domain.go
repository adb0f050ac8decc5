package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sitestock-erp/sitestock/internal/shared"
)

// RefType identifies the originating document kind of a movement.
type RefType string

const (
	// RefTypeGRN marks receipts posted by an approved goods receipt note.
	RefTypeGRN RefType = "GRN"
	// RefTypeIssue marks consumption posted by an approved material issue.
	RefTypeIssue RefType = "ISSUE"
	// RefTypeIssueCancel marks the reversal entries of a cancelled issue.
	RefTypeIssueCancel RefType = "ISSUE_CANCEL"
	// RefTypeTransfer marks the paired entries of an executed stock transfer.
	RefTypeTransfer RefType = "TRANSFER"
)

// Key addresses one stock balance: a material held at a location within a project.
type Key struct {
	ProjectID  int64
	LocationID int64
	MaterialID int64
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d:%d", k.ProjectID, k.LocationID, k.MaterialID)
}

// Entry is one immutable ledger record. Corrections happen via new offsetting
// entries; no code path updates or deletes a written entry.
type Entry struct {
	ID         uuid.UUID
	Seq        int64
	ProjectID  int64
	LocationID int64
	MaterialID int64
	RefType    RefType
	RefID      uuid.UUID
	QtyIn      decimal.Decimal
	QtyOut     decimal.Decimal
	Balance    decimal.Decimal
	Remarks    string
	CreatedAt  time.Time
}

// Key returns the balance key the entry belongs to.
func (e Entry) Key() Key {
	return Key{ProjectID: e.ProjectID, LocationID: e.LocationID, MaterialID: e.MaterialID}
}

// Movement describes a new entry before it is appended. Exactly one of
// QtyIn/QtyOut must be positive, the other zero.
type Movement struct {
	ProjectID  int64
	LocationID int64
	MaterialID int64
	RefType    RefType
	RefID      uuid.UUID
	QtyIn      decimal.Decimal
	QtyOut     decimal.Decimal
	Remarks    string
}

// Key returns the balance key the movement targets.
func (m Movement) Key() Key {
	return Key{ProjectID: m.ProjectID, LocationID: m.LocationID, MaterialID: m.MaterialID}
}

// Validate checks the movement shape before it reaches storage.
func (m Movement) Validate() error {
	if m.ProjectID == 0 || m.LocationID == 0 || m.MaterialID == 0 {
		return fmt.Errorf("ledger: project, location and material are required: %w", shared.ErrValidation)
	}
	switch m.RefType {
	case RefTypeGRN, RefTypeIssue, RefTypeIssueCancel, RefTypeTransfer:
	default:
		return fmt.Errorf("ledger: unknown ref type %q: %w", m.RefType, shared.ErrValidation)
	}
	if m.RefID == uuid.Nil {
		return fmt.Errorf("ledger: ref id is required: %w", shared.ErrValidation)
	}
	if m.QtyIn.IsNegative() || m.QtyOut.IsNegative() {
		return fmt.Errorf("ledger: quantities must be non-negative: %w", shared.ErrValidation)
	}
	inPos, outPos := m.QtyIn.IsPositive(), m.QtyOut.IsPositive()
	if inPos == outPos {
		return fmt.Errorf("ledger: exactly one of qty_in/qty_out must be positive: %w", shared.ErrValidation)
	}
	return nil
}

// Balance is the maintained projection of a key's on-hand quantity.
type Balance struct {
	ProjectID  int64
	LocationID int64
	MaterialID int64
	Quantity   decimal.Decimal
	UpdatedAt  time.Time
}

// Key returns the balance key.
func (b Balance) Key() Key {
	return Key{ProjectID: b.ProjectID, LocationID: b.LocationID, MaterialID: b.MaterialID}
}

// DefaultQueryLimit caps a ledger query when the caller does not set one.
const DefaultQueryLimit = 500

// QueryFilter selects ledger entries for one key.
type QueryFilter struct {
	Key
	Limit int
}

// BalanceFilter selects balances for the stock register. LocationID is optional.
type BalanceFilter struct {
	ProjectID  int64
	LocationID int64
}

// ErrNegativeBalance is returned when a movement would drive a balance below zero.
var ErrNegativeBalance = fmt.Errorf("ledger: movement would drive balance negative: %w", shared.ErrInsufficientStock)
