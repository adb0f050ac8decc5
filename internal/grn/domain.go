// Package grn implements the goods receipt workflow: intake of ordered
// materials against an approved purchase order, quality control, and the
// approval that posts accepted quantities into the stock ledger.
package grn

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Goods receipt lifecycle statuses. APPROVED, PARTIAL_APPROVED and REJECTED
// are terminal; an approved GRN is locked against any further edit.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusQCPending       Status = "QC_PENDING"
	StatusApproved        Status = "APPROVED"
	StatusPartialApproved Status = "PARTIAL_APPROVED"
	StatusRejected        Status = "REJECTED"
)

// GoodsReceipt domain model.
type GoodsReceipt struct {
	ID         int64
	Number     string
	ProjectID  int64
	LocationID int64
	POID       int64
	Status     Status
	Remarks    string
	CreatedBy  int64
	CreatedAt  time.Time
	ApprovedBy int64
	ApprovedAt time.Time
}

// RefID derives the deterministic ledger reference for this document.
func (g GoodsReceipt) RefID() uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("GRN:%d", g.ID)))
}

// Line describes one received material. The QC invariant is
// AcceptedQty + RejectedQty == ReceivedQty, checked exactly on decimals.
type Line struct {
	ID          int64
	GRNID       int64
	POLineID    int64
	MaterialID  int64
	OrderedQty  decimal.Decimal
	ReceivedQty decimal.Decimal
	AcceptedQty decimal.Decimal
	RejectedQty decimal.Decimal
}

// Received reports whether quantities have been recorded for the line.
func (l Line) Received() bool {
	return l.ReceivedQty.IsPositive()
}
