package procurement

import (
	"time"

	"github.com/shopspring/decimal"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft    POStatus = "DRAFT"
	POStatusApproval POStatus = "APPROVAL"
	POStatusApproved POStatus = "APPROVED"
	POStatusClosed   POStatus = "CLOSED"
)

// PurchaseOrder domain model. Only approved orders can back a goods receipt.
type PurchaseOrder struct {
	ID         int64
	Number     string
	ProjectID  int64
	SupplierID int64
	Status     POStatus
	Note       string
	ApprovedBy int64
	ApprovedAt time.Time
	CreatedAt  time.Time
}

// POLine represents one ordered material. ReceivedQty accumulates delivered
// quantities reported by approved goods receipts for billing matching.
type POLine struct {
	ID          int64
	POID        int64
	MaterialID  int64
	OrderedQty  decimal.Decimal
	ReceivedQty decimal.Decimal
	Note        string
}
