// Package transfer implements stock transfers between two locations of a
// project. Execution posts a paired outbound and inbound entry per line under
// one reference, so project-wide stock is conserved.
package transfer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stock transfer lifecycle statuses. COMPLETED is terminal.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusApproved  Status = "APPROVED"
	StatusCompleted Status = "COMPLETED"
)

// StockTransfer domain model. FromLocationID and ToLocationID are always
// distinct; a same-location transfer is rejected at creation.
type StockTransfer struct {
	ID             int64
	Number         string
	ProjectID      int64
	FromLocationID int64
	ToLocationID   int64
	VehicleNo      string
	DriverName     string
	Remarks        string
	Status         Status
	CreatedBy      int64
	CreatedAt      time.Time
	ApprovedBy     int64
	ApprovedAt     time.Time
	ExecutedBy     int64
	ExecutedAt     time.Time
}

// RefID derives the deterministic ledger reference shared by both sides of
// every line posted at execution.
func (t StockTransfer) RefID() uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("TRANSFER:%d", t.ID)))
}

// Line is one transferred material with a strictly positive quantity.
type Line struct {
	ID         int64
	TransferID int64
	MaterialID int64
	Qty        decimal.Decimal
	Note       string
}
