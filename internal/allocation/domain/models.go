package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reference document types a payment request may point at.
const (
	DoctypePurchaseOrder   = "Purchase Order"
	DoctypePurchaseInvoice = "Purchase Invoice"
)

// PurchaseOrder carries the fields the allocation engine reads. The
// outstanding amount is derived: grand_total - advance_paid.
type PurchaseOrder struct {
	Name        string          `json:"name" gorm:"primaryKey;type:text"`
	Company     string          `json:"company" gorm:"type:text;not null"`
	GrandTotal  decimal.Decimal `json:"grand_total" gorm:"type:numeric(18,2);not null"`
	AdvancePaid decimal.Decimal `json:"advance_paid" gorm:"type:numeric(18,2);not null;default:0"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (PurchaseOrder) TableName() string { return "purchase_orders" }

// PurchaseInvoice stores its outstanding amount directly.
type PurchaseInvoice struct {
	Name              string          `json:"name" gorm:"primaryKey;type:text"`
	Company           string          `json:"company" gorm:"type:text;not null"`
	GrandTotal        decimal.Decimal `json:"grand_total" gorm:"type:numeric(18,2);not null"`
	OutstandingAmount decimal.Decimal `json:"outstanding_amount" gorm:"type:numeric(18,2);not null;default:0"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (PurchaseInvoice) TableName() string { return "purchase_invoices" }

// Line is a single allocation against a reference document.
type Line struct {
	ReferenceDoctype string
	ReferenceName    string
	AllocatedAmount  decimal.Decimal
}

// Plan is the allocation engine's output: at most one allocation line,
// the unallocated advance remainder, an audit note, and accumulated
// warnings (non-fatal) and failures (fatal for auto-finalize).
type Plan struct {
	Lines    []Line
	Advance  decimal.Decimal
	Note     string
	Warnings []string
	Failures []string
}

// FullyAllocated reports whether the whole amount landed on the reference.
func (p Plan) FullyAllocated() bool {
	return len(p.Lines) > 0 && p.Advance.IsZero()
}
