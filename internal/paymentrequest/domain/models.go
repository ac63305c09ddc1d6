package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Reconciliation statuses mirrored onto the payment request. Raw gateway
// statuses are mapped onto these before any write.
const (
	ReconPending  = "Pending"
	ReconSuccess  = "Success"
	ReconFailed   = "Failed"
	ReconReversed = "Reversed"
)

var ErrNotFound = errors.New("payment_request_not_found")

// PaymentRequest is an authorization-to-pay record, distinct from the
// settlement that represents money actually moved. It is keyed by its
// document name; PayoutID holds the gateway-assigned transfer id when the
// two differ.
type PaymentRequest struct {
	Name                 string          `json:"name" gorm:"primaryKey;type:text"`
	PartyType            string          `json:"party_type" gorm:"type:text;not null"`
	Party                string          `json:"party" gorm:"type:text;not null"`
	Company              string          `json:"company" gorm:"type:text;not null"`
	Currency             string          `json:"currency" gorm:"type:text;not null"`
	GrandTotal           decimal.Decimal `json:"grand_total" gorm:"type:numeric(18,2);not null"`
	ModeOfPayment        string          `json:"mode_of_payment" gorm:"type:text"`
	ReferenceDoctype     string          `json:"reference_doctype" gorm:"type:text"`
	ReferenceName        string          `json:"reference_name" gorm:"type:text"`
	CostCenter           string          `json:"cost_center" gorm:"type:text"`
	ReconciliationStatus string          `json:"reconciliation_status" gorm:"type:text;index"`
	UTRNumber            string          `json:"utr_number" gorm:"type:text"`
	FailureReason        string          `json:"failure_reason" gorm:"type:text"`
	PayoutID             string          `json:"payout_id" gorm:"type:text;index"`
	CreatedAt            time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time       `json:"updated_at" gorm:"not null"`
}

func (PaymentRequest) TableName() string { return "payment_requests" }

// MapGatewayStatus maps a raw gateway transfer status onto a
// reconciliation status. Unknown values are treated as pending.
func MapGatewayStatus(raw string) string {
	switch raw {
	case "SUCCESS":
		return ReconSuccess
	case "FAILED", "ERROR":
		return ReconFailed
	case "REVERSED":
		return ReconReversed
	case "PENDING", "RECEIVED":
		return ReconPending
	default:
		return ReconPending
	}
}
