package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Stored payment entry statuses.
const (
	EntryDraft     = "draft"
	EntrySubmitted = "submitted"
	EntryHeld      = "held"
	EntryCancelled = "cancelled"
)

// State is the settlement writer's terminal outcome for one run.
type State string

const (
	StateFinalized State = "finalized"
	StateHeld      State = "held_for_review"
	StateDuplicate State = "duplicate"
	StateRejected  State = "rejected"
)

// Outcome reports how a settlement run ended.
type Outcome struct {
	State        State
	PaymentEntry string
	Warnings     []string
	Failures     []string
	FinalizeErr  string
}

// PaymentEntry is a settlement record: a held (draft) ledger debit/credit
// pair created from a payout notification. The bank's UTR is the
// idempotency key: at most one non-cancelled entry may exist per
// (reference_no, party, company).
type PaymentEntry struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	Name           string          `json:"name" gorm:"type:text;not null;uniqueIndex:ux_payment_entries_name"`
	PaymentType    string          `json:"payment_type" gorm:"type:text;not null"`
	PartyType      string          `json:"party_type" gorm:"type:text;not null"`
	Party          string          `json:"party" gorm:"type:text;not null"`
	Company        string          `json:"company" gorm:"type:text;not null"`
	PostingDate    time.Time       `json:"posting_date" gorm:"not null"`
	ModeOfPayment  string          `json:"mode_of_payment" gorm:"type:text"`
	PaidFrom       string          `json:"paid_from" gorm:"type:text"`
	PaidTo         string          `json:"paid_to" gorm:"type:text"`
	PaidAmount     decimal.Decimal `json:"paid_amount" gorm:"type:numeric(18,2);not null"`
	ReceivedAmount decimal.Decimal `json:"received_amount" gorm:"type:numeric(18,2);not null"`
	Currency       string          `json:"currency" gorm:"type:text;not null"`
	ReferenceNo    string          `json:"reference_no" gorm:"type:text;not null"`
	ReferenceDate  time.Time       `json:"reference_date" gorm:"not null"`
	PaymentRequest string          `json:"payment_request" gorm:"type:text;index"`
	Remarks        string          `json:"remarks" gorm:"type:text"`
	Status         string          `json:"status" gorm:"type:text;not null;index"`
	FinalizeError  string          `json:"finalize_error" gorm:"type:text"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time       `json:"updated_at" gorm:"not null"`
}

func (PaymentEntry) TableName() string { return "payment_entries" }

// PaymentEntryReference is an allocation line against an outstanding
// reference document.
type PaymentEntryReference struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	PaymentEntryID   snowflake.ID    `json:"payment_entry_id" gorm:"not null;index"`
	ReferenceDoctype string          `json:"reference_doctype" gorm:"type:text;not null"`
	ReferenceName    string          `json:"reference_name" gorm:"type:text;not null"`
	AllocatedAmount  decimal.Decimal `json:"allocated_amount" gorm:"type:numeric(18,2);not null"`
	CreatedAt        time.Time       `json:"created_at" gorm:"not null"`
}

func (PaymentEntryReference) TableName() string { return "payment_entry_references" }

// Company is the minimal company master consumed for account resolution.
type Company struct {
	Name                  string `json:"name" gorm:"primaryKey;type:text"`
	Abbr                  string `json:"abbr" gorm:"type:text;not null"`
	DefaultPayableAccount string `json:"default_payable_account" gorm:"type:text"`
}

func (Company) TableName() string { return "companies" }

// Account is a chart-of-accounts row.
type Account struct {
	Name        string `json:"name" gorm:"primaryKey;type:text"`
	AccountName string `json:"account_name" gorm:"type:text;not null"`
	Company     string `json:"company" gorm:"type:text;not null;index"`
	AccountType string `json:"account_type" gorm:"type:text"`
	IsGroup     bool   `json:"is_group" gorm:"not null;default:false"`
}

func (Account) TableName() string { return "accounts" }

// PartyAccount links a party to its company-specific payable account.
type PartyAccount struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	Parent     string       `json:"parent" gorm:"type:text;not null;index"`
	ParentType string       `json:"parent_type" gorm:"type:text;not null"`
	Company    string       `json:"company" gorm:"type:text;not null"`
	Account    string       `json:"account" gorm:"type:text;not null"`
}

func (PartyAccount) TableName() string { return "party_accounts" }

// Supplier is the vendor master; EmailID feeds payout confirmations.
type Supplier struct {
	Name    string `json:"name" gorm:"primaryKey;type:text"`
	EmailID string `json:"email_id" gorm:"type:text"`
}

func (Supplier) TableName() string { return "suppliers" }
