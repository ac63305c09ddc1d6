package domain

import (
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Payout webhook event types emitted by the gateway.
const (
	EventTransferSuccess  = "TRANSFER_SUCCESS"
	EventTransferFailed   = "TRANSFER_FAILED"
	EventTransferReversed = "TRANSFER_REVERSED"
	EventUnknown          = "UNKNOWN"
)

// Webhook log processing statuses.
const (
	StatusReceived         = "received"
	StatusSignatureFailed  = "signature_failed"
	StatusTimestampExpired = "timestamp_expired"
	StatusMalformed        = "malformed"
	StatusIgnored          = "ignored"
	StatusNotFound         = "not_found"
	StatusDuplicate        = "duplicate"
	StatusRejected         = "rejected"
	StatusHeld             = "held"
	StatusSuccess          = "success"
	StatusError            = "error"
)

// Storage caps applied to every webhook log write.
const (
	MaxPayloadBytes = 32000
	MaxFieldBytes   = 1000
)

// WebhookLog is the durable record of every inbound delivery, keyed by
// transfer id. Rows are created on first sight and updated in place on
// redelivery; they are never deleted.
type WebhookLog struct {
	ID               snowflake.ID   `json:"id" gorm:"primaryKey"`
	TransferID       string         `json:"transfer_id" gorm:"type:text;not null;uniqueIndex:ux_webhook_logs_transfer_id"`
	EventType        string         `json:"event_type" gorm:"type:text;not null"`
	RawPayload       string         `json:"raw_payload" gorm:"type:text"`
	Signature        string         `json:"signature" gorm:"type:text"`
	WebhookTimestamp string         `json:"webhook_timestamp" gorm:"type:text"`
	Headers          datatypes.JSON `json:"headers" gorm:"type:jsonb"`
	Status           string         `json:"status" gorm:"type:text;not null"`
	RetryCount       int            `json:"retry_count" gorm:"not null;default:0"`
	ErrorLog         string         `json:"error_log" gorm:"type:text"`
	PaymentRequest   string         `json:"payment_request" gorm:"type:text"`
	PaymentEntry     string         `json:"payment_entry" gorm:"type:text"`
	ProcessingMS     int64          `json:"processing_ms"`
	ReceivedAt       time.Time      `json:"received_at" gorm:"not null"`
	UpdatedAt        time.Time      `json:"updated_at" gorm:"not null"`
}

func (WebhookLog) TableName() string { return "webhook_logs" }

// Notification is a parsed inbound delivery. It is read-only after parsing.
type Notification struct {
	TransferID     string
	EventType      string
	UTR            string
	Amount         decimal.Decimal
	HasAmount      bool
	RawStatus      string
	FailureReason  string
	Timestamp      string
	FieldSignature string
	Fields         map[string]string
	RawBody        []byte
	Headers        http.Header
}

// HeaderSignature returns the scheme-B signature header, if present.
func (n *Notification) HeaderSignature() string {
	if n.Headers == nil {
		return ""
	}
	return n.Headers.Get("x-webhook-signature")
}

// HeaderTimestamp returns the scheme-B timestamp header, if present.
func (n *Notification) HeaderTimestamp() string {
	if n.Headers == nil {
		return ""
	}
	return n.Headers.Get("x-webhook-timestamp")
}

// Result is the pipeline outcome returned to the gateway.
type Result struct {
	Status         string `json:"status"`
	Message        string `json:"message,omitempty"`
	TransferID     string `json:"transfer_id,omitempty"`
	PaymentRequest string `json:"payment_request,omitempty"`
	PaymentEntry   string `json:"payment_entry,omitempty"`
}

// Response envelope statuses.
const (
	ResultSuccess        = "success"
	ResultError          = "error"
	ResultIgnored        = "ignored"
	ResultDuplicate      = "duplicate"
	ResultPartialSuccess = "partial_success"
)

// Truncate caps s at limit bytes without splitting a UTF-8 sequence.
// Every webhook log field write goes through this to stay inside
// storage limits.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
