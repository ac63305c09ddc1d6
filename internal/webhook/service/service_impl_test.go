package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/k95foods/payoutbridge/internal/allocation"
	"github.com/k95foods/payoutbridge/internal/clock"
	"github.com/k95foods/payoutbridge/internal/config"
	"github.com/k95foods/payoutbridge/internal/notifier"
	"github.com/k95foods/payoutbridge/internal/observability/metrics"
	prdomain "github.com/k95foods/payoutbridge/internal/paymentrequest/domain"
	prrepo "github.com/k95foods/payoutbridge/internal/paymentrequest/repository"
	setrepo "github.com/k95foods/payoutbridge/internal/settlement/repository"
	setservice "github.com/k95foods/payoutbridge/internal/settlement/service"
	"github.com/k95foods/payoutbridge/internal/webhook/domain"
	webhookrepo "github.com/k95foods/payoutbridge/internal/webhook/repository"
	webhookservice "github.com/k95foods/payoutbridge/internal/webhook/service"
	"github.com/k95foods/payoutbridge/internal/webhook/signature"
)

const testSecret = "cf_test_secret"

var baseTime = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	events chan notifier.Event
}

func (r *recordingNotifier) Notify(ctx context.Context, ev notifier.Event) {
	select {
	case r.events <- ev:
	default:
	}
}

type fixture struct {
	svc      webhookservice.Service
	db       *gorm.DB
	notified chan notifier.Event
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE webhook_logs (
			id BIGINT PRIMARY KEY,
			transfer_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			raw_payload TEXT,
			signature TEXT,
			webhook_timestamp TEXT,
			headers TEXT,
			status TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			error_log TEXT,
			payment_request TEXT,
			payment_entry TEXT,
			processing_ms BIGINT,
			received_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_webhook_logs_transfer_id ON webhook_logs(transfer_id)`,
		`CREATE TABLE payment_requests (
			name TEXT PRIMARY KEY,
			party_type TEXT NOT NULL,
			party TEXT NOT NULL,
			company TEXT NOT NULL,
			currency TEXT NOT NULL,
			grand_total NUMERIC NOT NULL,
			mode_of_payment TEXT,
			reference_doctype TEXT,
			reference_name TEXT,
			cost_center TEXT,
			reconciliation_status TEXT NOT NULL DEFAULT 'Pending',
			utr_number TEXT,
			failure_reason TEXT,
			payout_id TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE payment_entries (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			payment_type TEXT NOT NULL,
			party_type TEXT NOT NULL,
			party TEXT NOT NULL,
			company TEXT NOT NULL,
			posting_date DATETIME NOT NULL,
			mode_of_payment TEXT,
			paid_from TEXT,
			paid_to TEXT,
			paid_amount NUMERIC NOT NULL,
			received_amount NUMERIC NOT NULL,
			currency TEXT NOT NULL,
			reference_no TEXT NOT NULL,
			reference_date DATETIME NOT NULL,
			payment_request TEXT,
			remarks TEXT,
			status TEXT NOT NULL,
			finalize_error TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_payment_entries_live_utr
			ON payment_entries(reference_no, party, company)
			WHERE status <> 'cancelled'`,
		`CREATE TABLE payment_entry_references (
			id BIGINT PRIMARY KEY,
			payment_entry_id BIGINT NOT NULL,
			reference_doctype TEXT NOT NULL,
			reference_name TEXT NOT NULL,
			allocated_amount NUMERIC NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE companies (
			name TEXT PRIMARY KEY,
			abbr TEXT NOT NULL,
			default_payable_account TEXT
		)`,
		`CREATE TABLE accounts (
			name TEXT PRIMARY KEY,
			account_name TEXT NOT NULL,
			company TEXT NOT NULL,
			account_type TEXT,
			is_group BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE party_accounts (
			id BIGINT PRIMARY KEY,
			parent TEXT NOT NULL,
			parent_type TEXT NOT NULL,
			company TEXT NOT NULL,
			account TEXT NOT NULL
		)`,
		`CREATE TABLE purchase_orders (
			name TEXT PRIMARY KEY,
			company TEXT NOT NULL,
			grand_total NUMERIC NOT NULL,
			advance_paid NUMERIC NOT NULL DEFAULT 0,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE purchase_invoices (
			name TEXT PRIMARY KEY,
			company TEXT NOT NULL,
			grand_total NUMERIC NOT NULL,
			outstanding_amount NUMERIC NOT NULL DEFAULT 0,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE suppliers (
			name TEXT PRIMARY KEY,
			email_id TEXT
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	masters := []string{
		`INSERT INTO companies (name, abbr, default_payable_account)
			VALUES ('K95 Foods', 'KF', 'Creditors - KF')`,
		`INSERT INTO accounts (name, account_name, company, account_type, is_group)
			VALUES ('Cashfree - KF', 'Cashfree', 'K95 Foods', 'Bank', FALSE)`,
		`INSERT INTO accounts (name, account_name, company, account_type, is_group)
			VALUES ('Creditors - KF', 'Creditors', 'K95 Foods', 'Payable', FALSE)`,
		`INSERT INTO party_accounts (id, parent, parent_type, company, account)
			VALUES (1, 'Acme Traders', 'Supplier', 'K95 Foods', 'Creditors - KF')`,
	}
	for _, stmt := range masters {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("seed masters: %v", err)
		}
	}
	return db
}

func newFixture(t *testing.T, permissive bool, nodeID int64) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(baseTime)

	cfg := config.Config{
		AppName:           "payoutbridge",
		WebhookSecret:     testSecret,
		WebhookPermissive: permissive,
		WebhookMaxSkew:    5 * time.Minute,
		ModeOfPayment:     "Cashfree",
		AutoFinalize:      true,
	}

	m, err := metrics.New(metrics.Config{ServiceName: "payoutbridge"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	settleRepo := setrepo.Provide()
	writer := setservice.NewWriter(setservice.Params{
		Cfg:       cfg,
		DB:        db,
		Repo:      settleRepo,
		Finalizer: setservice.NewFinalizer(settleRepo),
		Requests:  prrepo.Provide(),
		Alloc:     allocation.NewEngine(allocation.Params{DB: db, Log: zap.NewNop()}),
		Node:      node,
		Clock:     clk,
	})

	notified := make(chan notifier.Event, 8)
	svc := webhookservice.NewService(webhookservice.Params{
		Cfg:      cfg,
		DB:       db,
		Node:     node,
		Clock:    clk,
		Verifier: signature.NewVerifier(cfg, clk),
		Repo:     webhookrepo.Provide(),
		Requests: prrepo.Provide(),
		Writer:   writer,
		Notifier: &recordingNotifier{events: notified},
		Metrics:  m,
	})

	return &fixture{svc: svc, db: db, notified: notified}
}

func (f *fixture) seedRequest(t *testing.T, name, total string) {
	t.Helper()

	grand, err := decimal.NewFromString(total)
	if err != nil {
		t.Fatalf("parse total: %v", err)
	}
	req := &prdomain.PaymentRequest{
		Name:                 name,
		PartyType:            "Supplier",
		Party:                "Acme Traders",
		Company:              "K95 Foods",
		Currency:             "INR",
		GrandTotal:           grand,
		ModeOfPayment:        "Cashfree",
		ReconciliationStatus: prdomain.ReconPending,
		PayoutID:             "payout-" + name,
	}
	if err := f.db.Create(req).Error; err != nil {
		t.Fatalf("seed request: %v", err)
	}
}

func signedDelivery(t *testing.T, body string) (http.Header, string) {
	t.Helper()

	ts := fmt.Sprintf("%d", baseTime.Unix())
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(ts + "." + body))

	headers := http.Header{}
	headers.Set("x-webhook-timestamp", ts)
	headers.Set("x-webhook-signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return headers, "application/json"
}

func (f *fixture) loadLog(t *testing.T, transferID string) domain.WebhookLog {
	t.Helper()

	var item domain.WebhookLog
	if err := f.db.Where("transfer_id = ?", transferID).First(&item).Error; err != nil {
		t.Fatalf("load log %s: %v", transferID, err)
	}
	return item
}

func TestHandleSuccessEventSettles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, 31)
	f.seedRequest(t, "PR-0001", "5000")

	body := `{"event":"TRANSFER_SUCCESS","data":{"transfer":{"transferId":"PR-0001","utr":"UTR42","amount":5000}}}`
	headers, contentType := signedDelivery(t, body)

	res, err := f.svc.HandlePayoutWebhook(ctx, []byte(body), contentType, headers)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Status != domain.ResultSuccess {
		t.Fatalf("result = %s (%s)", res.Status, res.Message)
	}
	if res.PaymentEntry == "" {
		t.Fatalf("expected a payment entry name in the result")
	}

	item := f.loadLog(t, "PR-0001")
	if item.Status != domain.StatusSuccess {
		t.Fatalf("log status = %s", item.Status)
	}
	if item.PaymentEntry != res.PaymentEntry || item.PaymentRequest != "PR-0001" {
		t.Fatalf("log links = %s / %s", item.PaymentRequest, item.PaymentEntry)
	}

	var req prdomain.PaymentRequest
	if err := f.db.Where("name = ?", "PR-0001").First(&req).Error; err != nil {
		t.Fatalf("load request: %v", err)
	}
	if req.ReconciliationStatus != prdomain.ReconSuccess || req.UTRNumber != "UTR42" {
		t.Fatalf("request = %s / %s", req.ReconciliationStatus, req.UTRNumber)
	}
	if req.PayoutID != "" {
		t.Fatalf("payout_id = %q, want cleared", req.PayoutID)
	}

	select {
	case ev := <-f.notified:
		if ev.State != "finalized" || ev.Party != "Acme Traders" {
			t.Fatalf("notified %s for %s", ev.State, ev.Party)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a notification")
	}
}

func TestHandleRedeliveryIncrementsRetryCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, 32)
	f.seedRequest(t, "PR-0002", "1200")

	body := `{"event":"TRANSFER_SUCCESS","data":{"transfer":{"transferId":"PR-0002","utr":"UTR77","amount":1200}}}`
	headers, contentType := signedDelivery(t, body)

	for i := 0; i < 3; i++ {
		if _, err := f.svc.HandlePayoutWebhook(ctx, []byte(body), contentType, headers); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	item := f.loadLog(t, "PR-0002")
	if item.RetryCount != 2 {
		t.Fatalf("retry_count = %d, want 2", item.RetryCount)
	}
	if item.Status != domain.StatusDuplicate {
		t.Fatalf("log status = %s, want duplicate after redelivery", item.Status)
	}

	var count int64
	if err := f.db.Table("payment_entries").Count(&count).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if count != 1 {
		t.Fatalf("entries = %d, want 1", count)
	}
}

func TestHandleUnsignedRequestRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, 33)
	f.seedRequest(t, "PR-0003", "900")

	body := `{"event":"TRANSFER_SUCCESS","data":{"transfer":{"transferId":"PR-0003","utr":"UTR90"}}}`
	res, err := f.svc.HandlePayoutWebhook(ctx, []byte(body), "application/json", http.Header{})
	if !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("got %v, want signature invalid", err)
	}
	if res.Status != domain.ResultError {
		t.Fatalf("result = %s", res.Status)
	}

	item := f.loadLog(t, "PR-0003")
	if item.Status != domain.StatusSignatureFailed {
		t.Fatalf("log status = %s", item.Status)
	}

	var req prdomain.PaymentRequest
	if err := f.db.Where("name = ?", "PR-0003").First(&req).Error; err != nil {
		t.Fatalf("load request: %v", err)
	}
	if req.ReconciliationStatus != prdomain.ReconPending {
		t.Fatalf("request must stay pending, got %s", req.ReconciliationStatus)
	}
}

func TestHandleFailedEventMarksRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, 34)
	f.seedRequest(t, "PR-0004", "400")

	body := `{"event":"TRANSFER_FAILED","data":{"transfer":{"transferId":"PR-0004","status":"FAILED","reason":"beneficiary bank offline"}}}`
	headers, contentType := signedDelivery(t, body)

	res, err := f.svc.HandlePayoutWebhook(ctx, []byte(body), contentType, headers)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Status != domain.ResultIgnored {
		t.Fatalf("result = %s, want ignored", res.Status)
	}
	if res.PaymentRequest != "PR-0004" {
		t.Fatalf("payment_request = %q", res.PaymentRequest)
	}

	var req prdomain.PaymentRequest
	if err := f.db.Where("name = ?", "PR-0004").First(&req).Error; err != nil {
		t.Fatalf("load request: %v", err)
	}
	if req.ReconciliationStatus != prdomain.ReconFailed {
		t.Fatalf("reconciliation_status = %s", req.ReconciliationStatus)
	}
	if req.FailureReason != "beneficiary bank offline" {
		t.Fatalf("failure_reason = %q", req.FailureReason)
	}
	if req.PayoutID != "" {
		t.Fatalf("payout_id = %q, want cleared for reissue", req.PayoutID)
	}
}

func TestHandleFailedEventResolvesDriftedID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, 38)
	f.seedRequest(t, "PR-0006", "750")

	body := `{"event":"TRANSFER_FAILED","data":{"transfer":{"transferId":"PR_0006","status":"FAILED","reason":"account closed"}}}`
	headers, contentType := signedDelivery(t, body)

	res, err := f.svc.HandlePayoutWebhook(ctx, []byte(body), contentType, headers)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Status != domain.ResultIgnored {
		t.Fatalf("result = %s, want ignored", res.Status)
	}

	var req prdomain.PaymentRequest
	if err := f.db.Where("name = ?", "PR-0006").First(&req).Error; err != nil {
		t.Fatalf("load request: %v", err)
	}
	if req.ReconciliationStatus != prdomain.ReconFailed {
		t.Fatalf("reconciliation_status = %s, drifted id must still resolve", req.ReconciliationStatus)
	}
}

func TestHandleFailedEventUnknownTransfer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, 39)

	body := `{"event":"TRANSFER_FAILED","data":{"transfer":{"transferId":"PR-GONE","status":"FAILED"}}}`
	headers, contentType := signedDelivery(t, body)

	res, err := f.svc.HandlePayoutWebhook(ctx, []byte(body), contentType, headers)
	if !errors.Is(err, domain.ErrReferenceNotFound) {
		t.Fatalf("got %v, want reference not found", err)
	}
	if res.Status != domain.ResultError {
		t.Fatalf("result = %s", res.Status)
	}

	item := f.loadLog(t, "PR-GONE")
	if item.Status != domain.StatusNotFound {
		t.Fatalf("log status = %s", item.Status)
	}
}

func TestHandleUnknownTransfer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, 35)

	body := `{"event":"TRANSFER_SUCCESS","data":{"transfer":{"transferId":"PR-MISSING","utr":"UTR1"}}}`
	headers, contentType := signedDelivery(t, body)

	_, err := f.svc.HandlePayoutWebhook(ctx, []byte(body), contentType, headers)
	if !errors.Is(err, domain.ErrReferenceNotFound) {
		t.Fatalf("got %v, want reference not found", err)
	}

	item := f.loadLog(t, "PR-MISSING")
	if item.Status != domain.StatusNotFound {
		t.Fatalf("log status = %s", item.Status)
	}
}

func TestHandleMalformedBodyStillLogged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, 36)

	_, err := f.svc.HandlePayoutWebhook(ctx, []byte(`{"event":"TRANSFER_SUCCESS"}`), "application/json", http.Header{})
	if !errors.Is(err, domain.ErrMalformedPayload) {
		t.Fatalf("got %v, want malformed", err)
	}

	var item domain.WebhookLog
	if err := f.db.Where("transfer_id LIKE ?", "UNKNOWN-%").First(&item).Error; err != nil {
		t.Fatalf("load fallback log: %v", err)
	}
	if item.Status != domain.StatusMalformed {
		t.Fatalf("log status = %s", item.Status)
	}
}

func TestHandleUnrecognizedEventIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, 37)

	body := `{"event":"LOW_BALANCE_ALERT","data":{"transfer":{"transferId":"PR-0005"}}}`
	headers, contentType := signedDelivery(t, body)

	res, err := f.svc.HandlePayoutWebhook(ctx, []byte(body), contentType, headers)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Status != domain.ResultIgnored {
		t.Fatalf("result = %s", res.Status)
	}

	item := f.loadLog(t, "PR-0005")
	if item.Status != domain.StatusIgnored {
		t.Fatalf("log status = %s", item.Status)
	}
}
