package service_test

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/k95foods/payoutbridge/internal/webhook/domain"
	webhookservice "github.com/k95foods/payoutbridge/internal/webhook/service"
)

func TestParseNestedJSON(t *testing.T) {
	body := []byte(`{
		"event": "TRANSFER_SUCCESS",
		"data": {
			"transfer": {
				"transferId": "PR-0001",
				"utr": "UTR42",
				"amount": 5000.50,
				"status": "SUCCESS"
			}
		}
	}`)

	n, err := webhookservice.Parse(body, "application/json", http.Header{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n.TransferID != "PR-0001" || n.UTR != "UTR42" {
		t.Fatalf("transfer = %s / %s", n.TransferID, n.UTR)
	}
	if n.EventType != domain.EventTransferSuccess {
		t.Fatalf("event = %s", n.EventType)
	}
	if !n.HasAmount || n.Amount.StringFixed(2) != "5000.50" {
		t.Fatalf("amount = %v (has=%v)", n.Amount, n.HasAmount)
	}
	if n.RawStatus != "SUCCESS" {
		t.Fatalf("status = %s", n.RawStatus)
	}
}

func TestParseFlatJSON(t *testing.T) {
	body := []byte(`{"transfer_id":"PR-0002","event":"transfer_failed","reason":"account blocked"}`)

	n, err := webhookservice.Parse(body, "application/json", http.Header{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n.TransferID != "PR-0002" {
		t.Fatalf("transfer = %s", n.TransferID)
	}
	if n.EventType != domain.EventTransferFailed {
		t.Fatalf("event = %s, want upper-cased", n.EventType)
	}
	if n.FailureReason != "account blocked" {
		t.Fatalf("reason = %q", n.FailureReason)
	}
}

func TestParseFormEncoded(t *testing.T) {
	form := url.Values{}
	form.Set("transferId", "PR-0003")
	form.Set("event", "TRANSFER_SUCCESS")
	form.Set("utr", "UTR77")
	form.Set("signature", "c2lnbmVk")
	form.Set("cmd", "handler")

	n, err := webhookservice.Parse([]byte(form.Encode()), "application/x-www-form-urlencoded", http.Header{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n.TransferID != "PR-0003" || n.UTR != "UTR77" {
		t.Fatalf("transfer = %s / %s", n.TransferID, n.UTR)
	}
	if n.FieldSignature != "c2lnbmVk" {
		t.Fatalf("field signature = %q", n.FieldSignature)
	}
	if n.Fields["cmd"] != "handler" {
		t.Fatalf("form fields must be preserved verbatim for signing")
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	for _, tc := range []struct {
		name        string
		body        string
		contentType string
	}{
		{name: "empty body", body: "", contentType: "application/json"},
		{name: "invalid json", body: "{not json", contentType: "application/json"},
		{name: "missing transfer id", body: `{"event":"TRANSFER_SUCCESS"}`, contentType: "application/json"},
		{name: "oversized body", body: `{"transferId":"` + strings.Repeat("a", domain.MaxPayloadBytes) + `"}`, contentType: "application/json"},
		{name: "oversized transfer id", body: `{"transferId":"` + strings.Repeat("a", domain.MaxFieldBytes+1) + `"}`, contentType: "application/json"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := webhookservice.Parse([]byte(tc.body), tc.contentType, http.Header{})
			if !errors.Is(err, domain.ErrMalformedPayload) {
				t.Fatalf("got %v, want malformed", err)
			}
		})
	}
}
