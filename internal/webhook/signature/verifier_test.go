package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/k95foods/payoutbridge/internal/clock"
	"github.com/k95foods/payoutbridge/internal/config"
	"github.com/k95foods/payoutbridge/internal/webhook/domain"
	"github.com/k95foods/payoutbridge/internal/webhook/signature"
)

const testSecret = "cf_test_secret"

var baseTime = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newVerifier(t *testing.T, permissive bool) *signature.Verifier {
	t.Helper()
	return signature.NewVerifier(config.Config{
		WebhookSecret:     testSecret,
		WebhookPermissive: permissive,
		WebhookMaxSkew:    5 * time.Minute,
	}, clock.NewFakeClock(baseTime))
}

func sign(t *testing.T, payload string) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(testSecret))
	if _, err := mac.Write([]byte(payload)); err != nil {
		t.Fatalf("hmac write: %v", err)
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func formSignature(t *testing.T, fields map[string]string) string {
	t.Helper()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "signature" || k == "cmd" || k == "doctype" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var payload strings.Builder
	for _, k := range keys {
		payload.WriteString(k + "=" + fields[k])
	}
	return sign(t, payload.String())
}

func TestVerifyFormScheme(t *testing.T) {
	fields := map[string]string{
		"transferId": "PR-0001",
		"event":      "TRANSFER_SUCCESS",
		"utr":        "UTR42",
		"cmd":        "handler",
	}
	fields["signature"] = formSignature(t, fields)

	n := &domain.Notification{Fields: fields, FieldSignature: fields["signature"]}
	if err := newVerifier(t, false).Verify(n); err != nil {
		t.Fatalf("verify: %v", err)
	}

	n.Fields["utr"] = "UTR43"
	if err := newVerifier(t, false).Verify(n); !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("tampered field: got %v, want signature invalid", err)
	}
}

func TestVerifyHeaderScheme(t *testing.T) {
	body := []byte(`{"event":"TRANSFER_SUCCESS","data":{"transfer":{"transferId":"PR-0002"}}}`)
	ts := fmt.Sprintf("%d", baseTime.Unix())

	headers := http.Header{}
	headers.Set("x-webhook-timestamp", ts)
	headers.Set("x-webhook-signature", sign(t, ts+"."+string(body)))

	n := &domain.Notification{RawBody: body, Headers: headers}
	if err := newVerifier(t, false).Verify(n); err != nil {
		t.Fatalf("verify: %v", err)
	}

	headers.Set("x-webhook-signature", sign(t, ts+string(body)))
	if err := newVerifier(t, false).Verify(n); !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("undotted payload must not verify: got %v", err)
	}
}

func TestVerifyHeaderSchemeRequiresTimestamp(t *testing.T) {
	body := []byte(`{}`)
	headers := http.Header{}
	headers.Set("x-webhook-signature", sign(t, "."+string(body)))

	n := &domain.Notification{RawBody: body, Headers: headers}
	if err := newVerifier(t, false).Verify(n); !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("got %v, want signature invalid", err)
	}
}

func TestVerifySkewWindow(t *testing.T) {
	body := []byte(`{"ok":true}`)

	for _, tc := range []struct {
		name    string
		at      time.Time
		wantErr error
	}{
		{name: "inside window", at: baseTime.Add(-4 * time.Minute)},
		{name: "stale", at: baseTime.Add(-6 * time.Minute), wantErr: domain.ErrTimestampExpired},
		{name: "future", at: baseTime.Add(6 * time.Minute), wantErr: domain.ErrTimestampExpired},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ts := fmt.Sprintf("%d", tc.at.Unix())
			headers := http.Header{}
			headers.Set("x-webhook-timestamp", ts)
			headers.Set("x-webhook-signature", sign(t, ts+"."+string(body)))

			n := &domain.Notification{RawBody: body, Headers: headers}
			err := newVerifier(t, false).Verify(n)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("verify: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestVerifyUnparseableTimestamp(t *testing.T) {
	body := []byte(`{}`)
	ts := "not-a-time"
	headers := http.Header{}
	headers.Set("x-webhook-timestamp", ts)
	headers.Set("x-webhook-signature", sign(t, ts+"."+string(body)))

	n := &domain.Notification{RawBody: body, Headers: headers}
	if err := newVerifier(t, false).Verify(n); !errors.Is(err, domain.ErrTimestampExpired) {
		t.Fatalf("got %v, want timestamp expired", err)
	}
}

func TestVerifyUnsignedRequest(t *testing.T) {
	n := &domain.Notification{Fields: map[string]string{"transferId": "PR-0003"}}

	if err := newVerifier(t, false).Verify(n); !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("strict mode: got %v, want signature invalid", err)
	}
	if err := newVerifier(t, true).Verify(n); err != nil {
		t.Fatalf("permissive mode: %v", err)
	}
}

func TestVerifyEmptySecretFailsClosed(t *testing.T) {
	fields := map[string]string{"transferId": "PR-0004"}
	fields["signature"] = formSignature(t, fields)

	v := signature.NewVerifier(config.Config{
		WebhookSecret:     "",
		WebhookPermissive: true,
		WebhookMaxSkew:    5 * time.Minute,
	}, clock.NewFakeClock(baseTime))

	n := &domain.Notification{Fields: fields, FieldSignature: fields["signature"]}
	if err := v.Verify(n); !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("got %v, want signature invalid", err)
	}
}

func TestParseTimestampFormats(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want time.Time
		ok   bool
	}{
		{raw: fmt.Sprintf("%d", baseTime.Unix()), want: baseTime, ok: true},
		{raw: fmt.Sprintf("%d", baseTime.UnixMilli()), want: baseTime, ok: true},
		{raw: baseTime.Format(time.RFC3339), want: baseTime, ok: true},
		{raw: "garbage", ok: false},
	} {
		got, ok := signature.ParseTimestamp(tc.raw)
		if ok != tc.ok {
			t.Fatalf("%q: ok = %v, want %v", tc.raw, ok, tc.ok)
		}
		if ok && !got.Equal(tc.want) {
			t.Fatalf("%q: got %v, want %v", tc.raw, got, tc.want)
		}
	}
}
