package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/k95foods/payoutbridge/internal/clock"
	"github.com/k95foods/payoutbridge/internal/config"
	"github.com/k95foods/payoutbridge/internal/webhook/domain"
)

// Keys never included in the scheme-A signed payload: the signature itself
// plus framework-injected form keys.
var excludedFields = map[string]struct{}{
	"signature": {},
	"cmd":       {},
	"doctype":   {},
}

// Verifier authenticates inbound notifications against the shared secret.
// Two historical schemes are supported: the legacy form-style scheme (the
// signature travels inside the structured fields) and the header-style
// scheme (x-webhook-signature over "timestamp.rawBody").
type Verifier struct {
	secret     string
	permissive bool
	maxSkew    time.Duration
	clock      clock.Clock
}

func NewVerifier(cfg config.Config, clk clock.Clock) *Verifier {
	return &Verifier{
		secret:     cfg.WebhookSecret,
		permissive: cfg.WebhookPermissive,
		maxSkew:    cfg.WebhookMaxSkew,
		clock:      clk,
	}
}

// Verify checks the notification's authenticity. A request with no
// signature evidence at all is rejected unless permissive mode is on.
// A missing shared secret always fails closed.
func (v *Verifier) Verify(n *domain.Notification) error {
	fieldSig := strings.TrimSpace(n.FieldSignature)
	headerSig := strings.TrimSpace(n.HeaderSignature())

	if fieldSig == "" && headerSig == "" {
		if v.permissive {
			return nil
		}
		return domain.ErrSignatureInvalid
	}

	if v.secret == "" {
		return domain.ErrSignatureInvalid
	}

	if fieldSig != "" {
		if !v.verifyFormScheme(n.Fields, fieldSig) {
			return domain.ErrSignatureInvalid
		}
		return v.checkSkew(n.Timestamp)
	}

	timestamp := strings.TrimSpace(n.HeaderTimestamp())
	if timestamp == "" {
		return domain.ErrSignatureInvalid
	}
	if !v.verifyHeaderScheme(timestamp, n.RawBody, headerSig) {
		return domain.ErrSignatureInvalid
	}
	return v.checkSkew(timestamp)
}

// verifyFormScheme implements the legacy scheme: sorted key=value
// concatenation of the structured fields, signature key excluded.
func (v *Verifier) verifyFormScheme(fields map[string]string, declared string) bool {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if _, skip := excludedFields[k]; skip {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	for _, k := range keys {
		payload.WriteString(k)
		payload.WriteString("=")
		payload.WriteString(fields[k])
	}

	return constantTimeEqual(v.sign([]byte(payload.String())), declared)
}

// verifyHeaderScheme signs "timestamp.rawBody". An older revision signed
// the undotted concatenation; that variant was a bug and is not accepted.
func (v *Verifier) verifyHeaderScheme(timestamp string, rawBody []byte, declared string) bool {
	payload := make([]byte, 0, len(timestamp)+1+len(rawBody))
	payload = append(payload, timestamp...)
	payload = append(payload, '.')
	payload = append(payload, rawBody...)

	return constantTimeEqual(v.sign(payload), declared)
}

func (v *Verifier) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(v.secret))
	_, _ = mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func constantTimeEqual(expected, declared string) bool {
	return hmac.Equal([]byte(expected), []byte(declared))
}

// checkSkew enforces the configured clock-skew window whenever the request
// declares a timestamp. The legacy form scheme carries none, so it passes
// through unchecked.
func (v *Verifier) checkSkew(timestamp string) error {
	timestamp = strings.TrimSpace(timestamp)
	if timestamp == "" || v.maxSkew <= 0 {
		return nil
	}

	declared, ok := ParseTimestamp(timestamp)
	if !ok {
		return domain.ErrTimestampExpired
	}

	drift := v.clock.Now().Sub(declared)
	if drift < 0 {
		drift = -drift
	}
	if drift > v.maxSkew {
		return domain.ErrTimestampExpired
	}
	return nil
}

// ParseTimestamp accepts unix seconds, unix milliseconds, or RFC 3339.
func ParseTimestamp(raw string) (time.Time, bool) {
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if unix > 1_000_000_000_000 {
			return time.UnixMilli(unix).UTC(), true
		}
		return time.Unix(unix, 0).UTC(), true
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC(), true
	}
	return time.Time{}, false
}
