package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/k95foods/payoutbridge/internal/webhook/domain"
)

// Parse decodes an inbound delivery. JSON bodies may carry the transfer
// fields at the top level or nested under data / data.transfer; anything
// else is treated as a form-encoded body. The flattened field map also
// feeds legacy form-scheme signature verification, so form keys are kept
// exactly as delivered.
func Parse(rawBody []byte, contentType string, headers http.Header) (*domain.Notification, error) {
	if len(rawBody) == 0 {
		return nil, fmt.Errorf("%w: empty body", domain.ErrMalformedPayload)
	}
	if len(rawBody) > domain.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", domain.ErrMalformedPayload, domain.MaxPayloadBytes)
	}

	fields, err := parseFields(rawBody, contentType)
	if err != nil {
		return nil, err
	}

	n := &domain.Notification{
		Fields:  fields,
		RawBody: rawBody,
		Headers: headers,
	}

	n.TransferID = first(fields, "transferId", "transfer_id", "referenceId", "reference_id")
	n.EventType = strings.ToUpper(first(fields, "event", "type"))
	n.UTR = first(fields, "utr", "transferUtr", "transfer_utr")
	n.RawStatus = strings.ToUpper(first(fields, "status"))
	n.FailureReason = first(fields, "reason", "failureReason", "failure_reason")
	n.Timestamp = first(fields, "timestamp", "eventTime", "event_time")
	n.FieldSignature = fields["signature"]

	if raw := first(fields, "amount", "transferAmount", "transfer_amount"); raw != "" {
		if amount, err := decimal.NewFromString(raw); err == nil {
			n.Amount = amount
			n.HasAmount = true
		}
	}

	if n.TransferID == "" {
		return n, fmt.Errorf("%w: missing transfer id", domain.ErrMalformedPayload)
	}
	if len(n.TransferID) > domain.MaxFieldBytes || len(n.UTR) > domain.MaxFieldBytes {
		return n, fmt.Errorf("%w: field exceeds %d bytes", domain.ErrMalformedPayload, domain.MaxFieldBytes)
	}
	return n, nil
}

func parseFields(rawBody []byte, contentType string) (map[string]string, error) {
	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(string(rawBody))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
		fields := make(map[string]string, len(values))
		for k := range values {
			fields[k] = values.Get(k)
		}
		return fields, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(rawBody, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	fields := make(map[string]string)
	flatten(fields, doc, 0)
	return fields, nil
}

// flatten lifts scalar values out of up to two levels of nesting so that
// {"data":{"transfer":{"transferId":...}}} and flat payloads read the
// same. The first value seen for a key wins.
func flatten(fields map[string]string, doc map[string]any, depth int) {
	for k, v := range doc {
		switch val := v.(type) {
		case string:
			setIfAbsent(fields, k, val)
		case float64:
			setIfAbsent(fields, k, strconv.FormatFloat(val, 'f', -1, 64))
		case bool:
			setIfAbsent(fields, k, strconv.FormatBool(val))
		case map[string]any:
			if depth < 2 {
				flatten(fields, val, depth+1)
			}
		}
	}
}

func setIfAbsent(fields map[string]string, k, v string) {
	if _, ok := fields[k]; !ok {
		fields[k] = v
	}
}

func first(fields map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(fields[k]); v != "" {
			return v
		}
	}
	return ""
}
