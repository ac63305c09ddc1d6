package domain

import "errors"

var (
	ErrSignatureInvalid  = errors.New("signature_invalid")
	ErrTimestampExpired  = errors.New("timestamp_expired")
	ErrMalformedPayload  = errors.New("malformed_payload")
	ErrReferenceNotFound = errors.New("reference_not_found")
	ErrStorage           = errors.New("storage_error")
)
