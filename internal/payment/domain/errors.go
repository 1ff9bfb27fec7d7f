package domain

import "errors"

var (
	ErrInvalidProvider     = errors.New("invalid_provider")
	ErrProviderNotFound    = errors.New("provider_not_found")
	ErrInvalidConfig       = errors.New("invalid_config")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrMissingEventType    = errors.New("missing_event_type")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrMethodNotAllowed    = errors.New("method_not_allowed")
	ErrInvalidEventID      = errors.New("invalid_event_id")
	ErrEventNotFound       = errors.New("event_not_found")
	ErrReprocessInProgress = errors.New("reprocess_in_progress")
	ErrConcurrentUpdate    = errors.New("concurrent_update")
	ErrGatewayRequest      = errors.New("gateway_request_failed")
	ErrGatewayNotEnabled   = errors.New("gateway_not_configured")
	ErrPaymentNotFound     = errors.New("gateway_payment_not_found")
)
