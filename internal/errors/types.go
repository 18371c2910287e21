package errors

import (
	"errors"
	"fmt"
)

// Error kinds recorded against the fault sink and exposed in responses.
const (
	KindNoKeysAvailable = "no_keys_available"
	KindAllKeysFailing  = "all_keys_failing"
	KindUpstreamError   = "upstream_error"
	KindTransportError  = "transport_error"
	KindConfigError     = "configuration_error"
)

// Pool-level sentinel errors.
var (
	ErrNoKeysAvailable = errors.New("no api keys configured in the pool")
	ErrAllKeysFailing  = errors.New("all api keys have reached the failure threshold")
)

// APIError is the standardized error envelope returned to clients.
type APIError struct {
	HTTPStatus int
	Code       string
	Type       string
	Message    string
	Details    map[string]interface{}
}

// New constructs an APIError.
func New(status int, code, typ, message string) *APIError {
	return &APIError{
		HTTPStatus: status,
		Code:       code,
		Type:       typ,
		Message:    message,
	}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// WithDetails attaches a detail payload and returns the error for chaining.
func (e *APIError) WithDetails(details map[string]interface{}) *APIError {
	e.Details = details
	return e
}

// Envelope renders the error as the JSON body written to clients.
func (e *APIError) Envelope() map[string]interface{} {
	inner := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		inner["details"] = e.Details
	}
	return map[string]interface{}{"error": inner}
}
