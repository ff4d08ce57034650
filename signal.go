package servicetree

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable HTTP messages carried by an ErrorSignal.
const (
	HTTPMessageBadRequest          = "BAD_REQUEST"
	HTTPMessageUnprocessableEntity = "UNPROCESSABLE_ENTITY"
	HTTPMessageTooManyRequests     = "TOO_MANY_REQUESTS"
	HTTPMessageInternalServerError = "InternalServerError"
	HTTPMessageServiceUnavailable  = "SERVICE_UNAVAILABLE"
)

// DescriptionNotInitialized is the description and details text of the
// not-ready signal returned by status checks.
const DescriptionNotInitialized = "Endpoint not initialized"

// StatusMessage is the body of a successful status check.
type StatusMessage struct {
	// Subapps lists the names of the mounted children in mount order.
	Subapps []string `json:"subapps"`

	// APIState is the state of the node that answered.
	APIState ServiceState `json:"api_state"`
}

// ErrorSignal is the structured failure every node reports, whether it is
// temporarily not ready or failed while handling a request. It implements
// error so it travels through ordinary error returns.
type ErrorSignal struct {
	HTTPStatusCode int          `json:"httpStatusCode"`
	HTTPMessage    string       `json:"httpMessage"`
	Description    string       `json:"description"`
	APIState       ServiceState `json:"api_state"`
	Details        string       `json:"details"`
}

// ErrorResponse is the wire envelope of an ErrorSignal.
type ErrorResponse struct {
	Error *ErrorSignal `json:"error"`
}

// NewErrorSignal creates a signal without a node state attached.
func NewErrorSignal(httpStatusCode int, httpMessage, description, details string) *ErrorSignal {
	return &ErrorSignal{
		HTTPStatusCode: httpStatusCode,
		HTTPMessage:    httpMessage,
		Description:    description,
		Details:        details,
	}
}

// InternalError is the default 500 signal used for handler-level failures.
func InternalError(details string) *ErrorSignal {
	return NewErrorSignal(http.StatusInternalServerError, HTTPMessageInternalServerError, HTTPMessageInternalServerError, details)
}

// NotReadyError is the 400 signal reported while a node or one of its
// descendants is not ready.
func NotReadyError(state ServiceState) *ErrorSignal {
	sig := NewErrorSignal(http.StatusBadRequest, HTTPMessageBadRequest, DescriptionNotInitialized, DescriptionNotInitialized)
	sig.APIState = state
	return sig
}

// Error implements the error interface.
func (e *ErrorSignal) Error() string {
	if e.Details != "" && e.Details != e.Description {
		return fmt.Sprintf("%d %s: %s: %s", e.HTTPStatusCode, e.HTTPMessage, e.Description, e.Details)
	}
	return fmt.Sprintf("%d %s: %s", e.HTTPStatusCode, e.HTTPMessage, e.Description)
}

// WithState returns a copy of the signal carrying the given node state.
func (e *ErrorSignal) WithState(state ServiceState) *ErrorSignal {
	cp := *e
	cp.APIState = state
	return &cp
}

// IsServerError reports whether the signal describes an operational failure
// rather than a client or readiness condition.
func (e *ErrorSignal) IsServerError() bool {
	return e.HTTPStatusCode >= http.StatusInternalServerError
}

// AsErrorSignal extracts an ErrorSignal from an error chain.
func AsErrorSignal(err error) (*ErrorSignal, bool) {
	var sig *ErrorSignal
	if errors.As(err, &sig) {
		return sig, true
	}
	return nil, false
}

// IsNotReady reports whether err is a readiness signal (a 4xx ErrorSignal)
// as opposed to an operational failure.
func IsNotReady(err error) bool {
	sig, ok := AsErrorSignal(err)
	return ok && sig.HTTPStatusCode == http.StatusBadRequest && sig.HTTPMessage == HTTPMessageBadRequest
}

// WriteJSON renders v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err using the error envelope. Errors that are not
// ErrorSignals are reported as internal errors.
func WriteError(w http.ResponseWriter, err error) {
	sig, ok := AsErrorSignal(err)
	if !ok {
		sig = InternalError(err.Error())
	}
	WriteJSON(w, sig.HTTPStatusCode, ErrorResponse{Error: sig})
}
