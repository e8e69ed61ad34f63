// Package v1 provides the response envelope and error types all version 1
// handlers share.
package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/web"
)

// ErrorDetail is the error half of the response envelope.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is the uniform response shape of the API.
type Envelope struct {
	Ok     bool         `json:"ok"`
	Result any          `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// Respond sends a successful result wrapped in the envelope.
func Respond(ctx context.Context, w http.ResponseWriter, result any, statusCode int) error {
	return web.Respond(ctx, w, Envelope{Ok: true, Result: result}, statusCode)
}

// RespondPretty sends an indented successful envelope.
func RespondPretty(ctx context.Context, w http.ResponseWriter, result any, statusCode int) error {
	return web.RespondPretty(ctx, w, Envelope{Ok: true, Result: result}, statusCode)
}

// =============================================================================

// RequestError is used to pass an error during the request through the
// application with web specific context.
type RequestError struct {
	Err    error
	Status int
}

// NewRequestError wraps a provided error with an HTTP status code. This
// function should be used when handlers encounter expected errors.
func NewRequestError(err error, status int) error {
	return &RequestError{err, status}
}

// Error implements the error interface.
func (re *RequestError) Error() string {
	return re.Err.Error()
}

// StatusFor maps an error onto the HTTP status the API reports it with.
func StatusFor(err error) int {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Status
	}

	switch {
	case errors.Is(err, chain.ErrPeerUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, chain.ErrPeerBanned):
		return http.StatusForbidden
	case errors.Is(err, chain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, chain.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, chain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, chain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, chain.ErrInternal):
		return http.StatusInternalServerError
	case chain.Code(err) != "Internal":
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}
