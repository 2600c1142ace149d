// Package channel carries bridge calls over a Unix socket.
//
// Each connection carries exactly one exchange: the host writes a CBOR request
// {method, arguments}, the server replies with a CBOR envelope and closes the
// connection.
package channel

import (
	"context"
	"errors"
	"fmt"
)

// Request is the wire form of a call
type Request struct {
	Method    string     `cbor:"method"`
	Arguments RawMessage `cbor:"arguments,omitempty"`
}

// Response is the wire envelope for every reply
type Response struct {
	OK      bool       `cbor:"ok"`
	Code    string     `cbor:"code,omitempty"`
	Message string     `cbor:"message,omitempty"`
	Details any        `cbor:"details,omitempty"`
	Data    RawMessage `cbor:"data,omitempty"`
}

// Error codes produced by the transport itself
const (
	CodeInvalidRequest = "invalid_request"
	CodeInternal       = "internal"
)

// HandlerFunc serves one decoded call
type HandlerFunc func(ctx context.Context, method string, arguments any) (any, error)

// CodedError is implemented by errors that carry a channel code
type CodedError interface {
	error
	ErrorCode() string
}

// DetailedError is implemented by errors that carry structured details
type DetailedError interface {
	error
	ErrorDetails() any
}

// RemoteError is a failure reply received by a Client
type RemoteError struct {
	Method  string
	Code    string
	Message string
	Details any
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Method, e.Code, e.Message)
}

// ErrorCode returns the reply code
func (e *RemoteError) ErrorCode() string {
	return e.Code
}

// IsRemoteError reports whether err is a failure reply
func IsRemoteError(err error) bool {
	var target *RemoteError
	return errors.As(err, &target)
}

// errorResponse converts a handler error into an envelope
func errorResponse(err error) Response {
	response := Response{OK: false, Code: CodeInternal, Message: err.Error()}

	var coded CodedError
	if errors.As(err, &coded) {
		response.Code = coded.ErrorCode()
	}

	var detailed DetailedError
	if errors.As(err, &detailed) {
		response.Details = detailed.ErrorDetails()
	}

	return response
}
