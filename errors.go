package flagbridge

import (
	"errors"
	"fmt"
)

// Error codes sent to the host.
const (
	CodeArguments      = "arguments"
	CodeArgument       = "argument"
	CodeClient         = "client"
	CodeUser           = "user"
	CodeSDK            = "sdk"
	CodeNotImplemented = "not_implemented"
)

// Error is a coded failure reply.
type Error struct {
	Code    string
	Message string
	Details any

	// Err is the underlying SDK failure, if any
	Err error
}

// Error returns the message unchanged so SDK failures reach the host verbatim.
func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode returns the channel code.
func (e *Error) ErrorCode() string {
	return e.Code
}

// ErrorDetails returns the structured details.
func (e *Error) ErrorDetails() any {
	return e.Details
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func errInvalidArguments() *Error {
	return &Error{Code: CodeArguments, Message: "Missing or invalid arguments"}
}

func errMissingArgument(key string) *Error {
	return &Error{Code: CodeArgument, Message: "Missing argument for key: " + key, Details: key}
}

func errInvalidType(key string) *Error {
	return &Error{Code: CodeArgument, Message: "Invalid type for argument with key: " + key, Details: key}
}

func errClientNotInitialized() *Error {
	return &Error{Code: CodeClient, Message: "Optimizely client not initialized"}
}

func errClientSuperseded() *Error {
	return &Error{Code: CodeClient, Message: "Optimizely client start superseded by a newer initialization"}
}

func errUserNotInitialized() *Error {
	return &Error{Code: CodeUser, Message: "Optimizely user not initialized"}
}

func errNotImplemented(method string) *Error {
	return &Error{Code: CodeNotImplemented, Message: fmt.Sprintf("method not implemented: %s", method), Details: method}
}

// errSDK passes an SDK failure through with its message unchanged.
func errSDK(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeSDK, Message: err.Error(), Err: err}
}
