package flagbridge

import (
	"sync"
)

// Call is one invocation received on the channel.
type Call struct {
	Method    string
	Arguments any
}

// Result receives the single reply to a Call.
type Result interface {
	Success(value any)
	Error(code, message string, details any)
	NotImplemented()
}

// onceResult forwards only the first reply.
type onceResult struct {
	once   sync.Once
	result Result
}

func (r *onceResult) Success(value any) {
	r.once.Do(func() { r.result.Success(value) })
}

func (r *onceResult) Error(code, message string, details any) {
	r.once.Do(func() { r.result.Error(code, message, details) })
}

func (r *onceResult) NotImplemented() {
	r.once.Do(func() { r.result.NotImplemented() })
}

// ResultFunc adapts a function to Result.
type ResultFunc func(value any, err *Error)

func (f ResultFunc) Success(value any) {
	f(value, nil)
}

func (f ResultFunc) Error(code, message string, details any) {
	f(nil, &Error{Code: code, Message: message, Details: details})
}

func (f ResultFunc) NotImplemented() {
	f(nil, &Error{Code: CodeNotImplemented, Message: "method not implemented"})
}
