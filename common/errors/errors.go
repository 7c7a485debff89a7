// Package errors implements registered errors identified by a module name
// and a numeric code, so that callers can match on the error kind no
// matter how much context has been attached along the way.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	// UnknownModule is the module name reported for unregistered errors.
	UnknownModule = "unknown"

	// CodeNoError is the reserved "no error" code.
	CodeNoError = 0
)

// Re-exports so this package can be used as a replacement for errors.
var (
	As     = errors.As
	Is     = errors.Is
	Unwrap = errors.Unwrap
)

type kindKey struct {
	module string
	code   uint32
}

var registry = struct {
	sync.Mutex
	kinds map[kindKey]*Error
}{
	kinds: make(map[kindKey]*Error),
}

// Error is a registered error kind.
type Error struct {
	module string
	code   uint32
	msg    string
}

func (e *Error) Error() string {
	return e.msg
}

// Module returns the name of the module that registered the error.
func (e *Error) Module() string {
	return e.module
}

// Code returns the code of the error within its module.
func (e *Error) Code() uint32 {
	return e.code
}

type contextError struct {
	err     error
	context string
}

func (e *contextError) Error() string {
	return e.err.Error() + ": " + e.context
}

func (e *contextError) Unwrap() error {
	return e.err
}

// New registers a new error kind.
//
// The (module, code) pair must be unique and the code must not be
// CodeNoError, otherwise New panics.
func New(module string, code uint32, msg string) error {
	if code == CodeNoError {
		panic(fmt.Errorf("errors: reserved 'no error' code used by %s", module))
	}

	k := kindKey{module, code}
	registry.Lock()
	defer registry.Unlock()
	if prev, ok := registry.kinds[k]; ok {
		panic(fmt.Errorf("errors: %s/%d already registered as '%s'", module, code, prev.msg))
	}

	e := &Error{module: module, code: code, msg: msg}
	registry.kinds[k] = e
	return e
}

// WithContext wraps err with additional context. The result still
// matches err under Is.
func WithContext(err error, context string) error {
	if context == "" {
		return err
	}
	return &contextError{err: err, context: context}
}

// Context returns the context attached to the error, innermost last.
func Context(err error) string {
	var parts []string
	for err != nil {
		if ce, ok := err.(*contextError); ok {
			parts = append(parts, ce.context)
		}
		err = Unwrap(err)
	}
	return strings.Join(parts, ": ")
}

// Code returns the module and code for the given error. Unregistered
// errors map to UnknownModule and a nil error maps to CodeNoError.
func Code(err error) (string, uint32) {
	if err == nil {
		return "", CodeNoError
	}

	var e *Error
	if !As(err, &e) {
		return UnknownModule, 1
	}
	return e.module, e.code
}

// LogKeyvals returns the key value pairs describing err in log output.
func LogKeyvals(err error) []interface{} {
	module, code := Code(err)
	return []interface{}{
		"err", err,
		"err_module", module,
		"err_code", code,
	}
}
