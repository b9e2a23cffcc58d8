// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raid

import "fmt"

// Code is the error taxonomy every control-plane operation reports
// through; implementers targeting a specific transport (RPC, CLI
// exit codes, ...) map Code to their own idiom.
type Code int

const (
	_ Code = iota
	InvalidArgument
	AlreadyExists
	NotFound
	Busy
	Unsupported
	ResourceExhausted
	Corrupt
	StateViolation
)

func (c Code) String() string {
	switch c {
	case InvalidArgument:
		return "InvalidArgument"
	case AlreadyExists:
		return "AlreadyExists"
	case NotFound:
		return "NotFound"
	case Busy:
		return "Busy"
	case Unsupported:
		return "Unsupported"
	case ResourceExhausted:
		return "ResourceExhausted"
	case Corrupt:
		return "Corrupt"
	case StateViolation:
		return "StateViolation"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Error is a control-plane error carrying one Code from the taxonomy.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

func errf(code Code, format string, args ...any) error {
	return newError(code, nil, format, args...)
}

func wrapf(code Code, err error, format string, args ...any) error {
	return newError(code, err, format, args...)
}

// CodeOf extracts the Code from err if it (or something it wraps) is
// an *Error; otherwise it returns the zero Code and ok=false.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Code, true
	}
	return 0, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok { //nolint:errorlint // deliberate shallow check before Unwrap
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
