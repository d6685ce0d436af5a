// Package skerr provides stack-carrying errors. Every subsystem of the
// dispatcher wraps its leaf errors with skerr so that a diagnostic renderer
// can show where in the call stack a failure actually originated, not just
// where it was last returned.
package skerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Fmt formats according to the given format specifier and returns a new
// error carrying a stack trace rooted at the caller.
func Fmt(format string, args ...interface{}) error {
	return errors.WithStack(fmt.Errorf(format, args...))
}

// Wrap annotates err with a stack trace rooted at the caller. Returns nil if
// err is nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}

// Wrapf annotates err with a stack trace and a formatted message. Returns
// nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(errors.Wrapf(err, format, args...))
}

// Unwrap exposes the wrapped cause, for use with errors.Is/errors.As.
func Unwrap(err error) error {
	return errors.Cause(err)
}
