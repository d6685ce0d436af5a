// Package errs implements the dispatcher's closed error taxonomy (§7): a
// Kind enum plus a single *Error type that carries a wrapped cause and
// structured fields a diagnostic renderer can use for caret-style messages.
package errs

import (
	"fmt"

	"pixi.build/dispatcher/go/skerr"
	"pixi.build/dispatcher/model"
)

// Kind is one member of the closed error taxonomy.
type Kind int

const (
	Cancelled Kind = iota
	SourceCheckout
	BackendInstantiate
	BackendRpc
	SourceMetadata
	Cycle
	CacheIo
	Solve
	Query
	InvalidPackageName
	SpecConversion
)

func (k Kind) String() string {
	switch k {
	case Cancelled:
		return "Cancelled"
	case SourceCheckout:
		return "SourceCheckout"
	case BackendInstantiate:
		return "BackendInstantiate"
	case BackendRpc:
		return "BackendRpc"
	case SourceMetadata:
		return "SourceMetadata"
	case Cycle:
		return "Cycle"
	case CacheIo:
		return "CacheIo"
	case Solve:
		return "Solve"
	case Query:
		return "Query"
	case InvalidPackageName:
		return "InvalidPackageName"
	case SpecConversion:
		return "SpecConversion"
	default:
		return "Unknown"
	}
}

// SpecConversionReason narrows a SpecConversion error to a specific cause.
type SpecConversionReason int

const (
	SpecConversionOther SpecConversionReason = iota
	MissingName
)

// Error is the single error type returned across the dispatcher's public
// API. Every Error carries a Kind and, optionally, a wrapped cause and
// structured fields used by the matching Kind.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error

	// SourceMetadata fields.
	RequestedName string
	DidYouMean    string

	// Cycle fields.
	Stack []model.CycleFrame

	// SpecConversion fields.
	ConversionReason SpecConversionReason
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind with a formatted message, wrapped
// with a stack trace via skerr.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: skerr.Fmt(format, args...)}
}

// Wrap builds an *Error of the given kind around an existing error, adding
// a skerr stack trace rooted at the caller.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: skerr.Wrap(cause)}
}

// CancelledErr returns the singleton-shaped Cancelled error for a dropped
// reply channel or runtime shutdown.
func CancelledErr() *Error {
	return &Error{Kind: Cancelled, Msg: "request was cancelled"}
}

// CycleErr builds the Cycle error carrying the full ordered stack of
// (package name, cycle environment) pairs that formed the loop.
func CycleErr(stack []model.CycleFrame) *Error {
	return &Error{Kind: Cycle, Msg: "source expansion graph contains a run-cycle", Stack: stack}
}

// PackageMetadataNotFound builds the SourceMetadata error for a requested
// package name absent from a backend's outputs, with a Jaro-closest
// did-you-mean suggestion (or the empty-list message) already computed by
// the caller.
func PackageMetadataNotFound(requested, didYouMean string) *Error {
	msg := fmt.Sprintf("package %q not found among build-backend outputs", requested)
	return &Error{Kind: SourceMetadata, Msg: msg, RequestedName: requested, DidYouMean: didYouMean}
}

// MissingNameErr builds the SpecConversion error for a project model with
// `name: None` submitted to a backend whose negotiated protocol version
// doesn't support it.
func MissingNameErr() *Error {
	return &Error{Kind: SpecConversion, Msg: "backend does not support name: None project models", ConversionReason: MissingName}
}

// KindOf returns the Kind of err if it is (or wraps) an *errs.Error, and
// false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if asErr, ok := err.(*Error); ok {
			e = asErr
			break
		}
		unwrap, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrap.Unwrap()
	}
	if e == nil {
		return 0, false
	}
	return e.Kind, true
}
