// Package metastore is the root of the client facade; see client.go.
package metastore

import "github.com/metastorehq/metastore-client/internal/errs"

// Code identifies the kind of failure a client operation can surface.
// Callers may switch on it, or use errors.Is against the Err* sentinels
// below.
type Code = errs.Code

const (
	CodeUnavailable       = errs.CodeUnavailable
	CodeUnknown           = errs.CodeUnknown
	CodeTimeout           = errs.CodeTimeout
	CodeWrongVersion      = errs.CodeWrongVersion
	CodeWrongResponseSize = errs.CodeWrongResponseSize
	CodeDeleteFailed      = errs.CodeDeleteFailed
	CodeInvalidParameter  = errs.CodeInvalidParameter
	CodeParseFailed       = errs.CodeParseFailed
	CodeFallbreak         = errs.CodeFallbreak
)

// Error is the structured status every strategy returns.
type Error = errs.Error

// NewError builds a structured error of the given kind.
func NewError(code Code, message string, cause error) *Error {
	return errs.New(code, message, cause)
}

// Sentinels for errors.Is comparisons; only Code is compared.
var (
	ErrUnavailable       = errs.ErrUnavailable
	ErrUnknown           = errs.ErrUnknown
	ErrTimeout           = errs.ErrTimeout
	ErrWrongVersion      = errs.ErrWrongVersion
	ErrWrongResponseSize = errs.ErrWrongResponseSize
	ErrDeleteFailed      = errs.ErrDeleteFailed
	ErrInvalidParameter  = errs.ErrInvalidParameter
	ErrParseFailed       = errs.ErrParseFailed
	ErrFallbreak         = errs.ErrFallbreak
)
