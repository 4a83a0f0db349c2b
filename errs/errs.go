// Package errs defines the closed error taxonomy shared by the license
// engine and its network client. Every failure a public operation can
// surface is one of four kinds; verification failures are deliberately not
// errors and are reported as validation results instead.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error. The set is closed: boundaries switch over it
// exhaustively.
type Kind int

const (
	// KindConfiguration marks missing or invalid setup. Fatal, never retried.
	KindConfiguration Kind = iota

	// KindTransport marks an unreachable server or a request that never
	// produced an HTTP response. Retried with backoff; drives offline mode.
	KindTransport

	// KindRemote marks a well-formed error response carrying a machine code.
	// Retried only for rate-limit and timeout codes.
	KindRemote

	// KindCrypto marks an unavailable or unsupported signing primitive.
	// Fatal, and distinct from a signature that merely fails to verify.
	KindCrypto
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindTransport:
		return "transport"
	case KindRemote:
		return "remote"
	case KindCrypto:
		return "crypto"
	}
	return "unknown"
}

// Error is the single error type crossing package boundaries.
type Error struct {
	Kind    Kind
	Code    string // machine code, e.g. "license_revoked", "rate_limited"
	Message string
	Status  int   // HTTP status for remote errors, 0 otherwise
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("%s error [%s]: %s", e.Kind, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Configuration creates a configuration error.
func Configuration(message string) *Error {
	return &Error{Kind: KindConfiguration, Message: message}
}

// Transport wraps a failed request that never reached the server.
func Transport(message string, cause error) *Error {
	return &Error{Kind: KindTransport, Message: message, Err: cause}
}

// Remote creates an error from a well-formed server error response.
func Remote(status int, code, message string) *Error {
	return &Error{Kind: KindRemote, Status: status, Code: code, Message: message}
}

// Crypto creates a signing-primitive error.
func Crypto(message string) *Error {
	return &Error{Kind: KindCrypto, Message: message}
}

// KindOf extracts the kind from err. ok is false when err is not an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// CodeOf extracts the machine code from err, or "" if there is none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// retryableRemoteCodes are the machine codes that merit another attempt.
var retryableRemoteCodes = map[string]bool{
	"rate_limited": true,
	"timeout":      true,
}

// IsRetryable reports whether err may succeed on a later attempt.
// Transport failures always retry; remote errors retry only for rate-limit
// and timeout codes; everything else is terminal.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindTransport:
		return true
	case KindRemote:
		if retryableRemoteCodes[e.Code] {
			return true
		}
		return retryableStatus(e.Status)
	}
	return false
}

// retryableStatus reports whether an HTTP status merits a retry:
// 429, 408, and 5xx except 500 and 501.
func retryableStatus(status int) bool {
	switch status {
	case 429, 408:
		return true
	case 500, 501:
		return false
	}
	return status >= 502 && status <= 599
}
