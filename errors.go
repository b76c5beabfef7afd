package onvif

import (
	"fmt"
	"time"

	"github.com/juju/errors"
)

// ErrorKind classifies failures of the request and bootstrap layers
type ErrorKind int

const (
	// KindTransport covers connection refused/reset, DNS failures and other
	// errors raised before a complete response was received.
	KindTransport ErrorKind = iota + 1
	// KindTimeout fires when no response arrived within the request timeout.
	KindTimeout
	// KindProtocol covers malformed or non-SOAP bodies, SOAP faults and
	// set-operations whose acknowledgement is not empty.
	KindProtocol
	// KindConfiguration rejects invalid input before any network call.
	KindConfiguration
	// KindBootstrapFatal aborts connection readiness.
	KindBootstrapFatal
)

// String returns the kind name
func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	case KindConfiguration:
		return "configuration"
	case KindBootstrapFatal:
		return "bootstrap"
	default:
		return "unknown"
	}
}

// Error is the error type returned by the client
type Error struct {
	Kind ErrorKind
	Op   string // operation or endpoint that failed
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("onvif %s error: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("onvif %s error: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func transportError(op string, err error) error {
	return newError(KindTransport, op, err)
}

func timeoutError(op string, after time.Duration) error {
	return newError(KindTimeout, op, errors.Errorf("no response within %s", after))
}

func protocolError(op string, format string, args ...interface{}) error {
	return newError(KindProtocol, op, errors.Errorf(format, args...))
}

func configurationError(op string, format string, args ...interface{}) error {
	return newError(KindConfiguration, op, errors.Errorf(format, args...))
}

func kindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsTransport reports whether err is a transport-level failure
func IsTransport(err error) bool { return kindOf(err) == KindTransport }

// IsTimeout reports whether err is a request timeout
func IsTimeout(err error) bool { return kindOf(err) == KindTimeout }

// IsProtocol reports whether err is a protocol violation or SOAP fault
func IsProtocol(err error) bool { return kindOf(err) == KindProtocol }

// IsConfiguration reports whether err was rejected before any network call
func IsConfiguration(err error) bool { return kindOf(err) == KindConfiguration }

// IsBootstrapFatal reports whether err aborted connection readiness
func IsBootstrapFatal(err error) bool { return kindOf(err) == KindBootstrapFatal }

// SOAPFault is the detail of a fault returned by the device
type SOAPFault struct {
	Code    string
	Subcode string
	Reason  string
}

// Error implements the error interface
func (f *SOAPFault) Error() string {
	if f.Subcode != "" {
		return fmt.Sprintf("SOAP fault %s (%s): %s", f.Code, f.Subcode, f.Reason)
	}
	if f.Code != "" {
		return fmt.Sprintf("SOAP fault %s: %s", f.Code, f.Reason)
	}
	return fmt.Sprintf("SOAP fault: %s", f.Reason)
}
