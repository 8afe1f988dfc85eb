package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ErrorKind names the specific failure inside an error category
type ErrorKind string

const (
	Unsupported            ErrorKind = "unsupported"
	PermissionDenied       ErrorKind = "permission_denied"
	AlreadyScanning        ErrorKind = "already_scanning"
	Unreachable            ErrorKind = "unreachable"
	AlreadyOpen            ErrorKind = "already_open"
	ServiceNotFound        ErrorKind = "service_not_found"
	CharacteristicNotFound ErrorKind = "characteristic_not_found"
	NotConnected           ErrorKind = "not_connected"
	NotOpen                ErrorKind = "not_open"
	IOError                ErrorKind = "io_error"
)

// DiscoveryError is returned by discovery; never retried automatically
type DiscoveryError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *DiscoveryError) Error() string { return formatError("discovery", e.Kind, e.Msg, e.Err) }
func (e *DiscoveryError) Unwrap() error { return e.Err }

// Is allows errors.Is to compare DiscoveryError values by Kind
func (e *DiscoveryError) Is(target error) bool {
	t, ok := target.(*DiscoveryError)
	return ok && e != nil && e.Kind == t.Kind
}

// ConnectionError represents any problem opening or keeping a channel
type ConnectionError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *ConnectionError) Error() string { return formatError("connection", e.Kind, e.Msg, e.Err) }
func (e *ConnectionError) Unwrap() error { return e.Err }

// Is allows errors.Is to compare ConnectionError values by Kind
func (e *ConnectionError) Is(target error) bool {
	t, ok := target.(*ConnectionError)
	return ok && e != nil && e.Kind == t.Kind
}

// SendError is surfaced synchronously to the caller of Send; no retry
type SendError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *SendError) Error() string { return formatError("send", e.Kind, e.Msg, e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

// Is allows errors.Is to compare SendError values by Kind
func (e *SendError) Is(target error) bool {
	t, ok := target.(*SendError)
	return ok && e != nil && e.Kind == t.Kind
}

func formatError(category string, kind ErrorKind, msg string, cause error) string {
	var b strings.Builder
	b.WriteString(category)
	b.WriteString(": ")
	b.WriteString(string(kind))
	if msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if cause != nil {
		b.WriteString(": ")
		b.WriteString(cause.Error())
	}
	return b.String()
}

// Predefined sentinel errors, compared by kind
var (
	ErrUnsupported      = &DiscoveryError{Kind: Unsupported}
	ErrScanDenied       = &DiscoveryError{Kind: PermissionDenied}
	ErrAlreadyScanning  = &DiscoveryError{Kind: AlreadyScanning}
	ErrUnreachable      = &ConnectionError{Kind: Unreachable}
	ErrPermissionDenied = &ConnectionError{Kind: PermissionDenied}
	ErrAlreadyOpen      = &ConnectionError{Kind: AlreadyOpen}
	ErrServiceNotFound  = &ConnectionError{Kind: ServiceNotFound}
	ErrCharNotFound     = &ConnectionError{Kind: CharacteristicNotFound}
	ErrNotConnected     = &SendError{Kind: NotConnected}
	ErrNotOpen          = &SendError{Kind: NotOpen}
	ErrIO               = &SendError{Kind: IOError}
)

var (
	// ErrReconnectExhausted is terminal within a session; the caller must discover/connect again
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrSuperseded marks an operation whose completion was overtaken by a newer connect or disconnect
	ErrSuperseded = errors.New("operation superseded")

	// ErrClosed is returned by a manager after shutdown
	ErrClosed = errors.New("manager closed")
)

// KindOf extracts the ErrorKind from any error in the chain, or "" if none
func KindOf(err error) ErrorKind {
	var derr *DiscoveryError
	if errors.As(err, &derr) {
		return derr.Kind
	}
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	var serr *SendError
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return ""
}
