package device

import "fmt"

// StateKind tags the ConnectionState variant
type StateKind int

const (
	StateIdle StateKind = iota
	StateScanning
	StateConnecting
	StateConnected
	StateDisconnected
)

func (k StateKind) String() string {
	switch k {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// MarshalText renders the kind by name in JSON and YAML output
func (k StateKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ConnectionState is the tagged connection variant.
// Only Connected carries a Device; only Disconnected carries a Reason.
// Build values with the constructors below.
type ConnectionState struct {
	Kind   StateKind         `json:"kind" yaml:"kind"`
	Device *DeviceDescriptor `json:"device,omitempty" yaml:"device,omitempty"`
	Reason string            `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func Idle() ConnectionState       { return ConnectionState{Kind: StateIdle} }
func Scanning() ConnectionState   { return ConnectionState{Kind: StateScanning} }
func Connecting() ConnectionState { return ConnectionState{Kind: StateConnecting} }

func Connected(d DeviceDescriptor) ConnectionState {
	dc := d.Clone()
	return ConnectionState{Kind: StateConnected, Device: &dc}
}

func Disconnected(reason string) ConnectionState {
	return ConnectionState{Kind: StateDisconnected, Reason: reason}
}

// Clone returns a deep copy so subscribers cannot alter shared state
func (s ConnectionState) Clone() ConnectionState {
	if s.Device != nil {
		dc := s.Device.Clone()
		s.Device = &dc
	}
	return s
}

// Is reports whether the state has the given kind
func (s ConnectionState) Is(kind StateKind) bool {
	return s.Kind == kind
}

func (s ConnectionState) String() string {
	switch s.Kind {
	case StateConnected:
		if s.Device != nil {
			return fmt.Sprintf("connected to %s", s.Device)
		}
	case StateDisconnected:
		if s.Reason != "" {
			return fmt.Sprintf("disconnected: %s", s.Reason)
		}
	}
	return s.Kind.String()
}
