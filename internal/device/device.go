package device

import (
	"context"
	"fmt"
)

// Transport kinds reported by Transport.Kind
const (
	KindRadio   = "radio"
	KindNetwork = "network"
)

// DeviceDescriptor identifies a peer found during discovery.
// ID is the identity key (BLE address or host:port); DisplayName is used for
// filter matching and display.
//
//nolint:revive // DeviceDescriptor name is intentional for clarity when used as a device.DeviceDescriptor
type DeviceDescriptor struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"name" yaml:"name"`
	RSSI        *int   `json:"rssi,omitempty" yaml:"rssi,omitempty"`
	Transport   string `json:"transport,omitempty" yaml:"transport,omitempty"`
}

// Clone returns a deep copy of the descriptor
func (d DeviceDescriptor) Clone() DeviceDescriptor {
	if d.RSSI != nil {
		rssi := *d.RSSI
		d.RSSI = &rssi
	}
	return d
}

// SameDevice reports whether both descriptors refer to the same peer
func (d DeviceDescriptor) SameDevice(other DeviceDescriptor) bool {
	return d.ID == other.ID
}

func (d DeviceDescriptor) String() string {
	if d.DisplayName == "" {
		return d.ID
	}
	return fmt.Sprintf("%s (%s)", d.DisplayName, d.ID)
}

// Transport abstracts discovery and channel opening over one physical link.
// Implementations must be safe for concurrent use.
type Transport interface {
	// Kind names the transport (KindRadio or KindNetwork)
	Kind() string

	// Scan reports advertising peers until ctx ends. Context expiry is not an error.
	Scan(ctx context.Context, handler func(DeviceDescriptor)) error

	// Open establishes a channel to the peer. Fails with a *ConnectionError.
	Open(ctx context.Context, d DeviceDescriptor) (Channel, error)
}

// Channel is an open duplex link to one device
type Channel interface {
	// Send writes bytes to the device. Fails with a *SendError.
	Send(data []byte) error

	// OnNotification installs the notification handler; nil unsubscribes.
	OnNotification(handler func([]byte))

	// Close releases the channel. Safe to call more than once.
	Close() error

	// Done is closed when the channel ends, either by Close or by the remote side
	Done() <-chan struct{}

	// Err returns the cause of an unexpected end; nil while open or after Close
	Err() error
}
