package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestConnectionStateConstructors(t *testing.T) {
	d := DeviceDescriptor{ID: "AA:BB:CC:DD:EE:FF", DisplayName: "SHIELD", RSSI: intPtr(-50)}

	tests := []struct {
		name       string
		state      ConnectionState
		kind       StateKind
		hasDevice  bool
		reason     string
		stringForm string
	}{
		{name: "idle", state: Idle(), kind: StateIdle, stringForm: "idle"},
		{name: "scanning", state: Scanning(), kind: StateScanning, stringForm: "scanning"},
		{name: "connecting", state: Connecting(), kind: StateConnecting, stringForm: "connecting"},
		{name: "connected", state: Connected(d), kind: StateConnected, hasDevice: true, stringForm: "connected to SHIELD (AA:BB:CC:DD:EE:FF)"},
		{name: "disconnected", state: Disconnected("link lost"), kind: StateDisconnected, reason: "link lost", stringForm: "disconnected: link lost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.state.Kind)
			assert.True(t, tt.state.Is(tt.kind))
			assert.Equal(t, tt.hasDevice, tt.state.Device != nil, "only Connected carries a descriptor")
			assert.Equal(t, tt.reason, tt.state.Reason)
			assert.Equal(t, tt.stringForm, tt.state.String())
		})
	}
}

func TestConnectionStateCloneIsDeep(t *testing.T) {
	d := DeviceDescriptor{ID: "dev-1", DisplayName: "SHIELD", RSSI: intPtr(-40)}
	original := Connected(d)

	clone := original.Clone()
	clone.Device.DisplayName = "changed"
	*clone.Device.RSSI = -99

	assert.Equal(t, "SHIELD", original.Device.DisplayName)
	assert.Equal(t, -40, *original.Device.RSSI)

	// Connected copies the descriptor it was given
	*d.RSSI = -10
	assert.Equal(t, -40, *original.Device.RSSI)
}

func TestStateKindMarshalText(t *testing.T) {
	text, err := StateConnecting.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "connecting", string(text))
	assert.Equal(t, "unknown(42)", StateKind(42).String())
}

func TestErrorsCompareByKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		target   error
		kind     ErrorKind
		contains string
	}{
		{
			name:     "discovery error",
			err:      &DiscoveryError{Kind: AlreadyScanning, Msg: "scan in progress"},
			target:   ErrAlreadyScanning,
			kind:     AlreadyScanning,
			contains: "discovery: already_scanning: scan in progress",
		},
		{
			name:     "connection error wrapping cause",
			err:      &ConnectionError{Kind: Unreachable, Err: errors.New("dial timeout")},
			target:   ErrUnreachable,
			kind:     Unreachable,
			contains: "connection: unreachable: dial timeout",
		},
		{
			name:     "send error wrapped by fmt",
			err:      fmt.Errorf("send failed: %w", &SendError{Kind: NotConnected}),
			target:   ErrNotConnected,
			kind:     NotConnected,
			contains: "send: not_connected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.target)
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Contains(t, tt.err.Error(), tt.contains)
		})
	}

	assert.NotErrorIs(t, &ConnectionError{Kind: Unreachable}, ErrAlreadyOpen)
	assert.NotErrorIs(t, &SendError{Kind: NotConnected}, ErrUnreachable)
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}

func TestNotFoundError(t *testing.T) {
	assert.Equal(t, "service not found", (&NotFoundError{Resource: "service"}).Error())
	assert.Equal(t, `service "180d" not found`, (&NotFoundError{Resource: "service", UUIDs: []string{"180d"}}).Error())
	assert.Equal(t, `characteristic "2a37" not found in service "180d"`,
		(&NotFoundError{Resource: "characteristic", UUIDs: []string{"180d", "2a37"}}).Error())

	wrapped := &ConnectionError{Kind: ServiceNotFound, Err: &NotFoundError{Resource: "service", UUIDs: []string{"180d"}}}
	var nf *NotFoundError
	assert.ErrorAs(t, wrapped, &nf)
	assert.ErrorIs(t, wrapped, ErrServiceNotFound)
}
