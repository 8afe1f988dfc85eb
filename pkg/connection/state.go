package connection

import (
	"github.com/srg/soundlink/internal/device"
	"github.com/srg/soundlink/internal/reading"
)

// State is the snapshot handed to subscribers and returned by Manager.State.
// Version increases with every mutation; subscribers never see it go backwards.
type State struct {
	Connection  device.ConnectionState    `json:"connection" yaml:"connection"`
	LastReading *reading.Reading          `json:"last_reading,omitempty" yaml:"last_reading,omitempty"`
	Candidates  []device.DeviceDescriptor `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	Received    uint64                    `json:"received" yaml:"received"` // notifications decoded since New
	Version     uint64                    `json:"version" yaml:"version"`
}

// Clone returns a deep copy
func (s State) Clone() State {
	s.Connection = s.Connection.Clone()
	if s.LastReading != nil {
		r := s.LastReading.Clone()
		s.LastReading = &r
	}
	s.Candidates = cloneDescriptors(s.Candidates)
	return s
}

// Connected reports whether a device channel is open
func (s State) Connected() bool {
	return s.Connection.Is(device.StateConnected)
}

func cloneDescriptors(in []device.DeviceDescriptor) []device.DeviceDescriptor {
	if in == nil {
		return nil
	}
	out := make([]device.DeviceDescriptor, len(in))
	for i, d := range in {
		out[i] = d.Clone()
	}
	return out
}
