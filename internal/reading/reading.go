package reading

import "time"

// Status tags whether a reading was decoded cleanly
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Reading is one normalized measurement (sound level in dBA).
// Readings are immutable once created; use Clone before handing one out.
type Reading struct {
	Value      float64   `json:"value" yaml:"value"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	Status     Status    `json:"status" yaml:"status"`
	Battery    *int      `json:"battery,omitempty" yaml:"battery,omitempty"`
	RawPayload string    `json:"raw,omitempty" yaml:"raw,omitempty"`
}

// OK reports whether the reading decoded cleanly
func (r Reading) OK() bool {
	return r.Status == StatusOK
}

// Clone returns a deep copy of the reading
func (r Reading) Clone() Reading {
	if r.Battery != nil {
		b := *r.Battery
		r.Battery = &b
	}
	return r
}
