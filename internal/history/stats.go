package history

import (
	"math"

	"github.com/srg/soundlink/internal/reading"
)

// Statistics summarizes the buffered readings.
// Average, Min and Max are rounded to two decimal places.
type Statistics struct {
	Average float64 `json:"average" yaml:"average"`
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
	Count   int     `json:"count" yaml:"count"`
	Errors  int     `json:"errors" yaml:"errors"`
}

// Compute derives statistics from readings. Every entry counts, including
// error readings (which carry value 0). An empty input yields the zero value.
func Compute(readings []reading.Reading) Statistics {
	if len(readings) == 0 {
		return Statistics{}
	}

	s := Statistics{
		Min:   math.Inf(1),
		Max:   math.Inf(-1),
		Count: len(readings),
	}

	var sum float64
	for _, r := range readings {
		sum += r.Value
		s.Min = math.Min(s.Min, r.Value)
		s.Max = math.Max(s.Max, r.Value)
		if !r.OK() {
			s.Errors++
		}
	}

	s.Average = Round2(sum / float64(len(readings)))
	s.Min = Round2(s.Min)
	s.Max = Round2(s.Max)
	return s
}

// Round2 rounds half away from zero to two decimal places
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
