package exec

import "time"

// Limits are the timeout bounds for one kind of execution.
type Limits struct {
	Default time.Duration
	Min     time.Duration
	Max     time.Duration
}

// DefaultLimits apply to kinds without configured bounds.
var DefaultLimits = Limits{Default: 30 * time.Second, Min: time.Second, Max: 5 * time.Minute}

// Clamp resolves a requested timeout. Zero or negative selects Default; the
// result always lies within [Min, Max].
func (l Limits) Clamp(requested time.Duration) time.Duration {
	d := requested
	if d <= 0 {
		d = l.Default
	}
	if l.Min > 0 && d < l.Min {
		d = l.Min
	}
	if l.Max > 0 && d > l.Max {
		d = l.Max
	}
	return d
}
