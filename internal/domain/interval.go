package domain

import "time"

// ServiceInterval records the wall-clock window in which a teller serviced
// one request. Intervals from different tellers are compared after a run to
// prove the tellers really worked in parallel.
type ServiceInterval struct {
	TellerID int
	Start    time.Time
	End      time.Time
}

// Overlaps reports whether two service windows intersect in time.
// Windows that merely touch at an endpoint do not overlap.
func (s ServiceInterval) Overlaps(other ServiceInterval) bool {
	return s.Start.Before(other.End) && other.Start.Before(s.End)
}
