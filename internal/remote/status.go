package remote

// Status is the supervised agent's coarse lifecycle state.
//
// Service responses are untrusted input: ParseStatus maps anything
// outside the closed set to StatusUnknown instead of propagating the
// raw string.
type Status string

// The non-unknown values are the service's own wire strings, so a
// well-formed response round-trips unchanged.
const (
	// StatusUnknown means the state could not be determined.
	StatusUnknown Status = "unknown"
	// StatusInProcess means the agent is actively working.
	StatusInProcess Status = "inProcess"
	// StatusNeedsInput means the agent is blocked on supervisor feedback.
	StatusNeedsInput Status = "needsInput"
	// StatusReadyForReview means the agent produced a pull request.
	StatusReadyForReview Status = "readyForReview"
)

// ParseStatus maps a service-reported status string onto the closed
// Status set, falling back to StatusUnknown.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusInProcess, StatusNeedsInput, StatusReadyForReview, StatusUnknown:
		return Status(s)
	default:
		return StatusUnknown
	}
}

// Terminal reports whether the status requires supervisor action before
// the agent can make further progress on its own.
func (s Status) Terminal() bool {
	return s == StatusReadyForReview
}
