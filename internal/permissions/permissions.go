package permissions

// Status is the OS-level microphone authorization state.
type Status int

const (
	NotDetermined Status = iota
	Restricted
	Denied
	Authorized
)

func (s Status) String() string {
	switch s {
	case NotDetermined:
		return "not-determined"
	case Restricted:
		return "restricted"
	case Denied:
		return "denied"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Granted reports whether capture may proceed. Microphone only reports
// NotDetermined when the permission dialog went unanswered; the OS then
// prompts again on the next stream open.
func (s Status) Granted() bool {
	return s == Authorized || s == NotDetermined
}

// requestOutcome maps the result of an access request: 1 granted, 0 denied,
// anything else unanswered.
func requestOutcome(result int) Status {
	switch result {
	case 1:
		return Authorized
	case 0:
		return Denied
	default:
		return NotDetermined
	}
}
