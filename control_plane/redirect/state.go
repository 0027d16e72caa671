package redirect

// State is a step in a query's redirection lifecycle. Every query starts
// Received, moves to LocalAuthoritative or Forwarded once its owner is known, and
// ends Answered or Failed; the decision log records the whole path.
type State int

const (
	StateReceived State = iota
	StateLocalAuthoritative
	StateForwarded
	StateAnswered
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateLocalAuthoritative:
		return "local_authoritative"
	case StateForwarded:
		return "forwarded"
	case StateAnswered:
		return "answered"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Route labels where a query was answered.
const (
	RouteLocal     = "local"
	RouteForwarded = "forwarded"
)
