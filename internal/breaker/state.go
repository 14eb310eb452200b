package breaker

// State is the breaker's position in its lifecycle. Closed is the
// initial state; Terminated and Complete are absorbing.
type State int

const (
	// StateClosed allows traffic and watches the failure rate.
	StateClosed State = iota
	// StateOpen blocks traffic for the cooldown period.
	StateOpen
	// StateHalfOpen probes at reduced rate after a cooldown.
	StateHalfOpen
	// StateTerminated means sustained failure: stop the crawl.
	StateTerminated
	// StateComplete means sustained not-found responses: the paginated
	// data source is exhausted and the crawl finished successfully.
	StateComplete
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	case StateTerminated:
		return "terminated"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is absorbing: once reached, no
// further observation changes it.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateComplete
}
