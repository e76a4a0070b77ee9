package queue

// validTransitions is the static table from spec.md §3. Terminal states map
// to an empty (nil) destination set.
var validTransitions = map[Status]map[Status]bool{
	StatusQueued: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusComplete:          true,
		StatusError:             true,
		StatusAwaitingResponse:  true,
		StatusCancelled:         true,
	},
	StatusAwaitingResponse: {
		StatusQueued:    true,
		StatusCancelled: true,
	},
	StatusComplete:  {},
	StatusError:     {},
	StatusCancelled: {},
}

// IsValidStatus reports whether s is one of the enumerated statuses (I1).
func IsValidStatus(s Status) bool {
	switch s {
	case StatusQueued, StatusRunning, StatusAwaitingResponse, StatusComplete, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a status accepts no further transitions.
func IsTerminal(s Status) bool {
	dests, ok := validTransitions[s]
	return ok && len(dests) == 0
}

// CanTransition reports whether from -> to is a legal transition per the
// static table in spec.md §3.
func CanTransition(from, to Status) bool {
	dests, ok := validTransitions[from]
	if !ok {
		return false
	}
	return dests[to]
}
