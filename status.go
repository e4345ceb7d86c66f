package mailout

// Status represents the delivery lifecycle state of an outbox message.
// Every status change is recorded as an audit log action of the same value.
type Status int16

const (
	// StatusQueued indicates the message is waiting for its first attempt.
	StatusQueued Status = 0
	// StatusProcessing indicates a worker holds a lease on the message.
	StatusProcessing Status = 1
	// StatusSent indicates the transport accepted the message (terminal).
	StatusSent Status = 2
	// StatusFailed indicates the message failed permanently (terminal).
	StatusFailed Status = 3
	// StatusRetried indicates a transient failure awaiting its next attempt.
	StatusRetried Status = 4
	// StatusCancelled indicates the caller withdrew the message (terminal).
	StatusCancelled Status = 5
)

var statusNames = map[Status]string{
	StatusQueued:     "queued",
	StatusProcessing: "processing",
	StatusSent:       "sent",
	StatusFailed:     "failed",
	StatusRetried:    "retried",
	StatusCancelled:  "cancelled",
}

// String returns the lowercase name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}

	return "unknown"
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	_, ok := statusNames[s]

	return ok
}

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// transitions is the closed set of permitted status edges. Cancellation from
// Processing is permitted by the machine but rejected by Store.Cancel while a
// worker holds the lease; the expired-lease reclaim path uses the
// Processing -> Retried edge.
var transitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusSent, StatusFailed, StatusRetried, StatusCancelled},
	StatusRetried:    {StatusProcessing, StatusCancelled},
	StatusSent:       nil,
	StatusFailed:     nil,
	StatusCancelled:  nil,
}

// CanTransition reports whether the edge from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}

	return false
}
