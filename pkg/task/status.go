package task

// Status defines the lifecycle status of a task
type Status int32

const (
	// StatusPending task may still be attempted
	StatusPending Status = iota
	// StatusFinished continuation predicate stopped the task
	StatusFinished
	// StatusExhausted attempt budget used up
	StatusExhausted
	// StatusAbandoned dropped because both the queue and the overflow buffer were full
	StatusAbandoned
	// StatusDropped discarded by a scheduler that stopped before the task completed
	StatusDropped
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFinished:
		return "finished"
	case StatusExhausted:
		return "exhausted"
	case StatusAbandoned:
		return "abandoned"
	case StatusDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further attempt will be made
func (s Status) Terminal() bool {
	return s != StatusPending
}
