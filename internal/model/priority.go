package model

// Priority orders AnalysisTasks in the task queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// PriorityForDuration maps a stationary duration to a priority per the
// GLOSSARY's default mapping: duration >= 5*T_violation -> URGENT,
// >= 2*T_violation -> HIGH, otherwise NORMAL. LOW is reserved for
// test/replay callers and is never assigned here.
func PriorityForDuration(duration, tViolation float64) Priority {
	switch {
	case duration >= 5*tViolation:
		return PriorityUrgent
	case duration >= 2*tViolation:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}
