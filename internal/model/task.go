package model

import "time"

// AnalysisTask is one unit of work for the analysis pipeline.
type AnalysisTask struct {
	TaskID       string
	ParkingEvent ParkingEvent
	Priority     Priority
	CreatedAt    time.Time
	RetryCount   int
	Deadline     time.Time
}

// Less orders tasks by (-priority, created_at): higher priority first, ties
// broken by earlier creation time (FIFO within a priority class).
func (t AnalysisTask) Less(other AnalysisTask) bool {
	if t.Priority != other.Priority {
		return t.Priority > other.Priority
	}
	return t.CreatedAt.Before(other.CreatedAt)
}
