package models

const (
	PriorityNormal = 0
	PriorityHigh   = 1
)

// PriorityFor derives the queue tier from patient flags. PWD and senior
// patients share a single high tier; the flags are not additive.
func PriorityFor(patient Patient) int {
	if patient.IsPWD || patient.IsSenior {
		return PriorityHigh
	}
	return PriorityNormal
}

// EntryLess is the total order used everywhere a queue is ranked: higher
// priority tier first, then ascending queue number within the tier. SQL
// reads mirror this exact order (priority_level DESC, queue_number ASC).
func EntryLess(a, b QueueEntry) bool {
	if a.PriorityLevel != b.PriorityLevel {
		return a.PriorityLevel > b.PriorityLevel
	}
	return a.QueueNumber < b.QueueNumber
}
