package store

import "clinicq/queue-service/internal/models"

// statusRank orders the normal service lifecycle. Transitions may only move
// to a strictly higher rank; no_show and cancelled are terminal exits
// reachable from any non-terminal status.
var statusRank = map[string]int{
	models.StatusWaiting:    0,
	models.StatusArrived:    1,
	models.StatusInProgress: 2,
	models.StatusCompleted:  3,
}

func IsTerminal(status string) bool {
	switch status {
	case models.StatusCompleted, models.StatusNoShow, models.StatusCancelled:
		return true
	default:
		return false
	}
}

func KnownStatus(status string) bool {
	if _, ok := statusRank[status]; ok {
		return true
	}
	return status == models.StatusNoShow || status == models.StatusCancelled
}

func ValidTransition(from, to string) bool {
	if IsTerminal(from) {
		return false
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	if to == models.StatusNoShow || to == models.StatusCancelled {
		return true
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// AllowedPriorStatuses lists the statuses an entry may hold immediately
// before moving to target. The claim update uses this set as its
// compare-and-set guard.
func AllowedPriorStatuses(target string) []string {
	var prior []string
	for _, status := range []string{models.StatusWaiting, models.StatusArrived, models.StatusInProgress} {
		if ValidTransition(status, target) {
			prior = append(prior, status)
		}
	}
	return prior
}
