package store

import "qms/token-sync/internal/models"

var transitionMap = map[models.Status][]models.Status{
	models.StatusInProgress: {models.StatusWaiting},
	models.StatusCompleted:  {models.StatusInProgress},
}

// ValidTransition reports whether a token in status from may move to to.
// Only waiting→in_progress and in_progress→completed are legal.
func ValidTransition(from, to models.Status) bool {
	allowed, ok := transitionMap[to]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == from {
			return true
		}
	}
	return false
}
