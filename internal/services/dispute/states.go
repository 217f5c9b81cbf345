package dispute

import "escra/internal/models"

// stageRank orders the dispute workflow. Escalation must strictly increase
// the rank; RESOLVED is reachable from any open stage but only through
// Resolve, never Escalate.
var stageRank = map[models.DisputeStatus]int{
	models.DisputeOpen:            0,
	models.DisputeAutomatedReview: 1,
	models.DisputeMediation:       2,
	models.DisputeArbitration:     3,
	models.DisputeResolved:        4,
}

func canEscalate(from, to models.DisputeStatus) bool {
	if to == models.DisputeResolved {
		return false
	}
	fromRank, ok := stageRank[from]
	if !ok {
		return false
	}
	toRank, ok := stageRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}
