package service

import "github.com/ikhtibar/assessment-api/internal/models"

// AggregateScore recomputes the session total and pass outcome from the full
// set of graded answers. It never accumulates incrementally, so concurrent
// grade updates cannot corrupt the total, and re-running it with no new
// grades is idempotent. The pass threshold is inclusive and read from the
// exam at aggregation time.
func AggregateScore(answers []models.GradedAnswer, passScore float64) (float64, bool) {
	var total float64
	for _, answer := range answers {
		total += answer.Score
	}

	return total, total >= passScore
}
