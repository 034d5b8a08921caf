package grader

import (
	"fmt"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/pkg/models"
)

// GradeError is a failure attached to one game or prediction
type GradeError struct {
	GameID       string
	PredictionID string
	Err          error
}

func (e GradeError) Error() string {
	if e.PredictionID == "" {
		return fmt.Sprintf("game %s: %v", e.GameID, e.Err)
	}
	return fmt.Sprintf("game %s prediction %s: %v", e.GameID, e.PredictionID, e.Err)
}

func (e GradeError) Unwrap() error { return e.Err }

// GradeResult summarizes a grading run
type GradeResult struct {
	Games     int
	Graded    int
	Pending   int
	ByOutcome map[models.Outcome]int
	Errors    []GradeError
}

func newGradeResult() GradeResult {
	return GradeResult{ByOutcome: make(map[models.Outcome]int)}
}

func (r *GradeResult) merge(o GradeResult) {
	r.Games += o.Games
	r.Graded += o.Graded
	r.Pending += o.Pending
	for k, v := range o.ByOutcome {
		r.ByOutcome[k] += v
	}
	r.Errors = append(r.Errors, o.Errors...)
}
