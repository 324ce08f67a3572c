package engine

import (
	"errors"
	"fmt"
)

// iterationBudget caps the number of sweep iterations of one operation at
// the grid size. The grid iterator already guarantees this; the budget
// turns a broken iterator into an error instead of an endless pulse train.
type iterationBudget struct {
	limit   int
	current int
}

func newIterationBudget(limit int) *iterationBudget {
	return &iterationBudget{limit: limit}
}

// Check counts one iteration and fails once the limit is passed.
func (b *iterationBudget) Check(opID string) error {
	b.current++
	if b.current > b.limit {
		return &BudgetExceededError{OperationID: opID, Iterations: b.current, Limit: b.limit}
	}
	return nil
}

// Current returns the number of iterations counted.
func (b *iterationBudget) Current() int { return b.current }

// BudgetExceededError is returned when an operation runs more sweep
// iterations than its grid has points.
type BudgetExceededError struct {
	OperationID string
	Iterations  int
	Limit       int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("operation %s exceeded iteration budget: %d iterations > %d grid points",
		e.OperationID, e.Iterations, e.Limit)
}

// IsBudgetExceededError reports whether err is or wraps a *BudgetExceededError.
func IsBudgetExceededError(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}
