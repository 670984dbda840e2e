package saga

import (
	"context"
	"fmt"
)

// Compensation undoes one completed step.
type Compensation struct {
	Step string
	Undo func(ctx context.Context) error
}

// Compensator is an ordered list of undo actions. Unwind runs them last-in first-out.
type Compensator struct {
	actions []Compensation
}

// Push registers the undo action for a step that just succeeded.
func (c *Compensator) Push(step string, undo func(ctx context.Context) error) {
	c.actions = append(c.actions, Compensation{Step: step, Undo: undo})
}

// Len returns the number of pending compensations.
func (c *Compensator) Len() int {
	return len(c.actions)
}

// Unwind executes every registered compensation in reverse order and clears
// the list. A failing compensation does not stop the ones before it.
func (c *Compensator) Unwind(ctx context.Context) []error {
	var errs []error
	for i := len(c.actions) - 1; i >= 0; i-- {
		action := c.actions[i]
		if err := runUndo(ctx, action); err != nil {
			errs = append(errs, fmt.Errorf("compensate %s: %w", action.Step, err))
		}
	}
	c.actions = nil
	return errs
}

// Discard drops all registered compensations once the saga has committed.
func (c *Compensator) Discard() {
	c.actions = nil
}

func runUndo(ctx context.Context, action Compensation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return action.Undo(ctx)
}
