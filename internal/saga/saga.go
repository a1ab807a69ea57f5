// Package saga runs multi-entity writes as an ordered list of named steps.
//
// The store offers no cross-entity transactions, so a workflow that touches a
// ticket, two agents and a derivation record is a sequence of independent
// commits. Run executes the steps in order and stops at the first failure.
// Nothing is rolled back: the returned *Error says which steps committed so
// the caller (or the reconciler) knows exactly what state was left behind.
package saga

import (
	"context"
	"fmt"
	"strings"
)

// Step is one independently committed write.
type Step struct {
	Name string
	Do   func(ctx context.Context) error
}

// Error reports a saga that stopped part-way.
type Error struct {
	Workflow  string
	Step      string
	Completed []string
	Err       error
}

func (e *Error) Error() string {
	done := "none"
	if len(e.Completed) > 0 {
		done = strings.Join(e.Completed, ",")
	}
	return fmt.Sprintf("%s: step %q failed (committed: %s): %v", e.Workflow, e.Step, done, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Partial reports whether any step committed before the failure.
func (e *Error) Partial() bool { return len(e.Completed) > 0 }

// Run executes steps in order. A caller whose ctx is already done gets
// ctx.Err() and nothing is written. Once the first step starts, the steps run
// on a context detached from the caller's cancellation.
func Run(ctx context.Context, workflow string, steps ...Step) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", workflow, err)
	}
	runCtx := context.WithoutCancel(ctx)

	completed := make([]string, 0, len(steps))
	for _, s := range steps {
		if err := s.Do(runCtx); err != nil {
			return &Error{Workflow: workflow, Step: s.Name, Completed: completed, Err: err}
		}
		completed = append(completed, s.Name)
	}
	return nil
}
