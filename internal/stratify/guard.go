// Package stratify guards analysis of the engine's own source tree.
//
// Levels form a bounded ladder 0..MaxLevel: level 0 is an arbitrary external
// target, level 1 is the engine's own source and level 2 is a meta-check of a
// level-1 analysis. The only legal transition is target = current + 1 with
// target ≤ MaxLevel. Nothing is defined beyond MaxLevel.
package stratify

import (
	"fmt"
	"sync"

	"qgate/internal/errors"
)

// Reason explains why a transition was refused.
type Reason string

const (
	ReasonNegativeLevel Reason = "negative_level"
	ReasonNotAscending  Reason = "not_ascending"
	ReasonSkipsLevel    Reason = "skips_level"
	ReasonExceedsMax    Reason = "exceeds_max"
)

// Violation is a refused level transition.
type Violation struct {
	Current int    `json:"current"`
	Target  int    `json:"target"`
	Reason  Reason `json:"reason"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("level %d -> %d refused: %s", v.Current, v.Target, v.Reason)
}

// Guard checks transitions against a maximum level.
type Guard struct {
	MaxLevel int
}

// NewGuard creates a guard for levels 0..maxLevel.
func NewGuard(maxLevel int) Guard {
	return Guard{MaxLevel: maxLevel}
}

// CheckTransition returns nil if moving from current to target is allowed.
// Otherwise it returns a STRATIFICATION_VIOLATION GateError wrapping a
// *Violation.
func (g Guard) CheckTransition(current, target int) error {
	v := g.violation(current, target)
	if v == nil {
		return nil
	}
	return errors.New(errors.StratificationViolation, "unsafe self-analysis", v).WithDetails(v)
}

func (g Guard) violation(current, target int) *Violation {
	v := &Violation{Current: current, Target: target}
	switch {
	case current < 0 || target < 0:
		v.Reason = ReasonNegativeLevel
	case target > g.MaxLevel:
		v.Reason = ReasonExceedsMax
	case target <= current:
		v.Reason = ReasonNotAscending
	case target != current+1:
		v.Reason = ReasonSkipsLevel
	default:
		return nil
	}
	return v
}

// Ladder tracks the highest level validated within one process. A level can
// only be entered from the level below it once that level has completed.
type Ladder struct {
	guard Guard

	mu        sync.Mutex
	completed int
	active    int // 0 when nothing is in progress
}

// NewLadder creates a ladder at level 0.
func NewLadder(guard Guard) *Ladder {
	return &Ladder{guard: guard}
}

// Current returns the highest completed level.
func (l *Ladder) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.completed
}

// Enter checks the transition from the highest completed level to target
// and marks target as in progress.
func (l *Ladder) Enter(target int) error {
	return l.EnterUnder(l.guard, target)
}

// EnterUnder is Enter with the transition checked by g instead of the
// ladder's own guard.
func (l *Ladder) EnterUnder(g Guard, target int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active != 0 {
		return errors.Newf(errors.StratificationViolation,
			"level %d is still in progress", l.active).WithDetails(&Violation{Current: l.completed, Target: target, Reason: ReasonNotAscending})
	}
	if err := g.CheckTransition(l.completed, target); err != nil {
		return err
	}
	l.active = target
	return nil
}

// Complete records a successful analysis at level. It is a no-op unless
// level is the one in progress.
func (l *Ladder) Complete(level int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level != 0 && level == l.active {
		l.completed = level
		l.active = 0
	}
}

// Abandon clears the in-progress level without advancing the ladder.
func (l *Ladder) Abandon(level int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level == l.active {
		l.active = 0
	}
}
