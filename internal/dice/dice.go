// Package dice implements the d20 outcome engine that frames every turn.
package dice

import (
	"errors"
	"math/rand/v2"
)

// Outcome is one of the five tiers a roll maps to. The tier gates how
// favorably the character reacts and how large the timeline swing may be.
type Outcome string

const (
	CriticalFailure Outcome = "Critical Failure"
	Failure         Outcome = "Failure"
	Neutral         Outcome = "Neutral"
	Success         Outcome = "Success"
	CriticalSuccess Outcome = "Critical Success"
)

const sides = 20

// Result pairs a roll with its tier. It is ephemeral: produced fresh each
// turn and attached into the resulting AI message.
type Result struct {
	Roll    int
	Outcome Outcome
}

// Roller draws uniform d20 rolls from an injectable source.
type Roller struct {
	intn func(n int) int
}

// NewRoller returns a Roller backed by the process-global random source.
func NewRoller() *Roller {
	return &Roller{intn: rand.IntN}
}

// NewRollerWithSource returns a Roller using intn, which must return a
// uniform value in [0, n). Used by tests to script rolls.
func NewRollerWithSource(intn func(n int) int) (*Roller, error) {
	if intn == nil {
		return nil, errors.New("dice: random source must not be nil")
	}
	return &Roller{intn: intn}, nil
}

// Roll draws 1-20 and categorizes it.
func (r *Roller) Roll() Result {
	roll := r.intn(sides) + 1
	return Result{Roll: roll, Outcome: Categorize(roll)}
}

// Categorize maps a roll to its outcome tier. The table is fixed:
// 1-2 critical failure, 3-7 failure, 8-13 neutral, 14-18 success,
// 19-20 critical success.
func Categorize(roll int) Outcome {
	switch {
	case roll <= 2:
		return CriticalFailure
	case roll <= 7:
		return Failure
	case roll <= 13:
		return Neutral
	case roll <= 18:
		return Success
	default:
		return CriticalSuccess
	}
}
