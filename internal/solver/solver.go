// Package solver exposes binary integer programming behind a narrow,
// implementation-agnostic interface so the optimizer and transfer search
// never depend on how the underlying mathematical program is solved.
package solver

import (
	"context"
	"errors"
	"fmt"
)

// ErrInfeasible signals that no assignment satisfies every constraint. It is
// a legitimate outcome, not a failure of the solver.
var ErrInfeasible = errors.New("solver: problem is infeasible")

// Op is the sense of a linear constraint row.
type Op int

const (
	OpLE Op = iota // Σ coeffs·x <= rhs
	OpGE           // Σ coeffs·x >= rhs
	OpEQ           // Σ coeffs·x == rhs
)

func (o Op) String() string {
	switch o {
	case OpLE:
		return "<="
	case OpGE:
		return ">="
	case OpEQ:
		return "=="
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Constraint is one linear row over the problem's binary variables.
type Constraint struct {
	Name   string
	Coeffs []float64
	Op     Op
	RHS    float64
}

// Problem is a binary integer program: maximize Objective·x subject to the
// constraint rows, x ∈ {0,1}^NumVars.
type Problem struct {
	NumVars     int
	Objective   []float64
	Constraints []Constraint
}

// Solution is an optimal binary assignment plus its objective value.
type Solution struct {
	Values    []int
	Objective float64
}

// Solver is the oracle boundary: one call, one assignment or ErrInfeasible.
// Implementations must be deterministic for identical inputs and honor
// context cancellation.
type Solver interface {
	Solve(ctx context.Context, p *Problem) (*Solution, error)
}
