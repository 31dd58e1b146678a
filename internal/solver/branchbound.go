package solver

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	// intTol is the integrality tolerance on LP relaxation values.
	intTol = 1e-6
	// boundTol pads incumbent comparisons against simplex round-off.
	boundTol = 1e-7
	// defaultMaxNodes bounds the search tree so a degenerate instance cannot
	// spin forever.
	defaultMaxNodes = 500000
)

// BranchBound is the default Solver: depth-first branch and bound with LP
// relaxation bounds from gonum's simplex. Branching is fully deterministic:
// the lowest-index fractional variable is chosen and its 1-branch explored
// first, so identical problems always yield identical assignments.
type BranchBound struct {
	MaxNodes int
	logger   *logrus.Logger
}

// NewBranchBound creates the default branch and bound solver. The logger may
// be nil.
func NewBranchBound(logger *logrus.Logger) *BranchBound {
	return &BranchBound{MaxNodes: defaultMaxNodes, logger: logger}
}

// Solve finds an optimal binary assignment or returns ErrInfeasible.
func (s *BranchBound) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	if p.NumVars <= 0 {
		return nil, fmt.Errorf("solver: problem has no variables")
	}
	if len(p.Objective) != p.NumVars {
		return nil, fmt.Errorf("solver: objective has %d coefficients for %d variables", len(p.Objective), p.NumVars)
	}
	for _, c := range p.Constraints {
		if len(c.Coeffs) != p.NumVars {
			return nil, fmt.Errorf("solver: constraint %q has %d coefficients for %d variables", c.Name, len(c.Coeffs), p.NumVars)
		}
	}

	fixed, rows, feasible := presolve(p)
	if !feasible {
		return nil, ErrInfeasible
	}

	run := &bbRun{
		problem:  &Problem{NumVars: p.NumVars, Objective: p.Objective, Constraints: rows},
		fixed:    fixed,
		bestObj:  math.Inf(-1),
		maxNodes: s.MaxNodes,
	}

	if err := run.branch(ctx); err != nil {
		return nil, err
	}
	if run.bestVals == nil {
		return nil, ErrInfeasible
	}

	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"nodes":     run.nodes,
			"objective": run.bestObj,
			"variables": p.NumVars,
		}).Debug("Branch and bound finished")
	}

	return &Solution{Values: run.bestVals, Objective: run.bestObj}, nil
}

// presolve pins variables forced by single-variable equality rows and drops
// those rows from the formulation. The simplex requires a full-row-rank
// matrix, and pin rows left in place make an aggregate equality row (squad
// size over a mostly-pinned catalog, say) a linear combination of them.
func presolve(p *Problem) (fixed []int8, rows []Constraint, feasible bool) {
	fixed = make([]int8, p.NumVars)
	for i := range fixed {
		fixed[i] = -1
	}

	rows = make([]Constraint, 0, len(p.Constraints))
	for _, c := range p.Constraints {
		if c.Op != OpEQ {
			rows = append(rows, c)
			continue
		}
		support := -1
		single := true
		for i, v := range c.Coeffs {
			if v == 0 {
				continue
			}
			if support != -1 {
				single = false
				break
			}
			support = i
		}
		if !single || support == -1 {
			rows = append(rows, c)
			continue
		}

		val := c.RHS / c.Coeffs[support]
		var pin int8
		switch {
		case math.Abs(val) <= intTol:
			pin = 0
		case math.Abs(val-1) <= intTol:
			pin = 1
		default:
			return nil, nil, false // binary variable pinned to a non-binary value
		}
		if fixed[support] != -1 && fixed[support] != pin {
			return nil, nil, false
		}
		fixed[support] = pin
	}

	return fixed, rows, true
}

type bbRun struct {
	problem  *Problem
	fixed    []int8 // -1 free, 0/1 fixed
	bestVals []int
	bestObj  float64
	nodes    int
	maxNodes int
}

func (r *bbRun) branch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.nodes++
	if r.nodes > r.maxNodes {
		return fmt.Errorf("solver: node limit %d exceeded", r.maxNodes)
	}

	bound, relaxed, feasible, err := r.relax()
	if err != nil {
		return err
	}
	if !feasible {
		return nil
	}
	if r.bestVals != nil && bound <= r.bestObj+boundTol {
		return nil
	}

	branchVar := -1
	for i, v := range relaxed {
		if r.fixed[i] == -1 && v > intTol && v < 1-intTol {
			branchVar = i
			break
		}
	}

	if branchVar == -1 {
		vals := make([]int, r.problem.NumVars)
		obj := 0.0
		for i := range vals {
			if relaxed[i] >= 0.5 {
				vals[i] = 1
				obj += r.problem.Objective[i]
			}
		}
		if r.bestVals == nil || obj > r.bestObj+boundTol {
			r.bestVals = vals
			r.bestObj = obj
		}
		return nil
	}

	for _, v := range []int8{1, 0} {
		r.fixed[branchVar] = v
		if err := r.branch(ctx); err != nil {
			r.fixed[branchVar] = -1
			return err
		}
	}
	r.fixed[branchVar] = -1
	return nil
}

// relax solves the LP relaxation of the node: free variables range over
// [0,1], fixed variables are substituted into the rows. It returns the
// objective upper bound and a full-length relaxation vector.
func (r *bbRun) relax() (bound float64, values []float64, feasible bool, err error) {
	p := r.problem

	free := make([]int, 0, p.NumVars)
	for i, f := range r.fixed {
		if f == -1 {
			free = append(free, i)
		}
	}

	fixedObj := 0.0
	for i, f := range r.fixed {
		if f == 1 {
			fixedObj += p.Objective[i]
		}
	}

	// All variables fixed: just check every row.
	if len(free) == 0 {
		for _, c := range p.Constraints {
			lhs := 0.0
			for i, f := range r.fixed {
				if f == 1 {
					lhs += c.Coeffs[i]
				}
			}
			if !rowHolds(c.Op, lhs, c.RHS) {
				return 0, nil, false, nil
			}
		}
		values = make([]float64, p.NumVars)
		for i, f := range r.fixed {
			values[i] = float64(f)
		}
		return fixedObj, values, true, nil
	}

	// Reduce rows to the free variables, folding fixed assignments into the
	// right-hand side. Rows with no free support become pure feasibility
	// checks.
	type reducedRow struct {
		coeffs []float64
		op     Op
		rhs    float64
	}
	rows := make([]reducedRow, 0, len(p.Constraints))
	for _, c := range p.Constraints {
		rhs := c.RHS
		for i, f := range r.fixed {
			if f == 1 {
				rhs -= c.Coeffs[i]
			}
		}
		coeffs := make([]float64, len(free))
		zero := true
		for j, i := range free {
			coeffs[j] = c.Coeffs[i]
			if c.Coeffs[i] != 0 {
				zero = false
			}
		}
		if zero {
			if !rowHolds(c.Op, 0, rhs) {
				return 0, nil, false, nil
			}
			continue
		}
		rows = append(rows, reducedRow{coeffs: coeffs, op: c.Op, rhs: rhs})
	}

	// Standard form: minimize cᵀy subject to Ay = b, y >= 0. Slack columns
	// turn inequalities into equalities; each free variable gets an upper-bound
	// row x + s = 1.
	nFree := len(free)
	nSlack := 0
	for _, row := range rows {
		if row.op != OpEQ {
			nSlack++
		}
	}
	nCols := nFree + nSlack + nFree
	nRows := len(rows) + nFree

	a := mat.NewDense(nRows, nCols, nil)
	b := make([]float64, nRows)
	c := make([]float64, nCols)
	for j := range free {
		c[j] = -p.Objective[free[j]] // maximize
	}

	slack := nFree
	for ri, row := range rows {
		for j, v := range row.coeffs {
			a.Set(ri, j, v)
		}
		b[ri] = row.rhs
		switch row.op {
		case OpLE:
			a.Set(ri, slack, 1)
			slack++
		case OpGE:
			a.Set(ri, slack, -1)
			slack++
		}
	}
	for j := 0; j < nFree; j++ {
		ri := len(rows) + j
		a.Set(ri, j, 1)
		a.Set(ri, nFree+nSlack+j, 1)
		b[ri] = 1
	}

	// Simplex prefers a non-negative right-hand side.
	for ri := 0; ri < nRows; ri++ {
		if b[ri] < 0 {
			b[ri] = -b[ri]
			for j := 0; j < nCols; j++ {
				a.Set(ri, j, -a.At(ri, j))
			}
		}
	}

	optF, x, err := lp.Simplex(c, a, b, 0, nil)
	if err != nil {
		if err == lp.ErrInfeasible {
			return 0, nil, false, nil
		}
		return 0, nil, false, fmt.Errorf("solver: LP relaxation failed: %w", err)
	}

	values = make([]float64, p.NumVars)
	for i, f := range r.fixed {
		if f >= 0 {
			values[i] = float64(f)
		}
	}
	for j, i := range free {
		v := x[j]
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		values[i] = v
	}

	return fixedObj - optF, values, true, nil
}

func rowHolds(op Op, lhs, rhs float64) bool {
	switch op {
	case OpLE:
		return lhs <= rhs+intTol
	case OpGE:
		return lhs >= rhs-intTol
	default:
		return math.Abs(lhs-rhs) <= intTol
	}
}
