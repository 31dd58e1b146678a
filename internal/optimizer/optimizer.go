// Package optimizer solves the squad selection problem: pick a fixed-size
// set of entities maximizing projected value under budget, category and
// group-diversity constraints, with one amplified member whose value counts
// twice.
package optimizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/squadforge/squad-optimizer/internal/catalog"
	"github.com/squadforge/squad-optimizer/internal/constraints"
	"github.com/squadforge/squad-optimizer/internal/solver"
	"github.com/squadforge/squad-optimizer/internal/strategy"
	"github.com/squadforge/squad-optimizer/pkg/types"
)

// ErrInfeasible signals that no squad satisfies every constraint. It is a
// legitimate user-facing outcome and is never silently replaced with a
// partial or best-effort selection.
var ErrInfeasible = errors.New("optimizer: no selection satisfies the constraint set")

// DefaultUncertaintyFraction is the fallback robust margin, as a fraction of
// expected value, applied to entities without an explicit margin.
const DefaultUncertaintyFraction = 0.15

// valueTol is the slack allowed when pinning phase two to the phase-one
// optimum.
const valueTol = 1e-6

// Options select the objective variant for one run.
type Options struct {
	Mode     types.Mode
	Strategy types.Strategy
	// UncertaintyFraction overrides DefaultUncertaintyFraction when positive.
	UncertaintyFraction float64
}

// Optimizer solves selection problems through a solver oracle. It owns no
// long-lived state: Optimize is a pure function of its inputs.
type Optimizer struct {
	solver solver.Solver
	logger *logrus.Logger
}

// New creates an optimizer around the given solver oracle. A nil solver
// falls back to the default branch and bound.
func New(s solver.Solver, logger *logrus.Logger) *Optimizer {
	if s == nil {
		s = solver.NewBranchBound(logger)
	}
	return &Optimizer{solver: s, logger: logger}
}

// Optimize returns the optimal selection for the catalog under the spec, or
// ErrInfeasible. Results are deterministic: ties in objective value are
// broken by lowest total cost (a second solve pinned to the optimal value),
// then by the solver's fixed ascending-id branching order; the amplified
// member is the highest-value selected entity, lowest id on ties.
func (o *Optimizer) Optimize(ctx context.Context, cat *catalog.Catalog, spec types.ConstraintSpec, opts Options) (*types.Selection, error) {
	set, err := constraints.Build(cat, spec)
	if err != nil {
		return nil, err
	}

	values := Values(cat, opts)
	n := len(set.Entities)

	objective := make([]float64, set.NumVars())
	for i, e := range set.Entities {
		objective[set.SelectVar(i)] = values[e.ID]
		objective[set.AmplifyVar(i)] = values[e.ID]
	}

	if o.logger != nil {
		o.logger.WithFields(logrus.Fields{
			"entities":   n,
			"rows":       len(set.Rows),
			"mode":       opts.Mode,
			"squad_size": spec.SquadSize,
		}).Debug("Solving selection problem")
	}

	// Phase one: maximize projected value.
	valueSol, err := o.solver.Solve(ctx, &solver.Problem{
		NumVars:     set.NumVars(),
		Objective:   objective,
		Constraints: set.Rows,
	})
	if err != nil {
		if errors.Is(err, solver.ErrInfeasible) {
			return nil, ErrInfeasible
		}
		return nil, fmt.Errorf("optimizer: value phase failed: %w", err)
	}

	// Phase two: among value-optimal squads, minimize total cost. The pin row
	// keeps phase one's optimum reachable within round-off.
	pinned := make([]solver.Constraint, len(set.Rows), len(set.Rows)+1)
	copy(pinned, set.Rows)
	pinned = append(pinned, solver.Constraint{
		Name:   "optimal_value",
		Coeffs: objective,
		Op:     solver.OpGE,
		RHS:    valueSol.Objective - valueTol,
	})

	costObjective := make([]float64, set.NumVars())
	for i, e := range set.Entities {
		costObjective[set.SelectVar(i)] = -e.Cost
	}

	costSol, err := o.solver.Solve(ctx, &solver.Problem{
		NumVars:     set.NumVars(),
		Objective:   costObjective,
		Constraints: pinned,
	})
	if err != nil {
		if errors.Is(err, solver.ErrInfeasible) {
			// The pin row only restates an assignment phase one produced.
			return nil, fmt.Errorf("optimizer: cost phase lost the value optimum: %w", err)
		}
		return nil, fmt.Errorf("optimizer: cost phase failed: %w", err)
	}

	return o.buildSelection(set, costSol, values), nil
}

// Values derives per-entity objective coefficients: the strategy overlay
// first, then the robust margin subtraction. The robust variant over a box
// uncertainty set reduces to this coefficient shift because entities'
// uncertain values are not coupled. The transfer search uses the same
// coefficients to value an existing squad.
func Values(cat *catalog.Catalog, opts Options) map[uint]float64 {
	values := make(map[uint]float64, cat.Len())
	for _, e := range cat.Entities() {
		values[e.ID] = e.ExpectedValue
	}
	values = strategy.Apply(values, cat, opts.Strategy)

	if opts.Mode != types.ModeRobust {
		return values
	}

	fraction := opts.UncertaintyFraction
	if fraction <= 0 {
		fraction = DefaultUncertaintyFraction
	}
	for _, e := range cat.Entities() {
		margin := values[e.ID] * fraction
		if e.UncertaintyMargin != nil {
			margin = *e.UncertaintyMargin
		}
		values[e.ID] -= margin
	}
	return values
}

func (o *Optimizer) buildSelection(set *constraints.Set, sol *solver.Solution, values map[uint]float64) *types.Selection {
	selection := &types.Selection{}
	counts := make(map[types.Category]int)

	for i, e := range set.Entities {
		if sol.Values[set.SelectVar(i)] != 1 {
			continue
		}
		selection.EntityIDs = append(selection.EntityIDs, e.ID)
		selection.TotalCost += e.Cost
		selection.ObjectiveValue += values[e.ID]
		counts[e.Category]++
	}

	// Normalize the amplified member to the highest-value selected entity;
	// entity order is ascending id, so the first maximum wins ties.
	best := -1
	for i, e := range set.Entities {
		if sol.Values[set.SelectVar(i)] != 1 {
			continue
		}
		if best == -1 || values[e.ID] > values[set.Entities[best].ID] {
			best = i
		}
	}
	if best >= 0 {
		selection.AmplifiedID = set.Entities[best].ID
		selection.ObjectiveValue += values[set.Entities[best].ID]
	}

	selection.Formation = types.FormationString(counts)
	return selection
}
