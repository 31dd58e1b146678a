package constraints

import (
	"fmt"
	"sort"

	"github.com/squadforge/squad-optimizer/internal/catalog"
	"github.com/squadforge/squad-optimizer/internal/solver"
	"github.com/squadforge/squad-optimizer/pkg/types"
)

// InvalidSpecError reports a self-contradictory constraint spec. It is raised
// before any solver call because solver infeasibility reports are not
// localized enough to explain configuration mistakes.
type InvalidSpecError struct {
	Reason string
}

func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid constraint spec: %s", e.Reason)
}

// Set is the canonical linear formulation of one constraint spec over the
// per-entity select and amplify indicator variables.
//
// Variable layout: for a catalog of n entities ordered by ascending id,
// variable i in [0,n) is "entity i selected" and variable n+i is "entity i
// amplified".
type Set struct {
	Spec     types.ConstraintSpec
	Entities []types.Entity
	Rows     []solver.Constraint
}

// NumVars returns the number of binary variables in the formulation.
func (s *Set) NumVars() int {
	return 2 * len(s.Entities)
}

// SelectVar returns the variable index of the select indicator for the
// entity at position i.
func (s *Set) SelectVar(i int) int { return i }

// AmplifyVar returns the variable index of the amplify indicator for the
// entity at position i.
func (s *Set) AmplifyVar(i int) int { return len(s.Entities) + i }

// Build validates the spec against the catalog and lowers it into linear
// rows. Validation failures return *InvalidSpecError.
func Build(cat *catalog.Catalog, spec types.ConstraintSpec) (*Set, error) {
	if err := validate(cat, spec); err != nil {
		return nil, err
	}

	entities := cat.Entities()
	n := len(entities)
	set := &Set{Spec: spec, Entities: entities}

	indexByID := make(map[uint]int, n)
	for i, e := range entities {
		indexByID[e.ID] = i
	}

	row := func(name string, op solver.Op, rhs float64) []float64 {
		coeffs := make([]float64, 2*n)
		set.Rows = append(set.Rows, solver.Constraint{Name: name, Coeffs: coeffs, Op: op, RHS: rhs})
		return coeffs
	}

	// Squad size
	coeffs := row("squad_size", solver.OpEQ, float64(spec.SquadSize))
	for i := 0; i < n; i++ {
		coeffs[i] = 1
	}

	// Budget ceiling
	coeffs = row("budget", solver.OpLE, spec.Budget)
	for i, e := range entities {
		coeffs[i] = e.Cost
	}

	// Exactly one amplified
	coeffs = row("one_amplified", solver.OpEQ, 1)
	for i := 0; i < n; i++ {
		coeffs[n+i] = 1
	}

	// Amplified member must be selected
	for i, e := range entities {
		coeffs = row(fmt.Sprintf("amplify_link_%d", e.ID), solver.OpLE, 0)
		coeffs[n+i] = 1
		coeffs[i] = -1
	}

	// Category quota ranges, inclusive on both bounds
	for _, c := range types.Categories {
		r, ok := spec.CategoryRanges[c]
		if !ok {
			continue
		}
		ids := cat.ByCategory(c)
		if r.Min > 0 {
			coeffs = row(fmt.Sprintf("min_%s", c), solver.OpGE, float64(r.Min))
			for _, id := range ids {
				coeffs[indexByID[id]] = 1
			}
		}
		coeffs = row(fmt.Sprintf("max_%s", c), solver.OpLE, float64(r.Max))
		for _, id := range ids {
			coeffs[indexByID[id]] = 1
		}
	}

	// Group cap applies per distinct group observed in the catalog, so new
	// groups never require configuration changes.
	for _, g := range cat.Groups() {
		coeffs = row(fmt.Sprintf("group_cap_%s", g), solver.OpLE, float64(spec.GroupCap))
		for _, id := range cat.ByGroup(g) {
			coeffs[indexByID[id]] = 1
		}
	}

	// Pinned entities
	for _, id := range spec.MustInclude {
		coeffs = row(fmt.Sprintf("must_include_%d", id), solver.OpEQ, 1)
		coeffs[indexByID[id]] = 1
	}
	for _, id := range spec.MustExclude {
		i, ok := indexByID[id]
		if !ok {
			continue // excluding an unknown entity is a no-op
		}
		coeffs = row(fmt.Sprintf("must_exclude_%d", id), solver.OpEQ, 0)
		coeffs[i] = 1
	}

	return set, nil
}

func validate(cat *catalog.Catalog, spec types.ConstraintSpec) error {
	if spec.SquadSize <= 0 {
		return &InvalidSpecError{Reason: fmt.Sprintf("squad size must be positive, got %d", spec.SquadSize)}
	}
	if spec.Budget <= 0 {
		return &InvalidSpecError{Reason: fmt.Sprintf("budget must be positive, got %.2f", spec.Budget)}
	}
	if spec.GroupCap <= 0 {
		return &InvalidSpecError{Reason: fmt.Sprintf("group cap must be positive, got %d", spec.GroupCap)}
	}

	minSum, maxSum := 0, 0
	for _, c := range types.Categories {
		r, ok := spec.CategoryRanges[c]
		if !ok {
			maxSum += spec.SquadSize // unconstrained category
			continue
		}
		if r.Min < 0 {
			return &InvalidSpecError{Reason: fmt.Sprintf("category %s has negative minimum %d", c, r.Min)}
		}
		if r.Min > r.Max {
			return &InvalidSpecError{Reason: fmt.Sprintf("category %s range [%d,%d] has min above max", c, r.Min, r.Max)}
		}
		minSum += r.Min
		maxSum += r.Max
	}
	for c := range spec.CategoryRanges {
		if !c.Valid() {
			return &InvalidSpecError{Reason: fmt.Sprintf("range declared for unknown category %q", c)}
		}
	}
	if minSum > spec.SquadSize {
		return &InvalidSpecError{Reason: fmt.Sprintf("category minimums sum to %d, above squad size %d", minSum, spec.SquadSize)}
	}
	if maxSum < spec.SquadSize {
		return &InvalidSpecError{Reason: fmt.Sprintf("category maximums sum to %d, below squad size %d", maxSum, spec.SquadSize)}
	}

	excluded := make(map[uint]bool, len(spec.MustExclude))
	for _, id := range spec.MustExclude {
		excluded[id] = true
	}

	if len(spec.MustInclude) > spec.SquadSize {
		return &InvalidSpecError{Reason: fmt.Sprintf("%d must-include entities exceed squad size %d", len(spec.MustInclude), spec.SquadSize)}
	}

	seen := make(map[uint]bool, len(spec.MustInclude))
	pinnedByCategory := make(map[types.Category]int)
	pinnedByGroup := make(map[string]int)
	pinnedCost := 0.0
	for _, id := range spec.MustInclude {
		if excluded[id] {
			return &InvalidSpecError{Reason: fmt.Sprintf("entity %d is both must-include and must-exclude", id)}
		}
		if seen[id] {
			return &InvalidSpecError{Reason: fmt.Sprintf("entity %d appears twice in must-include", id)}
		}
		seen[id] = true
		e, ok := cat.Get(id)
		if !ok {
			return &InvalidSpecError{Reason: fmt.Sprintf("must-include entity %d not in catalog", id)}
		}
		pinnedByCategory[e.Category]++
		pinnedByGroup[e.Group]++
		pinnedCost += e.Cost
	}

	for c, count := range pinnedByCategory {
		if r, ok := spec.CategoryRanges[c]; ok && count > r.Max {
			return &InvalidSpecError{Reason: fmt.Sprintf("must-include set has %d %s entities, above category maximum %d", count, c, r.Max)}
		}
	}
	groups := make([]string, 0, len(pinnedByGroup))
	for g := range pinnedByGroup {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, g := range groups {
		if pinnedByGroup[g] > spec.GroupCap {
			return &InvalidSpecError{Reason: fmt.Sprintf("must-include set has %d entities from group %s, above cap %d", pinnedByGroup[g], g, spec.GroupCap)}
		}
	}
	if pinnedCost > spec.Budget {
		return &InvalidSpecError{Reason: fmt.Sprintf("must-include set costs %.1f, above budget %.1f", pinnedCost, spec.Budget)}
	}

	return nil
}
