// Package transfer recommends minimal-change squad modifications: bounded
// swap sets that improve the projected objective within a budget delta,
// using the core optimizer as a feasibility and objective oracle.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/squadforge/squad-optimizer/internal/catalog"
	"github.com/squadforge/squad-optimizer/internal/constraints"
	"github.com/squadforge/squad-optimizer/internal/optimizer"
	"github.com/squadforge/squad-optimizer/pkg/types"
)

// ErrUnrepairableSelection signals that the prior selection no longer
// satisfies the catalog and the transfer budget is too small to restore it.
var ErrUnrepairableSelection = errors.New("transfer: selection cannot be repaired within the transfer budget")

// ErrSearchTimedOut signals that the bounded wall-clock budget expired before
// every candidate was evaluated. Distinct from ErrUnrepairableSelection.
var ErrSearchTimedOut = errors.New("transfer: search timed out")

// ErrInvalidSelection signals a malformed current selection: wrong size or
// repeated entities. A caller mistake, not a search outcome.
var ErrInvalidSelection = errors.New("transfer: current selection is malformed")

// improvementTol is the minimum objective gain counted as an improvement.
const improvementTol = 1e-6

// Options bound one search invocation.
type Options struct {
	MaxTransfers        int
	ExtraBudget         float64
	Mode                types.Mode
	Strategy            types.Strategy
	UncertaintyFraction float64
	Workers             int
	Timeout             time.Duration
	// Progress, when non-nil, receives updates as candidates complete.
	Progress func(types.ProgressUpdate)
}

// Recommendation is the outcome of one search. A nil Plan means no swap
// improves on the current squad.
type Recommendation struct {
	Plan           *types.TransferPlan
	Selection      *types.Selection
	ObjectiveDelta float64
	Baseline       float64
	Candidates     int
}

// Search enumerates bounded removal subsets of the current squad and
// delegates each to the optimizer. It owns no state beyond one invocation.
type Search struct {
	opt    *optimizer.Optimizer
	logger *logrus.Logger
}

// NewSearch creates a transfer search around an optimizer oracle.
func NewSearch(opt *optimizer.Optimizer, logger *logrus.Logger) *Search {
	return &Search{opt: opt, logger: logger}
}

type candidate struct {
	removed []uint // ascending
}

type outcome struct {
	selection *types.Selection
	skipped   bool
	timedOut  bool
	err       error
}

// Run searches for the best transfer plan for the current selection.
// Entities in the selection that vanished from the catalog are forced
// removals counted against MaxTransfers.
func (s *Search) Run(ctx context.Context, cat *catalog.Catalog, spec types.ConstraintSpec, current []uint, opts Options) (*Recommendation, error) {
	if len(current) != spec.SquadSize {
		return nil, fmt.Errorf("%w: has %d entities, the spec requires %d", ErrInvalidSelection, len(current), spec.SquadSize)
	}
	seen := make(map[uint]bool, len(current))
	for _, id := range current {
		if seen[id] {
			return nil, fmt.Errorf("%w: entity %d appears twice", ErrInvalidSelection, id)
		}
		seen[id] = true
	}
	k := opts.MaxTransfers
	if k <= 0 {
		k = 1
	}

	var forced, survivors []uint
	for _, id := range current {
		if cat.Has(id) {
			survivors = append(survivors, id)
		} else {
			forced = append(forced, id)
		}
	}
	sort.Slice(forced, func(i, j int) bool { return forced[i] < forced[j] })
	sort.Slice(survivors, func(i, j int) bool { return survivors[i] < survivors[j] })

	if len(forced) > k {
		return nil, fmt.Errorf("%w: %d entities missing from catalog, budget allows %d swaps", ErrUnrepairableSelection, len(forced), k)
	}

	optOpts := optimizer.Options{
		Mode:                opts.Mode,
		Strategy:            opts.Strategy,
		UncertaintyFraction: opts.UncertaintyFraction,
	}
	values := optimizer.Values(cat, optOpts)
	baseline := baselineObjective(survivors, values)
	// The spending ceiling anchors to what the surviving squad is worth plus
	// whatever extra cash is available, not to the original budget.
	budgetCap := cat.TotalCost(survivors) + opts.ExtraBudget

	candidates := enumerateCandidates(survivors, forced, k)
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"candidates":    len(candidates),
			"forced":        len(forced),
			"max_transfers": k,
			"baseline":      baseline,
		}).Info("Starting transfer search")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	outcomes := s.evaluate(ctx, cat, spec, current, budgetCap, candidates, optOpts, opts)

	// Deterministic winner pick: results are inspected in candidate order
	// regardless of worker completion order.
	bestIdx := -1
	timedOut := false
	for i, out := range outcomes {
		if out.timedOut {
			timedOut = true
			continue
		}
		if out.err != nil {
			return nil, out.err
		}
		if out.skipped {
			continue
		}
		if bestIdx == -1 || better(out.selection, candidates[i].removed, outcomes[bestIdx].selection, candidates[bestIdx].removed) {
			bestIdx = i
		}
	}
	if timedOut {
		return nil, ErrSearchTimedOut
	}

	rec := &Recommendation{Baseline: baseline, Candidates: len(candidates)}
	if bestIdx == -1 {
		if len(forced) > 0 {
			return nil, fmt.Errorf("%w: no feasible repair within %d swaps", ErrUnrepairableSelection, k)
		}
		return rec, nil
	}

	best := outcomes[bestIdx].selection
	delta := squadValue(best, values) - baseline
	if len(forced) == 0 && delta <= improvementTol {
		// No beneficial transfer; never force a degenerate swap.
		return rec, nil
	}

	rec.Plan = buildPlan(candidates[bestIdx].removed, current, best)
	rec.Selection = best
	rec.ObjectiveDelta = delta
	return rec, nil
}

// evaluate fans the candidates out over a worker pool. Each worker writes
// only its own result slots, so the collected slice needs no locking.
func (s *Search) evaluate(ctx context.Context, cat *catalog.Catalog, spec types.ConstraintSpec, current []uint, budgetCap float64, candidates []candidate, optOpts optimizer.Options, opts Options) []outcome {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}

	outcomes := make([]outcome, len(candidates))
	jobs := make(chan int, len(candidates))
	for i := range candidates {
		jobs <- i
	}
	close(jobs)

	var completed int
	var progressMu sync.Mutex
	report := func() {
		if opts.Progress == nil {
			return
		}
		progressMu.Lock()
		completed++
		done := completed
		progressMu.Unlock()
		opts.Progress(types.ProgressUpdate{
			Type:        "transfer_search",
			Progress:    float64(done) / float64(len(candidates)),
			Message:     fmt.Sprintf("Evaluated candidate %d/%d", done, len(candidates)),
			CurrentStep: "candidate_solve",
			TotalSteps:  len(candidates),
			Timestamp:   time.Now(),
		})
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = s.solveCandidate(ctx, cat, spec, current, budgetCap, candidates[i], optOpts)
				report()
			}
		}()
	}
	wg.Wait()

	return outcomes
}

func (s *Search) solveCandidate(ctx context.Context, cat *catalog.Catalog, spec types.ConstraintSpec, current []uint, budgetCap float64, cand candidate, optOpts optimizer.Options) outcome {
	candSpec := candidateSpec(cat, spec, current, budgetCap, cand)

	sel, err := s.opt.Optimize(ctx, cat, candSpec, optOpts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return outcome{timedOut: true}
		}
		if errors.Is(err, context.Canceled) {
			// Caller cancellation is not a timeout; propagate it as-is.
			return outcome{err: err}
		}
		var specErr *constraints.InvalidSpecError
		if errors.Is(err, optimizer.ErrInfeasible) || errors.As(err, &specErr) {
			// A removal set that contradicts the spec (e.g. it retains an
			// excluded entity) is simply not a viable candidate.
			return outcome{skipped: true}
		}
		return outcome{err: fmt.Errorf("transfer: candidate %v failed: %w", cand.removed, err)}
	}
	return outcome{selection: sel}
}

// candidateSpec anchors the retained squad and caps spending at the current
// squad value plus the extra budget. When every removed entity's category is
// known the replacement slots are pinned to the current formation.
func candidateSpec(cat *catalog.Catalog, spec types.ConstraintSpec, current []uint, budgetCap float64, cand candidate) types.ConstraintSpec {
	removed := make(map[uint]bool, len(cand.removed))
	formationKnown := true
	for _, id := range cand.removed {
		removed[id] = true
		if !cat.Has(id) {
			formationKnown = false
		}
	}

	candSpec := spec
	candSpec.Budget = budgetCap
	candSpec.MustInclude = nil
	candSpec.MustExclude = nil

	include := make(map[uint]bool)
	for _, id := range current {
		if !removed[id] && cat.Has(id) {
			include[id] = true
		}
	}
	for _, id := range spec.MustInclude {
		include[id] = true
	}
	for id := range include {
		candSpec.MustInclude = append(candSpec.MustInclude, id)
	}
	sort.Slice(candSpec.MustInclude, func(i, j int) bool { return candSpec.MustInclude[i] < candSpec.MustInclude[j] })

	exclude := make(map[uint]bool)
	for _, id := range spec.MustExclude {
		exclude[id] = true
	}
	for _, id := range cand.removed {
		exclude[id] = true
	}
	for id := range exclude {
		candSpec.MustExclude = append(candSpec.MustExclude, id)
	}
	sort.Slice(candSpec.MustExclude, func(i, j int) bool { return candSpec.MustExclude[i] < candSpec.MustExclude[j] })

	if formationKnown {
		counts := cat.CategoryCounts(current)
		ranges := make(map[types.Category]types.Range, len(types.Categories))
		for _, c := range types.Categories {
			ranges[c] = types.Range{Min: counts[c], Max: counts[c]}
		}
		candSpec.CategoryRanges = ranges
	}

	return candSpec
}

// baselineObjective is the surviving squad's raw value, without the
// amplification double-count. Deltas are reported against this so a swap's
// gain reads as value(added) minus value(removed).
func baselineObjective(survivors []uint, values map[uint]float64) float64 {
	total := 0.0
	for _, id := range survivors {
		total += values[id]
	}
	return total
}

// squadValue strips the amplification double-count from a selection's
// objective, making it comparable with baselineObjective.
func squadValue(sel *types.Selection, values map[uint]float64) float64 {
	return sel.ObjectiveValue - values[sel.AmplifiedID]
}

// enumerateCandidates lists removal sets: every forced removal plus 0..k-f
// survivors, in deterministic ascending-id combination order. Pure forced
// repair (no voluntary removals) is included; the empty set is not.
func enumerateCandidates(survivors, forced []uint, k int) []candidate {
	var candidates []candidate
	maxExtra := k - len(forced)

	for size := 0; size <= maxExtra; size++ {
		if size == 0 {
			if len(forced) > 0 {
				candidates = append(candidates, candidate{removed: append([]uint(nil), forced...)})
			}
			continue
		}
		combinations(survivors, size, func(combo []uint) {
			removed := make([]uint, 0, len(forced)+size)
			removed = append(removed, forced...)
			removed = append(removed, combo...)
			sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
			candidates = append(candidates, candidate{removed: removed})
		})
	}
	return candidates
}

// combinations invokes the callback with each size-k combination of ids in
// lexicographic order. The callback must copy the slice if it retains it.
func combinations(ids []uint, k int, fn func([]uint)) {
	if k > len(ids) {
		return
	}
	combo := make([]uint, k)
	var walk func(start, depth int)
	walk = func(start, depth int) {
		if depth == k {
			fn(combo)
			return
		}
		for i := start; i <= len(ids)-(k-depth); i++ {
			combo[depth] = ids[i]
			walk(i+1, depth+1)
		}
	}
	walk(0, 0)
}

// better orders candidate results: higher objective, then lower cost, then
// lexicographically smaller removed set.
func better(a *types.Selection, removedA []uint, b *types.Selection, removedB []uint) bool {
	if a.ObjectiveValue > b.ObjectiveValue+improvementTol {
		return true
	}
	if b.ObjectiveValue > a.ObjectiveValue+improvementTol {
		return false
	}
	if a.TotalCost < b.TotalCost-improvementTol {
		return true
	}
	if b.TotalCost < a.TotalCost-improvementTol {
		return false
	}
	return lessIDs(removedA, removedB)
}

func lessIDs(a, b []uint) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func buildPlan(removed []uint, current []uint, sel *types.Selection) *types.TransferPlan {
	inCurrent := make(map[uint]bool, len(current))
	for _, id := range current {
		inCurrent[id] = true
	}
	plan := &types.TransferPlan{Removed: append([]uint(nil), removed...)}
	for _, id := range sel.EntityIDs {
		if !inCurrent[id] {
			plan.Added = append(plan.Added, id)
		}
	}
	sort.Slice(plan.Added, func(i, j int) bool { return plan.Added[i] < plan.Added[j] })
	return plan
}
