package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squadforge/squad-optimizer/internal/catalog"
	"github.com/squadforge/squad-optimizer/internal/optimizer"
	"github.com/squadforge/squad-optimizer/pkg/types"
)

func newSearch() *Search {
	return NewSearch(optimizer.New(nil, nil), nil)
}

func baseSpec() types.ConstraintSpec {
	return types.ConstraintSpec{
		SquadSize: 4,
		GroupCap:  4,
		Budget:    20,
		CategoryRanges: map[types.Category]types.Range{
			types.CategoryGK:  {Min: 1, Max: 1},
			types.CategoryDEF: {Min: 3, Max: 3},
		},
	}
}

func baseEntities() []types.Entity {
	return []types.Entity{
		{ID: 1, Name: "A", Category: types.CategoryGK, Group: "g1", Cost: 5, ExpectedValue: 4},
		{ID: 2, Name: "B", Category: types.CategoryDEF, Group: "g2", Cost: 5, ExpectedValue: 5},
		{ID: 3, Name: "C", Category: types.CategoryDEF, Group: "g3", Cost: 5, ExpectedValue: 5},
		{ID: 4, Name: "D", Category: types.CategoryDEF, Group: "g4", Cost: 5, ExpectedValue: 5},
	}
}

func TestRun_RecommendsImprovingSwap(t *testing.T) {
	// A new higher-value defender appears; with one transfer allowed the
	// search must swap out a value-5 defender for the value-8 one.
	entities := append(baseEntities(),
		types.Entity{ID: 5, Name: "E", Category: types.CategoryDEF, Group: "g5", Cost: 5, ExpectedValue: 8})
	cat, err := catalog.New(entities)
	require.NoError(t, err)

	rec, err := newSearch().Run(context.Background(), cat, baseSpec(), []uint{1, 2, 3, 4}, Options{
		MaxTransfers: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, rec.Plan)

	assert.Equal(t, []uint{2}, rec.Plan.Removed, "ties among equal-value defenders resolve to the lowest id")
	assert.Equal(t, []uint{5}, rec.Plan.Added)
	assert.InDelta(t, 3.0, rec.ObjectiveDelta, 1e-6, "squad value rises from 19 to 22")
	assert.True(t, rec.Selection.Contains(5))
	assert.False(t, rec.Selection.Contains(2))
}

func TestRun_NoBeneficialTransfer(t *testing.T) {
	cat, err := catalog.New(baseEntities())
	require.NoError(t, err)

	rec, err := newSearch().Run(context.Background(), cat, baseSpec(), []uint{1, 2, 3, 4}, Options{
		MaxTransfers: 1,
	})
	require.NoError(t, err)
	assert.Nil(t, rec.Plan, "no swap can improve a squad that is already optimal")
	assert.Zero(t, rec.ObjectiveDelta)
}

func TestRun_UntouchedEntitiesSurvive(t *testing.T) {
	entities := append(baseEntities(),
		types.Entity{ID: 5, Name: "E", Category: types.CategoryDEF, Group: "g5", Cost: 5, ExpectedValue: 8})
	cat, err := catalog.New(entities)
	require.NoError(t, err)

	current := []uint{1, 2, 3, 4}
	rec, err := newSearch().Run(context.Background(), cat, baseSpec(), current, Options{
		MaxTransfers: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, rec.Plan)

	removed := make(map[uint]bool)
	for _, id := range rec.Plan.Removed {
		removed[id] = true
	}
	for _, id := range current {
		if !removed[id] {
			assert.True(t, rec.Selection.Contains(id),
				"entity %d was not in the plan and must remain selected", id)
		}
	}
}

func TestRun_ForcedRemovalRepairsSelection(t *testing.T) {
	// Entity 2 vanished from the catalog; the only repair is bringing in E.
	entities := []types.Entity{
		{ID: 1, Name: "A", Category: types.CategoryGK, Group: "g1", Cost: 5, ExpectedValue: 4},
		{ID: 3, Name: "C", Category: types.CategoryDEF, Group: "g3", Cost: 5, ExpectedValue: 5},
		{ID: 4, Name: "D", Category: types.CategoryDEF, Group: "g4", Cost: 5, ExpectedValue: 5},
		{ID: 5, Name: "E", Category: types.CategoryDEF, Group: "g5", Cost: 5, ExpectedValue: 3},
	}
	cat, err := catalog.New(entities)
	require.NoError(t, err)

	rec, err := newSearch().Run(context.Background(), cat, baseSpec(), []uint{1, 2, 3, 4}, Options{
		MaxTransfers: 1,
		ExtraBudget:  5, // the vanished entity's cost is not recouped
	})
	require.NoError(t, err)
	require.NotNil(t, rec.Plan, "a forced repair is returned even when the replacement is weaker")

	assert.Equal(t, []uint{2}, rec.Plan.Removed)
	assert.Equal(t, []uint{5}, rec.Plan.Added)
	assert.InDelta(t, 3.0, rec.ObjectiveDelta, 1e-6, "delta is measured against the surviving squad value")
}

func TestRun_UnrepairableWhenForcedExceedsBudget(t *testing.T) {
	// Two entities vanished but only one transfer is allowed.
	entities := []types.Entity{
		{ID: 1, Name: "A", Category: types.CategoryGK, Group: "g1", Cost: 5, ExpectedValue: 4},
		{ID: 4, Name: "D", Category: types.CategoryDEF, Group: "g4", Cost: 5, ExpectedValue: 5},
		{ID: 5, Name: "E", Category: types.CategoryDEF, Group: "g5", Cost: 5, ExpectedValue: 3},
		{ID: 6, Name: "F", Category: types.CategoryDEF, Group: "g6", Cost: 5, ExpectedValue: 3},
	}
	cat, err := catalog.New(entities)
	require.NoError(t, err)

	_, err = newSearch().Run(context.Background(), cat, baseSpec(), []uint{1, 2, 3, 4}, Options{
		MaxTransfers: 1,
	})
	assert.ErrorIs(t, err, ErrUnrepairableSelection)
}

func TestRun_UnrepairableWhenNoFeasibleRepair(t *testing.T) {
	// Entity 2 vanished and its only replacement breaks the budget.
	entities := []types.Entity{
		{ID: 1, Name: "A", Category: types.CategoryGK, Group: "g1", Cost: 5, ExpectedValue: 4},
		{ID: 3, Name: "C", Category: types.CategoryDEF, Group: "g3", Cost: 5, ExpectedValue: 5},
		{ID: 4, Name: "D", Category: types.CategoryDEF, Group: "g4", Cost: 5, ExpectedValue: 5},
		{ID: 5, Name: "E", Category: types.CategoryDEF, Group: "g5", Cost: 40, ExpectedValue: 9},
	}
	cat, err := catalog.New(entities)
	require.NoError(t, err)

	_, err = newSearch().Run(context.Background(), cat, baseSpec(), []uint{1, 2, 3, 4}, Options{
		MaxTransfers: 1,
	})
	assert.ErrorIs(t, err, ErrUnrepairableSelection)
}

func TestRun_ExtraBudgetUnlocksUpgrade(t *testing.T) {
	// The upgrade costs 3 more than the outgoing defender, so it is only
	// reachable once extra budget covers the difference.
	entities := append(baseEntities(),
		types.Entity{ID: 5, Name: "E", Category: types.CategoryDEF, Group: "g5", Cost: 8, ExpectedValue: 8})
	cat, err := catalog.New(entities)
	require.NoError(t, err)

	rec, err := newSearch().Run(context.Background(), cat, baseSpec(), []uint{1, 2, 3, 4}, Options{
		MaxTransfers: 1,
	})
	require.NoError(t, err)
	assert.Nil(t, rec.Plan, "without extra budget the upgrade is unaffordable")

	rec, err = newSearch().Run(context.Background(), cat, baseSpec(), []uint{1, 2, 3, 4}, Options{
		MaxTransfers: 1,
		ExtraBudget:  3,
	})
	require.NoError(t, err)
	require.NotNil(t, rec.Plan)
	assert.Equal(t, []uint{5}, rec.Plan.Added)
}

func TestRun_TwoTransfersBeatOne(t *testing.T) {
	entities := append(baseEntities(),
		types.Entity{ID: 5, Name: "E", Category: types.CategoryDEF, Group: "g5", Cost: 5, ExpectedValue: 8},
		types.Entity{ID: 6, Name: "F", Category: types.CategoryDEF, Group: "g6", Cost: 5, ExpectedValue: 7})
	cat, err := catalog.New(entities)
	require.NoError(t, err)

	rec, err := newSearch().Run(context.Background(), cat, baseSpec(), []uint{1, 2, 3, 4}, Options{
		MaxTransfers: 2,
		Workers:      2,
	})
	require.NoError(t, err)
	require.NotNil(t, rec.Plan)

	assert.Equal(t, []uint{2, 3}, rec.Plan.Removed)
	assert.ElementsMatch(t, []uint{5, 6}, rec.Plan.Added)
	assert.InDelta(t, 5.0, rec.ObjectiveDelta, 1e-6)
}

func TestRun_RejectsMalformedSelection(t *testing.T) {
	cat, err := catalog.New(baseEntities())
	require.NoError(t, err)

	_, err = newSearch().Run(context.Background(), cat, baseSpec(), []uint{1, 2, 3}, Options{})
	assert.ErrorIs(t, err, ErrInvalidSelection, "wrong selection size")

	_, err = newSearch().Run(context.Background(), cat, baseSpec(), []uint{1, 2, 3, 3}, Options{})
	assert.ErrorIs(t, err, ErrInvalidSelection, "repeated entity")
}

func TestRun_CancellationIsNotTimeout(t *testing.T) {
	entities := append(baseEntities(),
		types.Entity{ID: 5, Name: "E", Category: types.CategoryDEF, Group: "g5", Cost: 5, ExpectedValue: 8})
	cat, err := catalog.New(entities)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = newSearch().Run(ctx, cat, baseSpec(), []uint{1, 2, 3, 4}, Options{
		MaxTransfers: 1,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrSearchTimedOut)
}

func TestRun_TimeoutSurfacesAsSearchTimedOut(t *testing.T) {
	entities := append(baseEntities(),
		types.Entity{ID: 5, Name: "E", Category: types.CategoryDEF, Group: "g5", Cost: 5, ExpectedValue: 8})
	cat, err := catalog.New(entities)
	require.NoError(t, err)

	_, err = newSearch().Run(context.Background(), cat, baseSpec(), []uint{1, 2, 3, 4}, Options{
		MaxTransfers: 1,
		Timeout:      time.Nanosecond,
	})
	assert.ErrorIs(t, err, ErrSearchTimedOut)
}

func TestRun_ProgressReportsEveryCandidate(t *testing.T) {
	entities := append(baseEntities(),
		types.Entity{ID: 5, Name: "E", Category: types.CategoryDEF, Group: "g5", Cost: 5, ExpectedValue: 8})
	cat, err := catalog.New(entities)
	require.NoError(t, err)

	var mu sync.Mutex
	var updates []types.ProgressUpdate
	rec, err := newSearch().Run(context.Background(), cat, baseSpec(), []uint{1, 2, 3, 4}, Options{
		MaxTransfers: 1,
		Workers:      2,
		Progress: func(u types.ProgressUpdate) {
			mu.Lock()
			updates = append(updates, u)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	assert.Len(t, updates, rec.Candidates)
	for _, u := range updates {
		assert.Equal(t, "transfer_search", u.Type)
		assert.Greater(t, u.Progress, 0.0)
		assert.LessOrEqual(t, u.Progress, 1.0)
	}
}

func TestEnumerateCandidates(t *testing.T) {
	// One forced removal, up to two transfers: the forced set alone plus the
	// forced set combined with each single survivor.
	candidates := enumerateCandidates([]uint{1, 3}, []uint{9}, 2)
	require.Len(t, candidates, 3)
	assert.Equal(t, []uint{9}, candidates[0].removed)
	assert.Equal(t, []uint{1, 9}, candidates[1].removed)
	assert.Equal(t, []uint{3, 9}, candidates[2].removed)

	// No forced removals: the empty set is not a candidate.
	candidates = enumerateCandidates([]uint{1, 2, 3}, nil, 2)
	require.Len(t, candidates, 6)
	assert.Equal(t, []uint{1}, candidates[0].removed)
	assert.Equal(t, []uint{1, 2}, candidates[3].removed)
	assert.Equal(t, []uint{2, 3}, candidates[5].removed)
}
