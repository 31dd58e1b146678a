package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squadforge/squad-optimizer/pkg/types"
)

func testEntities() []types.Entity {
	return []types.Entity{
		{ID: 3, Name: "Carter", Category: types.CategoryDEF, Group: "north", Cost: 5.5, ExpectedValue: 4.2},
		{ID: 1, Name: "Alder", Category: types.CategoryGK, Group: "north", Cost: 4.0, ExpectedValue: 3.1},
		{ID: 7, Name: "Gray", Category: types.CategoryMID, Group: "south", Cost: 8.0, ExpectedValue: 6.5},
		{ID: 5, Name: "Ellis", Category: types.CategoryDEF, Group: "south", Cost: 4.5, ExpectedValue: 3.8},
	}
}

func TestNew_SortsByID(t *testing.T) {
	cat, err := New(testEntities())
	require.NoError(t, err)

	entities := cat.Entities()
	require.Len(t, entities, 4)
	assert.Equal(t, uint(1), entities[0].ID)
	assert.Equal(t, uint(3), entities[1].ID)
	assert.Equal(t, uint(5), entities[2].ID)
	assert.Equal(t, uint(7), entities[3].ID)
}

func TestNew_RejectsEmptyCatalog(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	var inputErr *InvalidInputError
	assert.ErrorAs(t, err, &inputErr)
}

func TestNew_RejectsDuplicateID(t *testing.T) {
	entities := testEntities()
	entities = append(entities, types.Entity{ID: 3, Category: types.CategoryFWD, Group: "east", Cost: 6.0, ExpectedValue: 5.0})

	_, err := New(entities)
	var inputErr *InvalidInputError
	require.ErrorAs(t, err, &inputErr)
	assert.Contains(t, inputErr.Reason, "duplicate")
}

func TestNew_RejectsInvalidCategory(t *testing.T) {
	entities := testEntities()
	entities[0].Category = "WING"

	_, err := New(entities)
	var inputErr *InvalidInputError
	assert.ErrorAs(t, err, &inputErr)
}

func TestNew_RejectsNonPositiveCost(t *testing.T) {
	entities := testEntities()
	entities[1].Cost = 0

	_, err := New(entities)
	var inputErr *InvalidInputError
	assert.ErrorAs(t, err, &inputErr)
}

func TestNew_RejectsNegativeMargin(t *testing.T) {
	entities := testEntities()
	margin := -0.5
	entities[2].UncertaintyMargin = &margin

	_, err := New(entities)
	var inputErr *InvalidInputError
	assert.ErrorAs(t, err, &inputErr)
}

func TestCatalog_Lookups(t *testing.T) {
	cat, err := New(testEntities())
	require.NoError(t, err)

	assert.Equal(t, 4, cat.Len())
	assert.True(t, cat.Has(5))
	assert.False(t, cat.Has(99))

	e, ok := cat.Get(7)
	require.True(t, ok)
	assert.Equal(t, "Gray", e.Name)

	_, ok = cat.Get(2)
	assert.False(t, ok)
}

func TestCatalog_ByCategoryAndGroup(t *testing.T) {
	cat, err := New(testEntities())
	require.NoError(t, err)

	assert.Equal(t, []uint{3, 5}, cat.ByCategory(types.CategoryDEF))
	assert.Empty(t, cat.ByCategory(types.CategoryFWD))

	assert.Equal(t, []string{"north", "south"}, cat.Groups())
	assert.Equal(t, []uint{1, 3}, cat.ByGroup("north"))
}

func TestCatalog_TotalCostAndCounts(t *testing.T) {
	cat, err := New(testEntities())
	require.NoError(t, err)

	assert.InDelta(t, 9.5, cat.TotalCost([]uint{1, 3}), 1e-9)
	// ids missing from the catalog contribute nothing
	assert.InDelta(t, 4.0, cat.TotalCost([]uint{1, 42}), 1e-9)

	counts := cat.CategoryCounts([]uint{1, 3, 5})
	assert.Equal(t, 1, counts[types.CategoryGK])
	assert.Equal(t, 2, counts[types.CategoryDEF])
	assert.Equal(t, 0, counts[types.CategoryMID])
}
