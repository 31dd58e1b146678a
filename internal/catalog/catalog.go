package catalog

import (
	"fmt"
	"sort"

	"github.com/squadforge/squad-optimizer/pkg/types"
)

// InvalidInputError reports a malformed catalog: duplicate ids, non-positive
// costs, unknown categories or an empty entity list.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid catalog: %s", e.Reason)
}

// Catalog is a read-only snapshot of the selectable entities for one
// optimization run, with category and group indexes built once.
type Catalog struct {
	entities   []types.Entity
	byID       map[uint]int
	byCategory map[types.Category][]uint
	byGroup    map[string][]uint
}

// New validates the entity list and builds the snapshot. The slice is copied
// and sorted by id so downstream iteration order is deterministic.
func New(entities []types.Entity) (*Catalog, error) {
	if len(entities) == 0 {
		return nil, &InvalidInputError{Reason: "empty entity list"}
	}

	sorted := make([]types.Entity, len(entities))
	copy(sorted, entities)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	c := &Catalog{
		entities:   sorted,
		byID:       make(map[uint]int, len(sorted)),
		byCategory: make(map[types.Category][]uint),
		byGroup:    make(map[string][]uint),
	}

	for i, e := range sorted {
		if _, dup := c.byID[e.ID]; dup {
			return nil, &InvalidInputError{Reason: fmt.Sprintf("duplicate entity id %d", e.ID)}
		}
		if !e.Category.Valid() {
			return nil, &InvalidInputError{Reason: fmt.Sprintf("entity %d has unknown category %q", e.ID, e.Category)}
		}
		if e.Cost <= 0 {
			return nil, &InvalidInputError{Reason: fmt.Sprintf("entity %d has non-positive cost %.2f", e.ID, e.Cost)}
		}
		if e.UncertaintyMargin != nil && *e.UncertaintyMargin < 0 {
			return nil, &InvalidInputError{Reason: fmt.Sprintf("entity %d has negative uncertainty margin", e.ID)}
		}
		c.byID[e.ID] = i
		c.byCategory[e.Category] = append(c.byCategory[e.Category], e.ID)
		c.byGroup[e.Group] = append(c.byGroup[e.Group], e.ID)
	}

	return c, nil
}

// Len returns the number of entities in the snapshot.
func (c *Catalog) Len() int {
	return len(c.entities)
}

// Entities returns the snapshot entities ordered by ascending id. Callers
// must not mutate the returned slice.
func (c *Catalog) Entities() []types.Entity {
	return c.entities
}

// Get looks up an entity by id.
func (c *Catalog) Get(id uint) (types.Entity, bool) {
	i, ok := c.byID[id]
	if !ok {
		return types.Entity{}, false
	}
	return c.entities[i], true
}

// Has reports whether an entity id exists in the snapshot.
func (c *Catalog) Has(id uint) bool {
	_, ok := c.byID[id]
	return ok
}

// ByCategory returns the ids of all entities in the given category, ordered
// by ascending id.
func (c *Catalog) ByCategory(cat types.Category) []uint {
	return c.byCategory[cat]
}

// Groups returns the distinct group values observed in the catalog, sorted.
func (c *Catalog) Groups() []string {
	groups := make([]string, 0, len(c.byGroup))
	for g := range c.byGroup {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// ByGroup returns the ids of all entities affiliated with the given group.
func (c *Catalog) ByGroup(group string) []uint {
	return c.byGroup[group]
}

// TotalCost sums the cost of the given ids; ids missing from the snapshot
// contribute nothing.
func (c *Catalog) TotalCost(ids []uint) float64 {
	total := 0.0
	for _, id := range ids {
		if e, ok := c.Get(id); ok {
			total += e.Cost
		}
	}
	return total
}

// CategoryCounts tallies the given ids per category, skipping unknown ids.
func (c *Catalog) CategoryCounts(ids []uint) map[types.Category]int {
	counts := make(map[types.Category]int, len(types.Categories))
	for _, id := range ids {
		if e, ok := c.Get(id); ok {
			counts[e.Category]++
		}
	}
	return counts
}
