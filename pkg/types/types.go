package types

import (
	"fmt"
	"time"
)

// Category is the selection-eligibility class of an entity. Each category
// carries its own quota range in a ConstraintSpec.
type Category string

const (
	CategoryGK  Category = "GK"
	CategoryDEF Category = "DEF"
	CategoryMID Category = "MID"
	CategoryFWD Category = "FWD"
)

// Categories lists all known categories in display order.
var Categories = []Category{CategoryGK, CategoryDEF, CategoryMID, CategoryFWD}

// Valid reports whether the category is one of the known values.
func (c Category) Valid() bool {
	switch c {
	case CategoryGK, CategoryDEF, CategoryMID, CategoryFWD:
		return true
	}
	return false
}

// Mode selects the objective variant used by the optimizer.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeRobust   Mode = "robust"
)

// Strategy adjusts value coefficients by ownership before optimization.
type Strategy string

const (
	StrategyStandard       Strategy = "standard"
	StrategyRankProtection Strategy = "rank_protection"
	StrategyRankClimbing   Strategy = "rank_climbing"
)

// Entity is one selectable item in the catalog. Entities are immutable for
// the duration of an optimization run; the catalog is refreshed externally
// between runs.
type Entity struct {
	ID            uint     `json:"id"`
	Name          string   `json:"name,omitempty"`
	Category      Category `json:"category"`
	Group         string   `json:"group"`
	Cost          float64  `json:"cost"`
	ExpectedValue float64  `json:"expected_value"`
	// UncertaintyMargin is the half-width of the entity's box uncertainty
	// interval. Nil means no explicit margin was supplied and the robust
	// objective falls back to expected_value * uncertainty_fraction.
	UncertaintyMargin *float64 `json:"uncertainty_margin,omitempty"`
	// Ownership is the fraction of managers holding the entity (0..1),
	// consumed by strategy overlays.
	Ownership float64 `json:"ownership,omitempty"`
}

// Range is an inclusive [Min, Max] quota for one category.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// ConstraintSpec enumerates the feasible-region configuration for one
// optimization run.
type ConstraintSpec struct {
	SquadSize      int                `json:"squad_size"`
	CategoryRanges map[Category]Range `json:"category_ranges"`
	GroupCap       int                `json:"group_cap"`
	Budget         float64            `json:"budget"`
	MustInclude    []uint             `json:"must_include,omitempty"`
	MustExclude    []uint             `json:"must_exclude,omitempty"`
}

// Selection is a valid squad: a fixed-size set of entity ids with exactly one
// amplified member whose value is double-counted in the objective.
type Selection struct {
	EntityIDs      []uint  `json:"entity_ids"`
	AmplifiedID    uint    `json:"amplified_id"`
	ObjectiveValue float64 `json:"objective_value"`
	TotalCost      float64 `json:"total_cost"`
	Formation      string  `json:"formation,omitempty"`
}

// Contains reports whether the selection includes the given entity id.
func (s *Selection) Contains(id uint) bool {
	for _, eid := range s.EntityIDs {
		if eid == id {
			return true
		}
	}
	return false
}

// TransferPlan is a bounded-size swap applied to an existing selection:
// Removed and Added are disjoint and of equal size.
type TransferPlan struct {
	Removed []uint `json:"removed"`
	Added   []uint `json:"added"`
}

// Size returns the number of swaps in the plan.
func (p *TransferPlan) Size() int {
	return len(p.Removed)
}

// OptimizeRequest is the wire request for POST /api/v1/optimize.
type OptimizeRequest struct {
	Catalog             []Entity       `json:"catalog"`
	Spec                ConstraintSpec `json:"spec"`
	Mode                Mode           `json:"mode,omitempty"`
	Strategy            Strategy       `json:"strategy,omitempty"`
	UncertaintyFraction float64        `json:"uncertainty_fraction,omitempty"`
}

// OptimizeResponse is the wire response for POST /api/v1/optimize.
type OptimizeResponse struct {
	Status    string     `json:"status"` // "optimal" or "infeasible"
	Selection *Selection `json:"selection,omitempty"`
	Mode      Mode       `json:"mode"`
	ElapsedMs int64      `json:"elapsed_ms"`
}

// TransferRequest is the wire request for POST /api/v1/transfers.
type TransferRequest struct {
	Catalog             []Entity       `json:"catalog"`
	Spec                ConstraintSpec `json:"spec"`
	Current             []uint         `json:"current"`
	MaxTransfers        int            `json:"max_transfers,omitempty"`
	ExtraBudget         float64        `json:"extra_budget,omitempty"`
	Mode                Mode           `json:"mode,omitempty"`
	Strategy            Strategy       `json:"strategy,omitempty"`
	UncertaintyFraction float64        `json:"uncertainty_fraction,omitempty"`
	ClientID            string         `json:"client_id,omitempty"`
}

// TransferResponse is the wire response for POST /api/v1/transfers.
type TransferResponse struct {
	// Status is "improved", "no_beneficial_transfer", "unrepairable" or
	// "timeout".
	Status         string        `json:"status"`
	Plan           *TransferPlan `json:"plan,omitempty"`
	ObjectiveDelta float64       `json:"objective_delta"`
	Selection      *Selection    `json:"selection,omitempty"`
	ElapsedMs      int64         `json:"elapsed_ms"`
}

// ProgressUpdate is pushed over the websocket hub while a transfer search is
// running.
type ProgressUpdate struct {
	Type        string    `json:"type"`
	Progress    float64   `json:"progress"`
	Message     string    `json:"message"`
	CurrentStep string    `json:"current_step"`
	TotalSteps  int       `json:"total_steps"`
	Timestamp   time.Time `json:"timestamp"`
}

// ErrorResponse represents a standard error response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthStatus represents the health status of the service.
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// FormationString renders category counts as the conventional
// defenders-midfielders-forwards string, e.g. "4-4-2".
func FormationString(counts map[Category]int) string {
	return fmt.Sprintf("%d-%d-%d", counts[CategoryDEF], counts[CategoryMID], counts[CategoryFWD])
}
