// Package strategy adjusts value coefficients by effective ownership before
// optimization: protecting a rank means following the crowd, climbing means
// chasing differentials.
package strategy

import (
	"github.com/squadforge/squad-optimizer/internal/catalog"
	"github.com/squadforge/squad-optimizer/pkg/types"
)

// Apply returns ownership-adjusted value coefficients for every entity in the
// catalog. StrategyStandard returns the raw values unchanged.
func Apply(values map[uint]float64, cat *catalog.Catalog, s types.Strategy) map[uint]float64 {
	if s == "" || s == types.StrategyStandard {
		return values
	}

	adjusted := make(map[uint]float64, len(values))
	for _, e := range cat.Entities() {
		v, ok := values[e.ID]
		if !ok {
			continue
		}
		own := clamp01(e.Ownership)
		switch s {
		case types.StrategyRankProtection:
			// Boost high-ownership entities to shrink variance against the
			// field.
			adjusted[e.ID] = v * (1.0 + 0.5*own)
		case types.StrategyRankClimbing:
			// Penalize template picks, reward differentials.
			adjusted[e.ID] = v * (2.0 - own)
		default:
			adjusted[e.ID] = v
		}
	}
	return adjusted
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
