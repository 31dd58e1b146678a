package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squadforge/squad-optimizer/pkg/types"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 11, cfg.SquadSize)
	assert.Equal(t, 3, cfg.GroupCap)
	assert.InDelta(t, 100.0, cfg.Budget, 1e-9)
	assert.InDelta(t, 0.15, cfg.UncertaintyFraction, 1e-9)
	assert.Equal(t, 2, cfg.MaxTransfers)
	assert.Equal(t, 4, cfg.TransferWorkers)
	assert.Equal(t, 30*time.Second, cfg.SearchTimeout)
	assert.Equal(t, 5*time.Minute, cfg.CacheExpiration)
}

func TestDefaultSpec(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	spec := cfg.DefaultSpec()
	assert.Equal(t, 11, spec.SquadSize)
	assert.InDelta(t, 100.0, spec.Budget, 1e-9)
	assert.Equal(t, types.Range{Min: 1, Max: 1}, spec.CategoryRanges[types.CategoryGK])
	assert.Equal(t, types.Range{Min: 3, Max: 5}, spec.CategoryRanges[types.CategoryDEF])
	assert.Equal(t, types.Range{Min: 3, Max: 5}, spec.CategoryRanges[types.CategoryMID])
	assert.Equal(t, types.Range{Min: 1, Max: 3}, spec.CategoryRanges[types.CategoryFWD])
}

func TestDefaultSpec_ReserveBudgetHeldBack(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	cfg.ReserveBudget = 17.0
	assert.InDelta(t, 83.0, cfg.DefaultSpec().Budget, 1e-9)
}

func TestEnvironmentHelpers(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.True(t, cfg.IsProduction())
}
