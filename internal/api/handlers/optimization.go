package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/squadforge/squad-optimizer/internal/catalog"
	"github.com/squadforge/squad-optimizer/internal/constraints"
	"github.com/squadforge/squad-optimizer/internal/optimizer"
	"github.com/squadforge/squad-optimizer/pkg/cache"
	"github.com/squadforge/squad-optimizer/pkg/config"
	"github.com/squadforge/squad-optimizer/pkg/logger"
	"github.com/squadforge/squad-optimizer/pkg/types"
)

// OptimizationHandler serves squad selection requests.
type OptimizationHandler struct {
	optimizer *optimizer.Optimizer
	cache     *cache.ResultCache
	config    *config.Config
	logger    *logrus.Logger
}

// NewOptimizationHandler creates a new optimization handler.
func NewOptimizationHandler(opt *optimizer.Optimizer, resultCache *cache.ResultCache, cfg *config.Config, logger *logrus.Logger) *OptimizationHandler {
	return &OptimizationHandler{
		optimizer: opt,
		cache:     resultCache,
		config:    cfg,
		logger:    logger,
	}
}

// Optimize handles POST /api/v1/optimize
func (h *OptimizationHandler) Optimize(c *gin.Context) {
	runID := uuid.New().String()
	start := time.Now()

	var req types.OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Error("Invalid optimize request body")
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	spec := h.applyDefaults(req.Spec)
	mode := req.Mode
	if mode == "" {
		mode = types.ModeStandard
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = types.StrategyStandard
	}

	log := logger.WithOptimizationContext(runID, string(mode), string(strategy)).
		WithField("entities", len(req.Catalog))
	log.Info("Optimization request received")

	cacheKey := requestKey(req.Catalog, spec, string(mode), string(strategy), req.UncertaintyFraction, nil, 0, 0)
	if h.cache != nil {
		if cached, err := h.cache.GetSelection(c.Request.Context(), cacheKey); err == nil {
			log.Info("Returning cached selection")
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	cat, err := catalog.New(req.Catalog)
	if err != nil {
		var inputErr *catalog.InvalidInputError
		if errors.As(err, &inputErr) {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error: inputErr.Error(),
				Code:  "INVALID_INPUT",
			})
			return
		}
		log.WithError(err).Error("Failed to build catalog")
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error: "Failed to build catalog",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	selection, err := h.optimizer.Optimize(c.Request.Context(), cat, spec, optimizer.Options{
		Mode:                mode,
		Strategy:            strategy,
		UncertaintyFraction: req.UncertaintyFraction,
	})
	if err != nil {
		var specErr *constraints.InvalidSpecError
		switch {
		case errors.As(err, &specErr):
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error: specErr.Error(),
				Code:  "INVALID_SPEC",
			})
		case errors.Is(err, optimizer.ErrInfeasible):
			// Infeasibility is a legitimate outcome, not a server failure.
			c.JSON(http.StatusOK, types.OptimizeResponse{
				Status:    "infeasible",
				Mode:      mode,
				ElapsedMs: time.Since(start).Milliseconds(),
			})
		default:
			log.WithError(err).Error("Optimization failed")
			c.JSON(http.StatusInternalServerError, types.ErrorResponse{
				Error: "Optimization failed",
				Code:  "OPTIMIZATION_ERROR",
			})
		}
		return
	}

	resp := types.OptimizeResponse{
		Status:    "optimal",
		Selection: selection,
		Mode:      mode,
		ElapsedMs: time.Since(start).Milliseconds(),
	}

	if h.cache != nil {
		if err := h.cache.SetSelection(c.Request.Context(), cacheKey, &resp, h.config.CacheExpiration); err != nil {
			log.WithError(err).Warn("Failed to cache selection")
		}
	}

	log.WithFields(logrus.Fields{
		"objective":  selection.ObjectiveValue,
		"total_cost": selection.TotalCost,
		"elapsed_ms": resp.ElapsedMs,
	}).Info("Optimization completed")

	c.JSON(http.StatusOK, resp)
}

// Validate handles POST /api/v1/validate. It runs catalog and spec
// validation without solving, so clients can vet inputs cheaply.
func (h *OptimizationHandler) Validate(c *gin.Context) {
	var req types.OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	spec := h.applyDefaults(req.Spec)

	cat, err := catalog.New(req.Catalog)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": err.Error()})
		return
	}
	if _, err := constraints.Build(cat, spec); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// applyDefaults fills zero-valued spec fields from the service configuration.
func (h *OptimizationHandler) applyDefaults(spec types.ConstraintSpec) types.ConstraintSpec {
	defaults := h.config.DefaultSpec()
	if spec.SquadSize == 0 {
		spec.SquadSize = defaults.SquadSize
	}
	if spec.Budget == 0 {
		spec.Budget = defaults.Budget
	}
	if spec.GroupCap == 0 {
		spec.GroupCap = defaults.GroupCap
	}
	if len(spec.CategoryRanges) == 0 {
		spec.CategoryRanges = defaults.CategoryRanges
	}
	return spec
}

// requestKey derives a deterministic cache key from everything that affects
// the result.
func requestKey(entities []types.Entity, spec types.ConstraintSpec, mode, strategy string, fraction float64, current []uint, maxTransfers int, extraBudget float64) string {
	payload := struct {
		Entities     []types.Entity       `json:"entities"`
		Spec         types.ConstraintSpec `json:"spec"`
		Mode         string               `json:"mode"`
		Strategy     string               `json:"strategy"`
		Fraction     float64              `json:"fraction"`
		Current      []uint               `json:"current,omitempty"`
		MaxTransfers int                  `json:"max_transfers,omitempty"`
		ExtraBudget  float64              `json:"extra_budget,omitempty"`
	}{entities, spec, mode, strategy, fraction, current, maxTransfers, extraBudget}

	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
