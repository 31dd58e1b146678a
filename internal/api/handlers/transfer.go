package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/squadforge/squad-optimizer/internal/catalog"
	"github.com/squadforge/squad-optimizer/internal/constraints"
	"github.com/squadforge/squad-optimizer/internal/transfer"
	"github.com/squadforge/squad-optimizer/internal/websocket"
	"github.com/squadforge/squad-optimizer/pkg/cache"
	"github.com/squadforge/squad-optimizer/pkg/config"
	"github.com/squadforge/squad-optimizer/pkg/logger"
	"github.com/squadforge/squad-optimizer/pkg/types"
)

// TransferHandler serves transfer recommendation requests.
type TransferHandler struct {
	search *transfer.Search
	cache  *cache.ResultCache
	hub    *websocket.Hub
	config *config.Config
	logger *logrus.Logger
}

// NewTransferHandler creates a new transfer handler.
func NewTransferHandler(search *transfer.Search, resultCache *cache.ResultCache, hub *websocket.Hub, cfg *config.Config, logger *logrus.Logger) *TransferHandler {
	return &TransferHandler{
		search: search,
		cache:  resultCache,
		hub:    hub,
		config: cfg,
		logger: logger,
	}
}

// Recommend handles POST /api/v1/transfers
func (h *TransferHandler) Recommend(c *gin.Context) {
	runID := uuid.New().String()
	start := time.Now()

	var req types.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Error("Invalid transfer request body")
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
	maxTransfers := req.MaxTransfers
	if maxTransfers <= 0 {
		maxTransfers = h.config.MaxTransfers
	}

	log := logger.WithTransferContext(runID, maxTransfers).WithFields(logrus.Fields{
		"extra_budget": req.ExtraBudget,
		"mode":         mode,
	})
	log.Info("Transfer request received")

	cacheKey := requestKey(req.Catalog, spec, string(mode), string(strategy), req.UncertaintyFraction, req.Current, maxTransfers, req.ExtraBudget)
	if h.cache != nil {
		if cached, err := h.cache.GetTransfer(c.Request.Context(), cacheKey); err == nil {
			log.Info("Returning cached transfer recommendation")
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

	opts := transfer.Options{
		MaxTransfers:        maxTransfers,
		ExtraBudget:         req.ExtraBudget,
		Mode:                mode,
		Strategy:            strategy,
		UncertaintyFraction: req.UncertaintyFraction,
		Workers:             h.config.TransferWorkers,
		Timeout:             h.config.SearchTimeout,
	}
	if req.ClientID != "" && h.hub != nil {
		clientID := req.ClientID
		opts.Progress = func(update types.ProgressUpdate) {
			h.hub.BroadcastToClient(clientID, update)
			logger.WithRunID(runID).WithField("progress", update.Progress).Debug("Search progress pushed")
		}
	}

	rec, err := h.search.Run(c.Request.Context(), cat, spec, req.Current, opts)
	if err != nil {
		var specErr *constraints.InvalidSpecError
		switch {
		case errors.Is(err, transfer.ErrUnrepairableSelection):
			c.JSON(http.StatusOK, types.TransferResponse{
				Status:    "unrepairable",
				ElapsedMs: time.Since(start).Milliseconds(),
			})
		case errors.Is(err, transfer.ErrSearchTimedOut):
			c.JSON(http.StatusOK, types.TransferResponse{
				Status:    "timeout",
				ElapsedMs: time.Since(start).Milliseconds(),
			})
		case errors.As(err, &specErr):
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error: specErr.Error(),
				Code:  "INVALID_SPEC",
			})
		case errors.Is(err, transfer.ErrInvalidSelection):
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error: err.Error(),
				Code:  "INVALID_SELECTION",
			})
		default:
			log.WithError(err).Error("Transfer search failed")
			c.JSON(http.StatusInternalServerError, types.ErrorResponse{
				Error: "Transfer search failed",
				Code:  "TRANSFER_ERROR",
			})
		}
		return
	}

	resp := types.TransferResponse{
		Status:         "no_beneficial_transfer",
		ObjectiveDelta: rec.ObjectiveDelta,
		ElapsedMs:      time.Since(start).Milliseconds(),
	}
	if rec.Plan != nil {
		resp.Status = "improved"
		resp.Plan = rec.Plan
		resp.Selection = rec.Selection
	}

	if h.cache != nil {
		if err := h.cache.SetTransfer(c.Request.Context(), cacheKey, &resp, h.config.CacheExpiration); err != nil {
			log.WithError(err).Warn("Failed to cache transfer recommendation")
		}
	}

	log.WithFields(logrus.Fields{
		"status":          resp.Status,
		"objective_delta": resp.ObjectiveDelta,
		"candidates":      rec.Candidates,
		"elapsed_ms":      resp.ElapsedMs,
	}).Info("Transfer search completed")

	c.JSON(http.StatusOK, resp)
}

func (h *TransferHandler) applyDefaults(spec types.ConstraintSpec) types.ConstraintSpec {
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
