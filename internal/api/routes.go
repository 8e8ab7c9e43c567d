package api

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/combat-score-engine/internal/audit"
	"github.com/rawblock/combat-score-engine/internal/bus"
	"github.com/rawblock/combat-score-engine/internal/calibration"
	"github.com/rawblock/combat-score-engine/internal/errs"
	"github.com/rawblock/combat-score-engine/internal/harmonize"
	"github.com/rawblock/combat-score-engine/internal/round"
	"github.com/rawblock/combat-score-engine/pkg/models"
)

// APIHandler wires the REST surface (spec §6) to the pipeline components
// the Round Manager composes.
type APIHandler struct {
	rounds *round.Manager
	calib  *calibration.Coordinator
	audit  *audit.Log
	fanout *bus.Bus
}

// SetupRouter builds the Gin router, grounded on the teacher's SetupRouter
// shape: an open CORS middleware, a public group (health, websocket
// stream), and an AuthMiddleware+RateLimiter-protected group for every
// mutating and export route.
func SetupRouter(rounds *round.Manager, calib *calibration.Coordinator, auditor *audit.Log, fanout *bus.Bus, rateLimitRPM, rateLimitBurst int) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{rounds: rounds, calib: calib, audit: auditor, fanout: fanout}

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/bouts/:boutId/stream", Subscribe(fanout))
	}

	protected := r.Group("/api/v1")
	protected.Use(AuthMiddleware())
	protected.Use(NewRateLimiter(rateLimitRPM, rateLimitBurst).Middleware())
	{
		protected.POST("/bouts/:boutId/rounds", handler.handleOpenRound)
		protected.POST("/rounds/:roundId/events", handler.handleAppendEvent)
		protected.POST("/rounds/:roundId/score", handler.handleComputeScore)
		protected.POST("/rounds/:roundId/lock", handler.handleLockRound)
		protected.GET("/rounds/:roundId", handler.handleGetRound)
		protected.GET("/bouts/:boutId/audit", handler.handleExportAudit)
		protected.PUT("/calibration", handler.handleUpdateCalibration)
		protected.POST("/rounds/:roundId/annotate", handler.handleSupervisorAnnotation)
	}

	return r
}

func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type openRoundRequest struct {
	RoundNum     int   `json:"round_num"`
	RoundStartMs int64 `json:"round_start_ms"`
	RoundEndMs   int64 `json:"round_end_ms"`
}

func (h *APIHandler) handleOpenRound(c *gin.Context) {
	boutID := c.Param("boutId")
	var req openRoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	state, err := h.rounds.OpenRound(c.Request.Context(), boutID, req.RoundNum, req.RoundStartMs, req.RoundEndMs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (h *APIHandler) handleAppendEvent(c *gin.Context) {
	roundID := c.Param("roundId")
	var raw harmonize.RawEvent
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sourceHint := models.EventSource(c.Query("source_hint"))
	event, err := h.rounds.AppendEvent(c.Request.Context(), roundID, raw, sourceHint)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (h *APIHandler) handleComputeScore(c *gin.Context) {
	roundID := c.Param("roundId")
	verdict, err := h.rounds.ComputeScore(c.Request.Context(), roundID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}

func (h *APIHandler) handleLockRound(c *gin.Context) {
	roundID := c.Param("roundId")
	state, err := h.rounds.LockRound(c.Request.Context(), roundID)
	if err != nil {
		var alreadyLocked *errs.AlreadyLockedError
		if errors.As(err, &alreadyLocked) {
			c.JSON(http.StatusOK, gin.H{"already_locked": true, "round": state})
			return
		}
		var refused *errs.LockRefusedError
		if errors.As(err, &refused) {
			c.JSON(http.StatusConflict, gin.H{"lock_refused": true, "validation": refused.Report})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *APIHandler) handleGetRound(c *gin.Context) {
	roundID := c.Param("roundId")
	state, ok := h.rounds.LoadRound(c.Request.Context(), roundID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "round not found"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *APIHandler) handleExportAudit(c *gin.Context) {
	boutID := c.Param("boutId")
	bundle, err := h.audit.ExportBundle(c.Request.Context(), boutID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func (h *APIHandler) handleUpdateCalibration(c *gin.Context) {
	boutID := c.Query("bout_id")
	actor := c.Query("actor")
	if actor == "" {
		actor = "supervisor"
	}
	var next models.CalibrationConfig
	if err := c.ShouldBindJSON(&next); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := h.calib.Update(c.Request.Context(), boutID, actor, next)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

type supervisorAnnotationRequest struct {
	Actor string         `json:"actor"`
	Note  string         `json:"note"`
	Data  map[string]any `json:"data"`
}

func (h *APIHandler) handleSupervisorAnnotation(c *gin.Context) {
	roundID := c.Param("roundId")
	state, ok := h.rounds.LoadRound(c.Request.Context(), roundID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "round not found"})
		return
	}
	var req supervisorAnnotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data := req.Data
	if data == nil {
		data = map[string]any{}
	}
	data["note"] = req.Note
	entry, err := h.audit.Append(c.Request.Context(), state.BoutID, roundID, models.ActionSupervisorAnnotation, req.Actor, data)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// writeError maps the pipeline's typed errors (spec §7) onto HTTP status
// codes.
func writeError(c *gin.Context, err error) {
	var harmonizationErr *errs.HarmonizationError
	var admissionErr *errs.AdmissionRejection
	var lockedErr *errs.RoundLockedError
	var notFoundErr *errs.RoundNotFoundError
	var timeoutErr *errs.TimeoutError
	var storageErr *errs.StorageError

	switch {
	case errors.As(err, &harmonizationErr), errors.As(err, &admissionErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &lockedErr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &timeoutErr):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case errors.As(err, &storageErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
