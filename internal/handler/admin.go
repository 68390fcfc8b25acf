package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"checkin/internal/auth"
	"checkin/internal/fraud"
	"checkin/internal/queue"
	"checkin/internal/selfie"
	"checkin/internal/settings"
)

// ---------- Selfie review ----------

func (h *Handler) ListSelfies(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	status := c.DefaultQuery("status", selfie.StatusPending)
	items, err := h.selfies.Queue(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if items == nil {
		items = []selfie.Verification{}
	}
	c.JSON(http.StatusOK, gin.H{"verifications": items})
}

type selfieReviewRequest struct {
	Approve *bool  `json:"approve" binding:"required"`
	Reason  string `json:"reason"`
	Note    string `json:"note"`
}

func (h *Handler) ReviewSelfie(c *gin.Context) {
	var req selfieReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := h.selfies.Review(c.Request.Context(), c.Param("id"), *req.Approve,
		auth.ActorFrom(c), req.Reason, req.Note)
	if err != nil {
		c.JSON(selfieErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v)
}

type selfieBulkRequest struct {
	IDs     []string `json:"ids" binding:"required,min=1"`
	Approve *bool    `json:"approve" binding:"required"`
	Reason  string   `json:"reason"`
	Note    string   `json:"note"`
}

func (h *Handler) BulkReviewSelfies(c *gin.Context) {
	var req selfieBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res := h.selfies.BulkReview(c.Request.Context(), req.IDs, *req.Approve,
		auth.ActorFrom(c), req.Reason, req.Note)
	status := http.StatusOK
	if len(res.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, res)
}

func selfieErrStatus(err error) int {
	switch {
	case errors.Is(err, selfie.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, selfie.ErrAlreadyReviewed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ---------- Fraud alerts ----------

// FraudScan enqueues a batch scan for the worker. With no queue wired, or
// with ?sync=true, the scan runs inline and the report comes back directly.
func (h *Handler) FraudScan(c *gin.Context) {
	if h.q != nil && c.Query("sync") != "true" {
		if err := h.q.Publish(c.Request.Context(), queue.Message{Type: queue.TypeFraudScan}); err != nil {
			log.Printf("fraud scan enqueue failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		return
	}
	report, err := h.detector.RunFullScan(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) ListAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	alerts, err := h.detector.List(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if alerts == nil {
		alerts = []fraud.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

type alertReviewRequest struct {
	Decision string `json:"decision" binding:"required"`
	Notes    string `json:"notes"`
}

func (h *Handler) ReviewAlert(c *gin.Context) {
	var req alertReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := h.detector.Review(c.Request.Context(), c.Param("id"), req.Decision,
		auth.ActorFrom(c), req.Notes)
	if err != nil {
		c.JSON(alertErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, a)
}

type alertBulkRequest struct {
	IDs      []string `json:"ids" binding:"required,min=1"`
	Decision string   `json:"decision" binding:"required"`
	Notes    string   `json:"notes"`
}

func (h *Handler) BulkReviewAlerts(c *gin.Context) {
	var req alertBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res := h.detector.BulkReview(c.Request.Context(), req.IDs, req.Decision,
		auth.ActorFrom(c), req.Notes)
	status := http.StatusOK
	if len(res.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, res)
}

func (h *Handler) FraudSummary(c *gin.Context) {
	summary, err := h.detector.Summary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func alertErrStatus(err error) int {
	switch {
	case errors.Is(err, fraud.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fraud.ErrBadTransition):
		return http.StatusConflict
	case errors.Is(err, fraud.ErrInvalidDecision):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ---------- Ops summary ----------

func (h *Handler) OpsSummary(c *gin.Context) {
	counts, err := h.logs.CountByStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	summary, err := h.detector.Summary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"logs_by_status":          counts,
		"pending_alerts":          summary.PendingBySeverity,
		"critical_pending_alerts": summary.CriticalPending,
	})
}

// ---------- Settings ----------

type settingsPayload struct {
	TokenTTLSeconds int               `json:"token_ttl_seconds"`
	LateMinutes     int               `json:"late_minutes"`
	SelfieRequired  bool              `json:"selfie_required"`
	Geofence        settings.Geofence `json:"geofence"`
}

func (h *Handler) GetSettings(c *gin.Context) {
	snap, err := h.settings.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settingsPayload{
		TokenTTLSeconds: int(snap.TokenTTL.Seconds()),
		LateMinutes:     int(snap.LateGrace.Minutes()),
		SelfieRequired:  snap.SelfieRequired,
		Geofence:        snap.Geofence,
	})
}

func (h *Handler) PutSettings(c *gin.Context) {
	var req settingsPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap := settings.Snapshot{
		TokenTTL:       time.Duration(req.TokenTTLSeconds) * time.Second,
		LateGrace:      time.Duration(req.LateMinutes) * time.Minute,
		SelfieRequired: req.SelfieRequired,
		Geofence:       req.Geofence,
	}
	if err := h.settings.Save(c.Request.Context(), snap); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, req)
}
