package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"checkin/internal/attendance"
	"checkin/internal/audit"
	"checkin/internal/auth"
	"checkin/internal/fraud"
	"checkin/internal/queue"
	"checkin/internal/scan"
	"checkin/internal/selfie"
	"checkin/internal/session"
	"checkin/internal/settings"
	"checkin/internal/store"
	"checkin/internal/student"
	"checkin/internal/token"
)

// Handler holds the wired services behind the HTTP surface.
type Handler struct {
	sessions *session.Service
	tokens   *token.Issuer
	scans    *scan.Service
	selfies  *selfie.Service
	detector *fraud.Detector
	settings *settings.Store
	audits   audit.Store
	logs     *attendance.PostgresStore
	students *student.Repository
	q        queue.Queue
	redis    *store.Redis

	jwtKey    string
	jwtIssuer string
}

// New wires the handler. redis and q may be nil; the related endpoints
// degrade (health reports redis false, fraud scans run inline).
func New(sessions *session.Service, tokens *token.Issuer, scans *scan.Service,
	selfies *selfie.Service, detector *fraud.Detector, cfg *settings.Store,
	audits audit.Store, logs *attendance.PostgresStore, students *student.Repository,
	q queue.Queue, redis *store.Redis, jwtKey, jwtIssuer string) *Handler {
	return &Handler{
		sessions: sessions, tokens: tokens, scans: scans,
		selfies: selfies, detector: detector, settings: cfg,
		audits: audits, logs: logs, students: students,
		q: q, redis: redis, jwtKey: jwtKey, jwtIssuer: jwtIssuer,
	}
}

// Register mounts every route. Scan endpoints stay open; students check in
// from personal devices identified by roster code. Everything mutating
// sessions, reviews, or settings requires a staff or admin bearer token.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.Healthz)

	open := r.Group("/v1")
	open.POST("/scans/token", h.ScanToken)
	open.POST("/scans/image", h.ScanImage)

	staff := r.Group("/v1", auth.RequireRole(h.jwtKey, h.jwtIssuer, auth.ActorStaff))
	staff.POST("/sessions", h.CreateSession)
	staff.GET("/sessions", h.ListSessions)
	staff.GET("/sessions/:id", h.GetSession)
	staff.DELETE("/sessions/:id", h.DeleteSession)
	staff.POST("/sessions/:id/activate", h.ActivateSession)
	staff.POST("/sessions/:id/deactivate", h.DeactivateSession)
	staff.POST("/sessions/:id/token", h.IssueToken)
	staff.GET("/sessions/:id/logs", h.SessionLogs)

	staff.GET("/selfies", h.ListSelfies)
	staff.POST("/selfies/:id/review", h.ReviewSelfie)
	staff.POST("/selfies/review", h.BulkReviewSelfies)

	staff.GET("/audit", h.ListAudit)
	staff.GET("/students", h.RecentStudents)

	admin := r.Group("/v1", auth.RequireRole(h.jwtKey, h.jwtIssuer, auth.ActorAdmin))
	admin.POST("/fraud/scan", h.FraudScan)
	admin.GET("/fraud/alerts", h.ListAlerts)
	admin.POST("/fraud/alerts/:id/review", h.ReviewAlert)
	admin.POST("/fraud/alerts/review", h.BulkReviewAlerts)
	admin.GET("/fraud/summary", h.FraudSummary)
	admin.GET("/ops/summary", h.OpsSummary)
	admin.GET("/settings", h.GetSettings)
	admin.PUT("/settings", h.PutSettings)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	redisHealthy := h.redis != nil && h.redis.Healthy(c.Request.Context())
	dbHealthy := h.logs != nil
	status := http.StatusOK
	if !dbHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": "ok", "db": dbHealthy, "redis": redisHealthy})
}

// ---------- Sessions ----------

type createSessionRequest struct {
	CourseID      int64     `json:"course_id" binding:"required"`
	MeetingNumber int       `json:"meeting_number" binding:"required"`
	Title         string    `json:"title"`
	StartsAt      time.Time `json:"starts_at" binding:"required"`
	EndsAt        time.Time `json:"ends_at" binding:"required"`
}

func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := auth.ActorFrom(c)
	sess, err := h.sessions.Create(c.Request.Context(), req.CourseID, req.MeetingNumber,
		req.Title, req.StartsAt, req.EndsAt, actor.ID)
	if err != nil {
		c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) ListSessions(c *gin.Context) {
	courseID, err := strconv.ParseInt(c.Query("course_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "course_id query param required"})
		return
	}
	sessions, err := h.sessions.ListByCourse(c.Request.Context(), courseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) ActivateSession(c *gin.Context) {
	if err := h.sessions.Activate(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

func (h *Handler) DeactivateSession(c *gin.Context) {
	if err := h.sessions.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "inactive"})
}

func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.sessions.Destroy(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) SessionLogs(c *gin.Context) {
	logs, err := h.logs.ListBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []attendance.Log{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func sessionErrStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrHasHistory):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidMeeting), errors.Is(err, session.ErrInvalidWindow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ---------- Token issuance ----------

type issueTokenRequest struct {
	Force bool `json:"force"`
}

func (h *Handler) IssueToken(c *gin.Context) {
	var req issueTokenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	tok, err := h.tokens.Issue(c.Request.Context(), c.Param("id"), req.Force)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, token.ErrSessionInactive) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":           tok.Code,
		"expires_at":      tok.ExpiresAt,
		"expires_at_unix": tok.ExpiresAt.Unix(),
		"ttl_seconds":     int(time.Until(tok.ExpiresAt).Seconds()),
	})
}

// ---------- Scans ----------

type tokenScanRequest struct {
	StudentCode string   `json:"student_code" binding:"required"`
	Token       string   `json:"token" binding:"required"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	DeviceID    string   `json:"device_id"`
	DeviceMeta  string   `json:"device_meta"`
	SelfieData  string   `json:"selfie_data"`
}

func (h *Handler) ScanToken(c *gin.Context) {
	var req tokenScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var loc *scan.Geolocation
	if req.Lat != nil && req.Lng != nil {
		loc = &scan.Geolocation{Lat: *req.Lat, Lng: *req.Lng}
	}
	res, err := h.scans.CheckInToken(c.Request.Context(), scan.TokenScan{
		StudentCode: req.StudentCode,
		Token:       req.Token,
		Location:    loc,
		DeviceID:    req.DeviceID,
		DeviceMeta:  req.DeviceMeta,
		SelfieData:  req.SelfieData,
	})
	if err != nil {
		log.Printf("token scan failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scan failed"})
		return
	}
	c.JSON(outcomeStatus(res.Outcome), res)
}

func (h *Handler) ScanImage(c *gin.Context) {
	studentCode := c.PostForm("student_code")
	if studentCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "student_code field required"})
		return
	}
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()
	image, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	var loc *scan.Geolocation
	if latStr, lngStr := c.PostForm("lat"), c.PostForm("lng"); latStr != "" && lngStr != "" {
		lat, latErr := strconv.ParseFloat(latStr, 64)
		lng, lngErr := strconv.ParseFloat(lngStr, 64)
		if latErr != nil || lngErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lat/lng"})
			return
		}
		loc = &scan.Geolocation{Lat: lat, Lng: lng}
	}

	res, err := h.scans.CheckInImage(c.Request.Context(), scan.ImageScan{
		StudentCode: studentCode,
		Image:       image,
		Filename:    header.Filename,
		Location:    loc,
		DeviceID:    c.PostForm("device_id"),
		DeviceMeta:  c.PostForm("device_meta"),
	})
	if err != nil {
		log.Printf("image scan failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scan failed"})
		return
	}
	c.JSON(outcomeStatus(res.Outcome), res)
}

func outcomeStatus(o scan.Outcome) int {
	switch o {
	case scan.OutcomeRecorded:
		return http.StatusCreated
	case scan.OutcomeDuplicate:
		return http.StatusOK
	case scan.OutcomeNotFound:
		return http.StatusNotFound
	case scan.OutcomeNoSession, scan.OutcomeSessionClosed:
		return http.StatusConflict
	case scan.OutcomeTokenInvalid, scan.OutcomeNoDetection:
		return http.StatusUnprocessableEntity
	case scan.OutcomeMaintenance:
		return http.StatusServiceUnavailable
	case scan.OutcomeServiceError:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

// ---------- Audit ----------

func (h *Handler) ListAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.audits.List(c.Request.Context(), c.Query("kind"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// ---------- Students ----------

func (h *Handler) RecentStudents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	students, err := h.students.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if students == nil {
		students = []student.Student{}
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}
