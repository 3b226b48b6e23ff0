package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"lpr-session-service/internal/domain/lpr"
	"lpr-session-service/internal/queue"
	"lpr-session-service/internal/repository"
	"lpr-session-service/internal/service"
)

type Handler struct {
	ingest *service.IngestService
	events *repository.EventRepository
	zones  *repository.ZoneRepository
	jobs   *queue.Client
	log    zerolog.Logger
}

func NewHandler(
	ingest *service.IngestService,
	events *repository.EventRepository,
	zones *repository.ZoneRepository,
	jobs *queue.Client,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		ingest: ingest,
		events: events,
		zones:  zones,
		jobs:   jobs,
		log:    log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/healthz", h.health)

	api := r.Group("/api/v1")
	api.Use(authMiddleware)
	{
		api.POST("/uploads/ingest", h.submitUpload)
		api.POST("/uploads/:id/commit", h.commitUpload)
		api.GET("/uploads/:id", h.getUpload)

		api.GET("/sessions", h.listSessions)
		api.GET("/sessions/:id", h.getSession)
		api.GET("/events", h.listEvents)
		api.GET("/orphans", h.listOrphans)

		api.GET("/zones", h.listZones)
		api.PUT("/zones/:id", h.upsertZone)

		api.POST("/jobs", h.submitJob)
		api.GET("/queue/stats", h.queueStats)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type ingestRequest struct {
	UploadID string         `json:"upload_id"`
	Rows     []lpr.EventRow `json:"rows" binding:"required"`
}

func (h *Handler) submitUpload(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	uploadID, err := h.ingest.Submit(c.Request.Context(), req.UploadID, req.Rows)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"upload_id": uploadID,
		"rows":      len(req.Rows),
		"status":    lpr.UploadPending,
	})
}

type commitRequest struct {
	Action string `json:"action" binding:"required"`
}

func (h *Handler) commitUpload(c *gin.Context) {
	uploadID := c.Param("id")
	var req commitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	switch strings.ToUpper(req.Action) {
	case "COMMIT":
		upload, err := h.ingest.Commit(c.Request.Context(), uploadID)
		if err != nil {
			h.handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, successResponse(upload))
	case "CANCEL":
		if err := h.ingest.Cancel(c.Request.Context(), uploadID); err != nil {
			h.handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"upload_id": uploadID, "status": lpr.UploadCancelled})
	default:
		c.JSON(http.StatusBadRequest, errorResponse("action must be COMMIT or CANCEL"))
	}
}

func (h *Handler) getUpload(c *gin.Context) {
	upload, err := h.ingest.Upload(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(upload))
}

func (h *Handler) listSessions(c *gin.Context) {
	filter := repository.SessionFilter{
		Zone:      strings.TrimSpace(c.Query("zone")),
		MatchType: strings.TrimSpace(c.Query("match_type")),
		Limit:     queryInt(c, "limit", 0),
		Offset:    queryInt(c, "offset", 0),
	}
	var err error
	if filter.From, err = queryTime(c, "from"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid from timestamp"))
		return
	}
	if filter.To, err = queryTime(c, "to"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid to timestamp"))
		return
	}

	sessions, err := h.events.FindSessions(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(sessions))
}

func (h *Handler) getSession(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid session id"))
		return
	}
	sess, err := h.events.GetSession(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(sess))
}

func (h *Handler) listEvents(c *gin.Context) {
	filter := repository.EventFilter{
		Zone:      strings.TrimSpace(c.Query("zone")),
		PlateNorm: strings.TrimSpace(c.Query("plate")),
		Status:    strings.TrimSpace(c.Query("status")),
		Limit:     queryInt(c, "limit", 0),
		Offset:    queryInt(c, "offset", 0),
	}
	var err error
	if filter.From, err = queryTime(c, "from"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid from timestamp"))
		return
	}
	if filter.To, err = queryTime(c, "to"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid to timestamp"))
		return
	}

	events, err := h.events.FindEvents(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(events))
}

func (h *Handler) listOrphans(c *gin.Context) {
	events, err := h.events.FindOrphans(
		c.Request.Context(),
		strings.TrimSpace(c.Query("zone")),
		strings.TrimSpace(c.Query("status")),
		queryInt(c, "limit", 0),
		queryInt(c, "offset", 0),
	)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(events))
}

func (h *Handler) listZones(c *gin.Context) {
	zones, err := h.zones.Zones(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(zones))
}

type zoneRequest struct {
	HorizonDays      int               `json:"horizon_days"`
	FuzzyThreshold   float64           `json:"fuzzy_threshold"`
	ReviewBelowScore float64           `json:"review_below_score"`
	MaxStayHours     int               `json:"max_stay_hours"`
	Billing          *lpr.BillingRules `json:"billing,omitempty"`
}

func (h *Handler) upsertZone(c *gin.Context) {
	zoneID := c.Param("id")
	var req zoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	cfg := &repository.ZoneConfig{
		ZoneID:           zoneID,
		HorizonDays:      req.HorizonDays,
		FuzzyThreshold:   req.FuzzyThreshold,
		ReviewBelowScore: req.ReviewBelowScore,
		MaxStayHours:     req.MaxStayHours,
	}
	if req.Billing != nil {
		raw, err := json.Marshal(req.Billing)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid billing rules"))
			return
		}
		cfg.Billing = raw
	}

	if err := h.zones.Upsert(c.Request.Context(), cfg); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(cfg))
}

type jobRequest struct {
	Kind     string  `json:"kind" binding:"required"`
	Zone     string  `json:"zone"`
	EventID  int64   `json:"event_id"`
	MinScore float64 `json:"min_score"`
}

// submitJob triggers pipeline work by hand, mostly for operators
// re-running a fuzzy sweep with a lowered threshold.
func (h *Handler) submitJob(c *gin.Context) {
	var req jobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	var payload interface{}
	switch req.Kind {
	case queue.KindPair:
		if req.EventID <= 0 {
			c.JSON(http.StatusBadRequest, errorResponse("event_id is required for pair jobs"))
			return
		}
		payload = queue.PairPayload{EventID: req.EventID}
	case queue.KindFuzzy:
		if req.Zone == "" {
			c.JSON(http.StatusBadRequest, errorResponse("zone is required for fuzzy jobs"))
			return
		}
		payload = queue.FuzzyPayload{Zone: req.Zone, MinScore: req.MinScore}
	case queue.KindExpire:
		payload = struct{}{}
	default:
		c.JSON(http.StatusBadRequest, errorResponse("unknown job kind"))
		return
	}

	jobID, err := h.jobs.Enqueue(c.Request.Context(), req.Kind, payload)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "kind": req.Kind})
}

func (h *Handler) queueStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats := gin.H{}
	for _, kind := range []string{queue.KindIngest, queue.KindPair, queue.KindFuzzy, queue.KindExpire} {
		depth, err := h.jobs.QueueLen(ctx, kind)
		if err != nil {
			h.handleError(c, err)
			return
		}
		stats[kind] = depth
	}
	dead, err := h.jobs.DeadCount(ctx)
	if err != nil {
		h.handleError(c, err)
		return
	}
	stats["dead"] = dead
	c.JSON(http.StatusOK, successResponse(stats))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lpr.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, lpr.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func queryInt(c *gin.Context, name string, def int) int {
	if v := c.Query(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func queryTime(c *gin.Context, name string) (*time.Time, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
