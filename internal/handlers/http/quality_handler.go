package http

import (
	stderrors "errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"roomwatch/internal/core/domain"
	"roomwatch/internal/core/ports"
	"roomwatch/internal/core/services"
	"roomwatch/internal/infrastructure/telemetry"
	"roomwatch/pkg/errors"
	"roomwatch/pkg/tracing"
	"roomwatch/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type QualityHandler struct {
	registry   *services.MonitorRegistry
	sessions   *telemetry.SessionStore
	reports    ports.ReportRepository
	classifier *services.QualityService
	hub        *telemetry.Hub
	logger     *zap.SugaredLogger
}

func NewQualityHandler(
	registry *services.MonitorRegistry,
	sessions *telemetry.SessionStore,
	reports ports.ReportRepository,
	classifier *services.QualityService,
	hub *telemetry.Hub,
	logger *zap.SugaredLogger,
) *QualityHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &QualityHandler{
		registry:   registry,
		sessions:   sessions,
		reports:    reports,
		classifier: classifier,
		hub:        hub,
		logger:     logger,
	}
}

// SetupRoutes registers the quality API. pushAuth guards the stats push.
func (h *QualityHandler) SetupRoutes(router gin.IRouter, pushAuth gin.HandlerFunc) {
	api := router.Group("/api/v1")
	{
		api.POST("/rooms/:room/participants/:identity/stats", pushAuth, h.PushStats)
		api.GET("/rooms/:room/participants/:identity/quality", h.GetParticipantQuality)
		api.DELETE("/rooms/:room/participants/:identity", h.RemoveParticipant)
		api.GET("/rooms/:room/quality", h.GetRoomQuality)
		api.GET("/quality/classify", h.Classify)
	}
	router.GET("/ws/quality", h.StreamQuality)
}

func sessionParams(c *gin.Context) (room, identity string, err error) {
	room, identity = c.Param("room"), c.Param("identity")
	if err := validation.ValidateRoom(room); err != nil {
		return "", "", errors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateIdentity(identity); err != nil {
		return "", "", errors.NewInvalidInputError(err.Error())
	}
	return room, identity, nil
}

// PushStats accepts cumulative statistics from a browser client. The first
// push starts monitoring the session.
func (h *QualityHandler) PushStats(c *gin.Context) {
	room, identity, err := sessionParams(c)
	if err != nil {
		c.Error(err)
		return
	}

	var update telemetry.StatsUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.Error(errors.NewInvalidInputError("invalid statistics payload"))
		return
	}

	id := domain.NewSessionID(room, identity)
	ctx, span := tracing.TraceStatsPush(c.Request.Context(), string(id))
	defer span.End()

	session, _ := h.sessions.GetOrCreate(room, identity)
	if err := session.Push(update); err != nil {
		tracing.RecordError(ctx, err)
		c.Error(err)
		return
	}

	// A terminal state detaches the monitor; any later push re-attaches it.
	if !update.State.Terminal() {
		monitor, ok := h.registry.Get(id)
		switch {
		case !ok:
			if _, err := h.registry.Attach(room, identity, session); err != nil {
				tracing.RecordError(ctx, err)
				c.Error(err)
				return
			}
		case !monitor.Attached():
			monitor.Attach(session)
		}
	}

	c.JSON(http.StatusAccepted, gin.H{"session_id": id})
}

// GetParticipantQuality returns the newest report, from the local monitor
// when there is one and from the report store otherwise.
func (h *QualityHandler) GetParticipantQuality(c *gin.Context) {
	room, identity, err := sessionParams(c)
	if err != nil {
		c.Error(err)
		return
	}
	id := domain.NewSessionID(room, identity)

	if monitor, ok := h.registry.Get(id); ok {
		if report, ok := monitor.Latest(); ok {
			c.JSON(http.StatusOK, report)
			return
		}
	}

	report, err := h.reports.Latest(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetRoomQuality merges stored reports with the local monitors' latest.
func (h *QualityHandler) GetRoomQuality(c *gin.Context) {
	room := c.Param("room")
	if err := validation.ValidateRoom(room); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	byIdentity := make(map[string]domain.QualityReport)
	stored, err := h.reports.ListByRoom(c.Request.Context(), room)
	if err != nil {
		c.Error(err)
		return
	}
	for _, report := range stored {
		byIdentity[report.Identity] = *report
	}
	for _, monitor := range h.registry.ListByRoom(room) {
		if report, ok := monitor.Latest(); ok {
			byIdentity[report.Identity] = report
		}
	}

	participants := make([]domain.QualityReport, 0, len(byIdentity))
	for _, report := range byIdentity {
		participants = append(participants, report)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i].Identity < participants[j].Identity })

	c.JSON(http.StatusOK, gin.H{
		"room":         room,
		"participants": participants,
	})
}

// RemoveParticipant stops monitoring a session and drops its stored report.
func (h *QualityHandler) RemoveParticipant(c *gin.Context) {
	room, identity, err := sessionParams(c)
	if err != nil {
		c.Error(err)
		return
	}
	id := domain.NewSessionID(room, identity)

	hadSession := h.sessions.Remove(id)
	err = h.registry.Remove(c.Request.Context(), id)
	if stderrors.Is(err, domain.ErrSessionNotFound) {
		err = h.reports.Delete(c.Request.Context(), id)
		if stderrors.Is(err, domain.ErrReportNotFound) && hadSession {
			err = nil
		}
	}
	if err != nil {
		c.Error(err)
		return
	}

	h.logger.Infow("participant removed", "session_id", id)
	c.Status(http.StatusNoContent)
}

// Classify maps the given values to a tier without touching any session.
func (h *QualityHandler) Classify(c *gin.Context) {
	names := []string{"bandwidth", "rtt", "jitter", "loss"}
	values := make([]float64, len(names))
	for i, name := range names {
		raw := strings.TrimSpace(c.Query(name))
		if raw == "" {
			c.Error(errors.NewInvalidInputError(name + " is required"))
			return
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.Error(errors.NewInvalidInputError(name + " must be a number"))
			return
		}
		if err := validation.ValidateMetric(name, v); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
		values[i] = v
	}

	tier := h.classifier.ClassifyValues(values[0], values[1], values[2], values[3])
	c.JSON(http.StatusOK, gin.H{
		"tier":       tier,
		"label":      tier.Label(),
		"color":      tier.Color(),
		"thresholds": h.classifier.GetThresholds(),
	})
}

// StreamQuality upgrades to a WebSocket streaming the reports of ?room= and
// optionally a single ?identity=.
func (h *QualityHandler) StreamQuality(c *gin.Context) {
	sub := telemetry.Subscription{
		Room:     c.Query("room"),
		Identity: c.Query("identity"),
	}
	if err := validation.ValidateRoom(sub.Room); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if sub.Identity != "" {
		if err := validation.ValidateIdentity(sub.Identity); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
	}

	var initial []domain.QualityReport
	for _, monitor := range h.registry.ListByRoom(sub.Room) {
		if sub.Identity != "" && monitor.Identity() != sub.Identity {
			continue
		}
		if report, ok := monitor.Latest(); ok {
			initial = append(initial, report)
		}
	}

	h.hub.ServeWS(c.Writer, c.Request, sub, initial)
}
