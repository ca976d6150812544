// Package server exposes the read-mostly operations API: health, metrics,
// member progression lookups, live attendance sessions and an activity stream.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/regiment/internal/attendance"
	"github.com/MarcoPoloResearchLab/regiment/internal/auth"
	"github.com/MarcoPoloResearchLab/regiment/internal/notify"
	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"github.com/MarcoPoloResearchLab/regiment/internal/records"
	"github.com/MarcoPoloResearchLab/regiment/internal/roblox"
	"github.com/MarcoPoloResearchLab/regiment/internal/tracker"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	operatorContextKey       = "regiment_operator"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingTokens        = errors.New("token validator dependency required")
	errMissingMembers       = errors.New("member reader dependency required")
	errMissingProgress      = errors.New("progress refresher dependency required")
	errMissingSessions      = errors.New("session lister dependency required")
	errMissingActivity      = errors.New("activity dispatcher dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenValidator authenticates operator requests.
type TokenValidator interface {
	ValidateRequest(r *http.Request) (auth.OperatorClaims, error)
}

// MemberReader reads progression records.
type MemberReader interface {
	Get(ctx context.Context, discordID records.DiscordID) (records.Record, error)
	FindByUsername(ctx context.Context, username string) (records.Record, error)
}

// ProgressRefresher re-evaluates a member against the group service.
type ProgressRefresher interface {
	Refresh(ctx context.Context, discordID records.DiscordID) (tracker.Status, error)
}

// SessionLister lists live attendance sessions.
type SessionLister interface {
	Sessions(ctx context.Context) []attendance.Snapshot
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Tokens            TokenValidator
	Members           MemberReader
	Progress          ProgressRefresher
	Sessions          SessionLister
	Activity          *ActivityDispatcher
	Metrics           prometheus.Gatherer
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokens
	}
	if deps.Members == nil {
		return nil, errMissingMembers
	}
	if deps.Progress == nil {
		return nil, errMissingProgress
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Activity == nil {
		return nil, errMissingActivity
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		tokens:    deps.Tokens,
		members:   deps.Members,
		progress:  deps.Progress,
		sessions:  deps.Sessions,
		activity:  deps.Activity,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{})))
	}

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.GET("/members", handler.handleFindMember)
	protected.GET("/members/:discordId", handler.handleGetMember)
	protected.POST("/members/:discordId/refresh", handler.handleRefreshMember)
	protected.GET("/attendance/sessions", handler.handleListSessions)
	protected.GET("/activity/stream", handler.handleActivityStream)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	tokens    TokenValidator
	members   MemberReader
	progress  ProgressRefresher
	sessions  SessionLister
	activity  *ActivityDispatcher
	heartbeat time.Duration
	logger    *zap.Logger
}

type memberPayload struct {
	Record     records.Record         `json:"record"`
	Evaluation progression.Evaluation `json:"evaluation"`
	Verified   bool                   `json:"verified"`
}

type statusPayload struct {
	memberPayload
	Outcome notify.Outcome `json:"notification_outcome"`
}

type sessionsPayload struct {
	Sessions []attendance.Snapshot `json:"sessions"`
}

type activityPayload struct {
	Topic          string `json:"topic"`
	OccurredAtSecs int64  `json:"occurred_at_s"`
	Data           any    `json:"data"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleGetMember(c *gin.Context) {
	discordID, err := records.NewDiscordID(c.Param("discordId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_discord_id"})
		return
	}
	record, err := h.members.Get(c.Request.Context(), discordID)
	h.respondMember(c, record, err)
}

func (h *httpHandler) handleFindMember(c *gin.Context) {
	username := strings.TrimSpace(c.Query("username"))
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username_required"})
		return
	}
	record, err := h.members.FindByUsername(c.Request.Context(), username)
	h.respondMember(c, record, err)
}

func (h *httpHandler) respondMember(c *gin.Context, record records.Record, err error) {
	if err != nil {
		h.respondError(c, "server.member", err)
		return
	}
	evaluation, err := record.Evaluate()
	if err != nil {
		h.respondError(c, "server.member", err)
		return
	}
	c.JSON(http.StatusOK, memberPayload{Record: record, Evaluation: evaluation, Verified: record.Verified()})
}

func (h *httpHandler) handleRefreshMember(c *gin.Context) {
	discordID, err := records.NewDiscordID(c.Param("discordId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_discord_id"})
		return
	}
	status, err := h.progress.Refresh(c.Request.Context(), discordID)
	if err != nil {
		h.respondError(c, "server.refresh", err)
		return
	}
	c.JSON(http.StatusOK, statusPayload{
		memberPayload: memberPayload{Record: status.Record, Evaluation: status.Evaluation, Verified: status.Record.Verified()},
		Outcome:       status.Outcome,
	})
}

func (h *httpHandler) handleListSessions(c *gin.Context) {
	sessions := h.sessions.Sessions(c.Request.Context())
	if sessions == nil {
		sessions = []attendance.Snapshot{}
	}
	c.JSON(http.StatusOK, sessionsPayload{Sessions: sessions})
}

func (h *httpHandler) handleActivityStream(c *gin.Context) {
	topics, ok := parseTopics(c.Query("topics"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_topic"})
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.activity.Subscribe(ctx, topics...)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(activityEventReady, gin.H{"topics": topics})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case activity, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(activity.Topic, activityPayload{
				Topic:          activity.Topic,
				OccurredAtSecs: activity.Timestamp.Unix(),
				Data:           activity.Payload,
			})
			return true
		case <-ticker.C:
			c.SSEvent(activityEventBeat, gin.H{"at_s": time.Now().UTC().Unix()})
			return true
		}
	})
}

func parseTopics(raw string) ([]string, bool) {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), activityTopics...), true
	}
	var topics []string
	for _, part := range strings.Split(raw, ",") {
		topic := strings.ToLower(strings.TrimSpace(part))
		if topic == "" {
			continue
		}
		known := false
		for _, candidate := range activityTopics {
			if candidate == topic {
				known = true
				break
			}
		}
		if !known {
			return nil, false
		}
		topics = append(topics, topic)
	}
	if len(topics) == 0 {
		return append([]string(nil), activityTopics...), true
	}
	return topics, true
}

func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, records.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, tracker.ErrNotVerified):
		c.JSON(http.StatusConflict, gin.H{"error": "not_verified"})
	case errors.Is(err, roblox.ErrUserNotFound):
		c.JSON(http.StatusBadGateway, gin.H{"error": "external_user_not_found"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timeout"})
	default:
		h.logger.Error("operations request failed",
			zap.String("operation", operation),
			zap.String("reason", "internal"),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.tokens.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrMissingToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
			return
		}
		level := h.logger.Warn
		if errors.Is(err, auth.ErrExpiredToken) {
			level = h.logger.Info
		}
		level("token validation failed", zap.String("operation", "server.authorize"), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(operatorContextKey, claims.Subject)
	c.Next()
}
