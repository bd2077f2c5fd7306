// Package api provides the admin HTTP surface: lock inspection, leadership
// status, running work and the kill switch.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/jobsync/internal/jobs"
)

// LeaderStatus reports whether this process currently holds a role.
// *lock.LeaderElector and *maintainer.Maintainer satisfy it.
type LeaderStatus interface {
	IsLeader() bool
}

// KillSwitch toggles work unit classes. *jobs.KillSwitch satisfies it.
type KillSwitch interface {
	Disable(ctx context.Context, class string) error
	Enable(ctx context.Context, class string) error
	List(ctx context.Context) (map[string]string, error)
}

// Handler serves the admin API.
type Handler struct {
	client   redis.UniversalClient
	registry jobs.Registry
	kill     KillSwitch
	leaders  map[string]LeaderStatus
	logger   zerolog.Logger
}

// NewHandler creates a new admin handler. leaders maps a role name such as
// "scheduler" to its elector.
func NewHandler(client redis.UniversalClient, registry jobs.Registry, kill KillSwitch, leaders map[string]LeaderStatus, logger zerolog.Logger) *Handler {
	return &Handler{
		client:   client,
		registry: registry,
		kill:     kill,
		leaders:  leaders,
		logger:   logger.With().Str("component", "admin-api").Logger(),
	}
}

// RegisterRoutes registers the health check on router and the admin routes
// under /api/v1.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	v1 := router.Group("/api/v1")
	v1.GET("/locks/*key", h.GetLock)
	v1.GET("/leader", h.GetLeader)
	v1.GET("/jobs/running", h.ListRunning)
	v1.GET("/workers/disabled", h.ListDisabled)
	v1.POST("/workers/:class/disable", h.DisableWorker)
	v1.DELETE("/workers/:class/disable", h.EnableWorker)
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// LockResponse describes the current holder of a lock key.
type LockResponse struct {
	Key    string `json:"key"`
	Holder string `json:"holder"`
	// TTLMillis is -1 for a lock without expiry.
	TTLMillis int64 `json:"ttlMs"`
}

// LeaderResponse lists each role and whether this process holds it.
type LeaderResponse struct {
	Roles map[string]bool `json:"roles"`
}

// RunningItem is a running work item as returned by the API.
type RunningItem struct {
	WorkerID  string    `json:"workerId"`
	Class     string    `json:"class"`
	Args      []any     `json:"args"`
	StartedAt time.Time `json:"startedAt"`
	Owner     string    `json:"owner,omitempty"`
}

// DisabledWorker is a class turned off by the kill switch.
type DisabledWorker struct {
	Class      string `json:"class"`
	DisabledAt string `json:"disabledAt"`
}

// DisableRequest is the optional body of a disable call.
type DisableRequest struct {
	Reason string `json:"reason"`
}

// Health reports whether the lock store answers.
func (h *Handler) Health(c *gin.Context) {
	if err := h.client.Ping(c.Request.Context()).Err(); err != nil {
		h.logger.Error().Err(err).Msg("lock store health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "redis": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// GetLock returns the holder and remaining TTL of a lock key.
func (h *Handler) GetLock(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "badRequest", Message: "lock key is required"})
		return
	}

	ctx := c.Request.Context()
	var (
		get  *redis.StringCmd
		pttl *redis.DurationCmd
	)
	_, err := h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		h.internalError(c, err, "failed to read lock")
		return
	}

	holder, err := get.Result()
	if errors.Is(err, redis.Nil) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "notFound", Message: "lock is not held"})
		return
	}
	if err != nil {
		h.internalError(c, err, "failed to read lock")
		return
	}

	ttlMillis, held := lockTTLMillis(pttl.Val())
	if !held {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "notFound", Message: "lock is not held"})
		return
	}
	c.JSON(http.StatusOK, LockResponse{Key: key, Holder: holder, TTLMillis: ttlMillis})
}

// lockTTLMillis maps a PTTL reply to milliseconds, -1 for no expiry. It
// reports false for -2, a key that no longer exists.
func lockTTLMillis(ttl time.Duration) (int64, bool) {
	switch {
	case ttl == -2:
		return 0, false
	case ttl < 0:
		return -1, true
	default:
		return ttl.Milliseconds(), true
	}
}

// GetLeader reports leadership for every configured role.
func (h *Handler) GetLeader(c *gin.Context) {
	resp := LeaderResponse{Roles: make(map[string]bool, len(h.leaders))}
	for role, status := range h.leaders {
		resp.Roles[role] = status.IsLeader()
	}
	c.JSON(http.StatusOK, resp)
}

// ListRunning lists the running work items known to the registry.
func (h *Handler) ListRunning(c *gin.Context) {
	items, err := h.registry.Running(c.Request.Context())
	if err != nil {
		h.internalError(c, err, "failed to list running work")
		return
	}

	resp := make([]RunningItem, 0, len(items))
	for _, item := range items {
		resp = append(resp, RunningItem{
			WorkerID:  item.WorkerID,
			Class:     item.Class,
			Args:      item.Args,
			StartedAt: item.StartedAt,
			Owner:     item.Owner,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": resp, "totalCount": len(resp)})
}

// ListDisabled lists the classes turned off by the kill switch.
func (h *Handler) ListDisabled(c *gin.Context) {
	disabled, err := h.kill.List(c.Request.Context())
	if err != nil {
		h.internalError(c, err, "failed to list disabled workers")
		return
	}

	resp := make([]DisabledWorker, 0, len(disabled))
	for class, at := range disabled {
		resp = append(resp, DisabledWorker{Class: class, DisabledAt: at})
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].Class < resp[j].Class })
	c.JSON(http.StatusOK, gin.H{"workers": resp})
}

// DisableWorker turns a class off across the fleet.
func (h *Handler) DisableWorker(c *gin.Context) {
	class := c.Param("class")

	var req DisableRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			// PayloadLimit writes the 413.
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "badRequest", Message: "invalid request body"})
		return
	}

	if err := h.kill.Disable(c.Request.Context(), class); err != nil {
		h.internalError(c, err, "failed to disable worker")
		return
	}
	h.logger.Warn().Str("class", class).Str("reason", req.Reason).Msg("worker disabled through admin API")
	c.JSON(http.StatusOK, gin.H{"class": class, "disabled": true})
}

// EnableWorker turns a class back on.
func (h *Handler) EnableWorker(c *gin.Context) {
	class := c.Param("class")
	if err := h.kill.Enable(c.Request.Context(), class); err != nil {
		h.internalError(c, err, "failed to enable worker")
		return
	}
	c.JSON(http.StatusOK, gin.H{"class": class, "disabled": false})
}

func (h *Handler) internalError(c *gin.Context, err error, msg string) {
	h.logger.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: msg})
}
