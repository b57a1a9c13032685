package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dtms/internal/monitor"
	"dtms/internal/policy"
	"dtms/internal/store"
)

// StatusProvider is implemented by the monitor.
type StatusProvider interface {
	Status() monitor.Status
	Position(ticket int64) (monitor.PositionView, bool)
}

// HistoryProvider is implemented by the history store.
type HistoryProvider interface {
	ListTransitions(ctx context.Context, ticket int64, limit int) ([]store.TransitionRecord, error)
	ListOutcomes(ctx context.Context, ticket int64, limit int) ([]store.OutcomeRecord, error)
}

// PolicyProvider is implemented by the policy registry.
type PolicyProvider interface {
	Current() policy.Thresholds
	Version() int64
}

// Router exposes the read-only query endpoints.
type Router struct {
	status  StatusProvider
	history HistoryProvider
	policy  PolicyProvider
}

// NewRouter builds the API router. history and policy may be nil.
func NewRouter(status StatusProvider, history HistoryProvider, pol PolicyProvider) *Router {
	return &Router{status: status, history: history, policy: pol}
}

// Register mounts the routes under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/positions", r.handlePositions)
	group.GET("/positions/:ticket", r.handlePosition)
	if r.history != nil {
		group.GET("/transitions", r.handleTransitions)
		group.GET("/actions", r.handleActions)
	}
	if r.policy != nil {
		group.GET("/policy", r.handlePolicy)
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.status.Status())
}

func (r *Router) handlePositions(c *gin.Context) {
	st := r.status.Status()
	c.JSON(http.StatusOK, gin.H{"positions": st.Positions})
}

func (r *Router) handlePosition(c *gin.Context) {
	ticket, err := strconv.ParseInt(c.Param("ticket"), 10, 64)
	if err != nil || ticket <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket"})
		return
	}
	view, ok := r.status.Position(ticket)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not tracked"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (r *Router) handleTransitions(c *gin.Context) {
	ticket := queryInt64(c, "ticket")
	limit := int(queryInt64(c, "limit"))
	recs, err := r.history.ListTransitions(c.Request.Context(), ticket, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": recs})
}

func (r *Router) handleActions(c *gin.Context) {
	ticket := queryInt64(c, "ticket")
	limit := int(queryInt64(c, "limit"))
	recs, err := r.history.ListOutcomes(c.Request.Context(), ticket, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": recs})
}

func (r *Router) handlePolicy(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    r.policy.Version(),
		"thresholds": r.policy.Current(),
	})
}

func queryInt64(c *gin.Context, key string) int64 {
	raw := c.Query(key)
	if raw == "" {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}
