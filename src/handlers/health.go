package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Version is reported by /info
const Version = "1.0.0"

var startTime = time.Now()

// Pinger checks a storage backend
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db     Pinger // nil for the in-memory store
	server ServerAPI
}

// NewHealthHandler creates a new health handler. db may be nil.
func NewHealthHandler(db Pinger, server ServerAPI) *HealthHandler {
	return &HealthHandler{db: db, server: server}
}

func (hh *HealthHandler) checkDB(ctx context.Context) (string, time.Duration, error) {
	if hh.db == nil {
		return "memory", 0, nil
	}
	start := time.Now()
	if err := hh.db.Health(ctx); err != nil {
		return "disconnected", time.Since(start), err
	}
	return "connected", time.Since(start), nil
}

// HandleHealth checks the database and the Outline server
func (hh *HealthHandler) HandleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK
	body := gin.H{"uptime": time.Since(startTime).String()}

	dbState, dbLatency, err := hh.checkDB(ctx)
	body["database"] = dbState
	body["db_latency"] = dbLatency.String()
	if err != nil {
		status = http.StatusServiceUnavailable
		body["database_error"] = err.Error()
	}

	start := time.Now()
	if _, err := hh.server.ServerInfo(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["outline"] = "unreachable"
		body["outline_error"] = err.Error()
	} else {
		body["outline"] = "reachable"
	}
	body["outline_latency"] = time.Since(start).String()

	if status == http.StatusOK {
		body["status"] = "ok"
	} else {
		body["status"] = "unhealthy"
	}
	c.JSON(status, body)
}

// HandleInfo returns service information
func (hh *HealthHandler) HandleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "outline-tg-bot",
		"version": Version,
		"status":  "running",
		"uptime":  time.Since(startTime).String(),
	})
}

// HandleReady returns readiness status (for load balancers)
func (hh *HealthHandler) HandleReady(c *gin.Context) {
	if _, _, err := hh.checkDB(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}
