package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quantfall/barfeed-go/internal/database"
)

var startTime = time.Now()

// SystemInfoProvider reports host resource readings. *services.ResourceMonitor
// satisfies it.
type SystemInfoProvider interface {
	SystemInfo() map[string]interface{}
}

type HealthHandler struct {
	db       *database.PostgresDB
	redis    *database.RedisClient
	registry ProviderDirectory
	monitor  SystemInfoProvider
	version  string
}

type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]string      `json:"services"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	System    map[string]interface{} `json:"system,omitempty"`
}

// NewHealthHandler creates a health handler. The monitor is optional.
func NewHealthHandler(db *database.PostgresDB, redis *database.RedisClient, registry ProviderDirectory, monitor SystemInfoProvider, version string) *HealthHandler {
	return &HealthHandler{
		db:       db,
		redis:    redis,
		registry: registry,
		monitor:  monitor,
		version:  version,
	}
}

// HealthCheck serves GET /health.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	services := make(map[string]string)

	if h.db != nil {
		if err := h.db.HealthCheck(c.Request.Context()); err != nil {
			services["database"] = "unhealthy: " + err.Error()
		} else {
			services["database"] = "healthy"
		}
	} else {
		services["database"] = "unhealthy: not configured"
	}

	if h.redis != nil {
		if err := h.redis.HealthCheck(c.Request.Context()); err != nil {
			services["redis"] = "unhealthy: " + err.Error()
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "unhealthy: not configured"
	}

	services["providers"] = h.providerHealth()

	// Degraded providers keep the service up as long as one venue works, so
	// only database and redis failures flip the overall status.
	overallStatus := "healthy"
	if services["database"] != "healthy" || services["redis"] != "healthy" {
		overallStatus = "unhealthy"
	}
	if services["providers"] == "unhealthy: no providers ready" {
		overallStatus = "unhealthy"
	}

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Services:  services,
		Version:   h.version,
		Uptime:    time.Since(startTime).String(),
	}
	if h.monitor != nil {
		response.System = h.monitor.SystemInfo()
	}

	statusCode := http.StatusOK
	if overallStatus != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

func (h *HealthHandler) providerHealth() string {
	if h.registry == nil {
		return "unhealthy: not configured"
	}
	statuses := h.registry.Statuses()
	ready := 0
	for _, s := range statuses {
		if s.Ready {
			ready++
		}
	}
	switch {
	case ready == 0:
		return "unhealthy: no providers ready"
	case ready < len(statuses):
		return fmt.Sprintf("degraded: %d/%d providers ready", ready, len(statuses))
	default:
		return "healthy"
	}
}

// ReadinessCheck serves GET /ready. Stricter than /health: the process only
// takes traffic once the database, Redis, and at least one venue are usable.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	services := make(map[string]string)
	ready := true

	if h.db == nil || h.db.HealthCheck(c.Request.Context()) != nil {
		services["database"] = "not ready"
		ready = false
	} else {
		services["database"] = "ready"
	}

	if h.redis == nil || h.redis.HealthCheck(c.Request.Context()) != nil {
		services["redis"] = "not ready"
		ready = false
	} else {
		services["redis"] = "ready"
	}

	providersReady := false
	if h.registry != nil {
		for _, s := range h.registry.Statuses() {
			if s.Ready {
				providersReady = true
				break
			}
		}
	}
	if providersReady {
		services["providers"] = "ready"
	} else {
		services["providers"] = "not ready"
		ready = false
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"ready":    ready,
		"services": services,
	})
}

// LivenessCheck serves GET /live.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
