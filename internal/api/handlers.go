package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/localmind/localmind/internal/degradation"
	"github.com/localmind/localmind/internal/memory"
	"github.com/localmind/localmind/internal/provider"
	"github.com/localmind/localmind/pkg/errors"
)

// ModelState answers whether the inference model is currently loaded.
// Satisfied by model.Loader.
type ModelState interface {
	IsLoaded() bool
}

// StatusHandler serves the health and status endpoints from the live
// control-plane components
type StatusHandler struct {
	degrader *degradation.Controller
	modes    *memory.Controller
	model    ModelState
	sink     *provider.MemorySink
	version  string
}

// NewStatusHandler creates a status handler. sink may be nil when no
// sync worker is running.
func NewStatusHandler(degrader *degradation.Controller, modes *memory.Controller, model ModelState, sink *provider.MemorySink, version string) *StatusHandler {
	return &StatusHandler{
		degrader: degrader,
		modes:    modes,
		model:    model,
		sink:     sink,
		version:  version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Mode      string    `json:"mode"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Health reports basic liveness. The process is "degraded" rather
// than unhealthy while in MINIMAL mode: it still serves requests, just
// fewer of them.
func (h *StatusHandler) Health(c *gin.Context) {
	mode := h.modes.Mode()
	status := "healthy"
	if mode == memory.ModeMinimal {
		status = "degraded"
	}

	c.JSON(200, HealthResponse{
		Status:    status,
		Mode:      mode.String(),
		Timestamp: time.Now(),
		Version:   h.version,
	})
}

// StatusResponse is the full control-plane view served by /status
type StatusResponse struct {
	Health      degradation.SystemHealth `json:"health"`
	Memory      *memory.Sample           `json:"memory,omitempty"`
	ModelLoaded bool                     `json:"model_loaded"`
	SyncedItems map[string]int           `json:"synced_items,omitempty"`
}

// Status serves the aggregate system health snapshot
func (h *StatusHandler) Status(c *gin.Context) {
	response := StatusResponse{
		Health:      h.degrader.Snapshot(),
		ModelLoaded: h.model.IsLoaded(),
	}
	if sample, ok := h.modes.LastSample(); ok {
		response.Memory = &sample
	}
	if h.sink != nil {
		response.SyncedItems = h.sink.Counts()
	}

	SuccessResponse(c, response)
}

// Capability answers a single capability availability query. Names
// that were never registered are a 404, not merely "unavailable".
func (h *StatusHandler) Capability(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.degrader.Capability(name); !ok {
		AppErrorResponse(c, errors.NewUnknownCapabilityError(name))
		return
	}
	SuccessResponse(c, gin.H{
		"capability": name,
		"available":  h.degrader.CapabilityAvailable(name),
	})
}
