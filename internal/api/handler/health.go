package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/iconidentify/tokgrab/internal/repository"
)

var startTime = time.Now()

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store   Pinger
	jobRepo repository.JobRepository
	driver  string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store Pinger, jobRepo repository.JobRepository, driver string) *HealthHandler {
	return &HealthHandler{
		store:   store,
		jobRepo: jobRepo,
		driver:  driver,
	}
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Store     string                 `json:"store,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Queue     *repository.QueueStats `json:"queue,omitempty"`
	Runtime   *RuntimeStats          `json:"runtime,omitempty"`
}

// RuntimeStats contains process resource statistics.
type RuntimeStats struct {
	MemAllocMB    int64 `json:"mem_alloc_mb"`
	MemSysMB      int64 `json:"mem_sys_mb"`
	NumGoroutines int   `json:"num_goroutines"`
	NumCPU        int   `json:"num_cpu"`
}

// Live handles GET /health - liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    formatUptime(time.Since(startTime)),
	})
}

// Ready handles GET /ready - readiness probe.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    "error",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Store:     h.driver,
			Error:     "store unavailable",
		})
		return
	}

	stats, err := h.jobRepo.Stats(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    "error",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Store:     h.driver,
			Error:     "job queue unavailable",
		})
		return
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    formatUptime(time.Since(startTime)),
		Store:     h.driver,
		Queue:     stats,
		Runtime: &RuntimeStats{
			MemAllocMB:    int64(m.Alloc / 1024 / 1024),
			MemSysMB:      int64(m.Sys / 1024 / 1024),
			NumGoroutines: runtime.NumGoroutine(),
			NumCPU:        runtime.NumCPU(),
		},
	})
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
