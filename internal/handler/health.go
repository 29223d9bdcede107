package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"marketstore/internal/migration"
	"marketstore/pkg/response"
)

// StartTime tracks when the server started for uptime calculation
var StartTime = time.Now()

// Pinger reports whether the store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchemaState reports the store bring-up progress.
type SchemaState interface {
	State() migration.State
}

// Handler contains the health endpoints.
type Handler struct {
	store   Pinger
	schema  SchemaState
	service string
	version string
}

// New creates a new handler.
func New(store Pinger, schema SchemaState, service, version string) *Handler {
	return &Handler{store: store, schema: schema, service: service, version: version}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}
	response.OK(w, resp)
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Check represents an individual readiness check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

func (h *Handler) pingStore(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}

// Ready handles GET /api/v1/ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	schema := h.schema.State()
	schemaStatus := "ok"
	if schema != migration.StateReady {
		schemaStatus = schema.String()
	}
	checks := []Check{
		{Name: "store", Status: h.pingStore(r.Context())},
		{Name: "schema", Status: schemaStatus},
	}

	allReady := true
	for _, check := range checks {
		if check.Status != "ok" {
			allReady = false
			break
		}
	}

	resp := ReadyResponse{
		Ready:     allReady,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, resp)
}

// StatusChecks lists what GET /api/status probed.
type StatusChecks struct {
	Database string  `json:"database"`
	Schema   string  `json:"schema"`
	MemoryMB float64 `json:"memory_mb"`
}

// StatusResponse is the single-call summary polled by uptime monitors.
type StatusResponse struct {
	Service       string       `json:"service"`
	Status        string       `json:"status"`
	Timestamp     string       `json:"timestamp"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	PingMS        int64        `json:"ping_ms"`
	Checks        StatusChecks `json:"checks"`
}

// Status handles GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	requestStart := time.Now()
	database := h.pingStore(r.Context())
	pingMS := time.Since(requestStart).Milliseconds()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	memoryMB := float64(memStats.Alloc) / 1024 / 1024

	schema := h.schema.State()
	status := "ok"
	if database != "ok" || schema != migration.StateReady {
		status = "degraded"
	}

	resp := StatusResponse{
		Service:       h.service,
		Status:        status,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(StartTime).Seconds()),
		PingMS:        pingMS,
		Checks: StatusChecks{
			Database: database,
			Schema:   schema.String(),
			MemoryMB: float64(int(memoryMB*100)) / 100,
		},
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	response.OK(w, resp)
}
