package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"marketstore/internal/cache"
	"marketstore/internal/cachesync"
	"marketstore/internal/database"
	"marketstore/internal/notify"
	"marketstore/internal/repository"
	"marketstore/pkg/response"

	"go.uber.org/zap"
)

// Culler runs one retention pass on demand.
type Culler interface {
	RunNow(ctx context.Context) (int64, error)
}

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	store     repository.DataHandler
	caches    *cache.Market
	sync      cachesync.Propagator
	inbox     *notify.Inbox
	culler    Culler
	log       *zap.Logger
	startTime time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(
	store repository.DataHandler,
	caches *cache.Market,
	sync cachesync.Propagator,
	inbox *notify.Inbox,
	culler Culler,
	log *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		store:     store,
		caches:    caches,
		sync:      sync,
		inbox:     inbox,
		culler:    culler,
		log:       log,
		startTime: time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]interface{})

	// System info
	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["db_type"] = string(h.store.Type())
	stats["sync_mode"] = string(h.sync.Mode())

	// Memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	stats["market"] = map[string]interface{}{
		"listings":         h.caches.Listings.Len(),
		"collection_boxes": h.caches.CollectionBoxes.Count(),
		"expired_items":    h.caches.ExpiredItems.Count(),
		"players_online":   h.inbox.OnlineCount(),
	}

	// Pool stats, relational stores only
	if p, ok := h.store.(interface{ Pool() *database.Pool }); ok {
		ps := p.Pool().Stats()
		stats["pool"] = map[string]interface{}{
			"open":        ps.OpenConnections,
			"in_use":      ps.InUse,
			"idle":        ps.Idle,
			"wait_count":  ps.WaitCount,
			"wait_millis": ps.WaitDuration.Milliseconds(),
		}
	}
	if c, ok := h.store.(interface {
		RowCounts(ctx context.Context) map[string]int64
	}); ok {
		stats["rows"] = c.RowCounts(r.Context())
	}

	response.OK(w, stats)
}

// Cull handles POST /api/v1/admin/cull
func (h *AdminHandler) Cull(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	n, err := h.culler.RunNow(r.Context())
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"deleted":     n,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}
