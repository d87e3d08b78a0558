package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/apothes/labledger/internal/database"
)

// SystemHandlers handles system monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	db          *database.DB
}

// NewSystemHandlers creates system handlers
func NewSystemHandlers(log zerolog.Logger, dataDir string, db *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		db:          db,
	}
}

// HandleHealth handles GET /api/health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	if err := h.db.QuickCheck(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("Database health check failed")
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"uptime":    time.Since(h.startupTime).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"uptime":    time.Since(h.startupTime).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	}

	// CPU usage (non-blocking sample)
	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		response["cpu_percent"] = cpuPercent[0]
	}

	// Memory usage
	if vmStat, err := mem.VirtualMemory(); err == nil {
		response["memory"] = map[string]interface{}{
			"total":        vmStat.Total,
			"used":         vmStat.Used,
			"used_percent": vmStat.UsedPercent,
		}
	}

	// Database stats
	if stats, err := h.db.GetStats(); err == nil {
		response["database"] = stats
	} else {
		h.log.Warn().Err(err).Msg("Failed to get database stats")
	}

	// Database file size on disk
	dbPath := filepath.Join(h.dataDir, "ledger.db")
	if info, err := os.Stat(dbPath); err == nil {
		response["database_size_bytes"] = info.Size()
	}

	h.writeJSON(w, http.StatusOK, response)
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
