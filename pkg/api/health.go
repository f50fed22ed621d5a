package api

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type hostInfo struct {
	MemUsedPercent float64 `json:"memUsedPercent"`
	CPUCount       int     `json:"cpuCount"`
}

type healthResponse struct {
	Status        string    `json:"status"`
	Provider      string    `json:"provider"`
	Jobs          int       `json:"jobs"`
	ActiveStreams int       `json:"activeStreams"`
	Uptime        string    `json:"uptime"`
	Host          *hostInfo `json:"host,omitempty"`
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.Count(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("registry unavailable")
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:   "unhealthy",
			Provider: string(h.service.Provider()),
		})
		return
	}

	resp := healthResponse{
		Status:        "healthy",
		Provider:      string(h.service.Provider()),
		Jobs:          jobs,
		ActiveStreams: h.metrics.ActiveStreams(),
		Uptime:        h.now().Sub(h.startedAt).Truncate(time.Second).String(),
	}

	// Host figures are best effort
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		resp.Host = &hostInfo{MemUsedPercent: vm.UsedPercent}
		if n, err := cpu.CountsWithContext(r.Context(), true); err == nil {
			resp.Host.CPUCount = n
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
