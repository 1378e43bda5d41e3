package httpapi

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"
)

// Service health states.
const (
	healthHealthy   = "healthy"
	healthDegraded  = "degraded"
	healthUnhealthy = "unhealthy"

	serviceUp   = "up"
	serviceDown = "down"
)

const healthProbeTimeout = 5 * time.Second

type healthMetrics struct {
	Uptime   string  `json:"uptime"`
	MemoryMB float64 `json:"memoryMB"`
	CPUMs    float64 `json:"cpuMs"`
}

type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
	Metrics  healthMetrics     `json:"metrics"`
}

// handleHealth probes every backing service. A dead database makes the
// process unhealthy; a dead object store or upstream only degrades it.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	resp := healthResponse{
		Status:   healthHealthy,
		Services: map[string]string{},
		Metrics:  s.processMetrics(),
	}

	if err := s.database.Ping(ctx); err != nil {
		resp.Services["database"] = serviceDown
		resp.Status = healthUnhealthy
	} else {
		resp.Services["database"] = serviceUp
	}

	if err := s.objects.Ping(ctx); err != nil {
		resp.Services["objectStore"] = serviceDown

		if resp.Status == healthHealthy {
			resp.Status = healthDegraded
		}
	} else {
		resp.Services["objectStore"] = serviceUp
	}

	if _, err := s.upstream.VerifyCredentials(ctx); err != nil {
		resp.Services["upstream"] = serviceDown

		if resp.Status == healthHealthy {
			resp.Status = healthDegraded
		}
	} else {
		resp.Services["upstream"] = serviceUp
	}

	status := http.StatusOK
	if resp.Status == healthUnhealthy {
		status = http.StatusServiceUnavailable
	}

	respondOK(c, status, resp, "")
}

func (s *Server) processMetrics() healthMetrics {
	metrics := healthMetrics{
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return metrics
	}

	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		metrics.MemoryMB = float64(mem.RSS) / (1024 * 1024)
	}

	if cpu, err := proc.Times(); err == nil && cpu != nil {
		metrics.CPUMs = (cpu.User + cpu.System) * 1000
	}

	return metrics
}
