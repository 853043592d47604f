package routes

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"hlsvault/logger"
)

// Build-time variables (injected by ldflags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version"`
	GoVersion    string    `json:"go_version"`
	Uptime       string    `json:"uptime"`
	StartTime    string    `json:"start_time"`
	JobsInFlight int       `json:"jobs_in_flight"`
	Error        string    `json:"error,omitempty"`
}

var startTime = time.Now()

// formatUptime formats a duration into days, hours, minutes, seconds
func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
}

// HealthHandler answers 200 while the status store is readable, 503 otherwise.
func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	logger.Debugf("Health check request: method=%s, remoteAddr=%s", r.Method, r.RemoteAddr)
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   version,
		GoVersion: runtime.Version(),
		Uptime:    formatUptime(time.Since(startTime)),
		StartTime: startTime.Format("2006-01-02 15:04:05 MST"),
	}
	if a.InFlight != nil {
		response.JobsInFlight = a.InFlight()
	}
	status := http.StatusOK
	if a.Health != nil {
		if err := a.Health(); err != nil {
			logger.Errorf("Health check failed: %v", err)
			response.Status = "unhealthy"
			response.Error = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	logger.Debugf("Health check response: status=%s, version=%s", response.Status, response.Version)
	writeJSON(w, status, response)
}
