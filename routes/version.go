package routes

import (
	"net/http"
	"runtime"

	"hlsvault/logger"
)

// VersionResponse represents the version information response
type VersionResponse struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	GitCommit string `json:"git_commit,omitempty"`
}

// VersionHandler reports the build info injected with -ldflags.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	response := VersionResponse{
		Version:   version,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		GitCommit: gitCommit,
	}
	logger.Debugf("Version response: version=%s, git_commit=%s", response.Version, response.GitCommit)
	writeJSON(w, http.StatusOK, response)
}
