package api

import "net/http"

// wellKnownManifest is the static JSON manifest for /.well-known/copilot-stats.json.
const wellKnownManifest = `{
  "name": "copilot-stats",
  "description": "Copilot premium request meter",
  "api_base": "/api/v1",
  "endpoints": {
    "tools": "/api/v1/tools",
    "tool": "/api/v1/tools/{name}",
    "metrics": "/api/v1/metrics",
    "prometheus": "/metrics"
  },
  "health": "/health",
  "dashboard": "/"
}`

// WellKnownHandler returns the static well-known manifest.
func WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(wellKnownManifest))
}
