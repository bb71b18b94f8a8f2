package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alecgard/copilot-stats/internal/tool"
)

// toolsHandler groups tool-related HTTP handlers.
type toolsHandler struct {
	registry *tool.Registry
}

func newToolsHandler(reg *tool.Registry) *toolsHandler {
	return &toolsHandler{registry: reg}
}

// ListTools handles GET /api/v1/tools.
func (h *toolsHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": h.registry.List(),
	})
}

// ExecuteTool handles GET and POST /api/v1/tools/{name}. The tool output is
// written as-is with the tool's content type.
func (h *toolsHandler) ExecuteTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid_name", "tool name is required")
		return
	}

	t, err := h.registry.Get(name)
	if err != nil {
		if errors.Is(err, tool.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "tool not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to look up tool")
		return
	}

	out, err := t.Execute(r.Context())
	if err != nil {
		slog.Error("tool execution failed", "tool", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "tool execution failed")
		return
	}

	auditLog(r, "execute", "tool", name)

	w.Header().Set("Content-Type", t.ContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}
