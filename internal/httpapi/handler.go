// Package httpapi exposes olav's external control/status surface: health,
// system status, descriptors, capability/skill reload, and recent audit
// entries. It serves no metrics route.
// The conversational surface (the LLM-facing tool registry) is a separate
// concern, owned by cmd/olav and the session package; this package only
// covers process-level operations a human operator or supervisor hits.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	core "github.com/olavhq/olav/internal/core"
	"github.com/gorilla/mux"
)

var errUnauthorized = errors.New("unauthorized")

// StatusProvider reports process-wide health: every long-running
// component's descriptor plus a free-form health map (e.g. connection pool
// size, index freshness) keyed by component name.
type StatusProvider interface {
	Descriptors() []core.Descriptor
	Health() map[string]any
}

// Reloader re-reads capability files and skills from the agent directory.
type Reloader interface {
	Reload() error
}

type handler struct {
	status   StatusProvider
	reloader Reloader
	audit    *auditLog
	version  string
}

// NewHandler builds the control-surface router.
func NewHandler(status StatusProvider, reloader Reloader, audit *auditLog, version string) http.Handler {
	h := &handler{status: status, reloader: reloader, audit: audit, version: version}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.HandleFunc("/system/status", h.systemStatus).Methods(http.MethodGet)
	r.HandleFunc("/system/descriptors", h.systemDescriptors).Methods(http.MethodGet)
	r.HandleFunc("/reload", h.reload).Methods(http.MethodPost)
	r.HandleFunc("/admin/audit", h.adminAudit).Methods(http.MethodGet)
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"version": h.version,
	}
	if h.status != nil {
		resp["services"] = h.status.Descriptors()
		resp["health"] = h.status.Health()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) systemDescriptors(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeJSON(w, http.StatusOK, []core.Descriptor{})
		return
	}
	writeJSON(w, http.StatusOK, h.status.Descriptors())
}

func (h *handler) reload(w http.ResponseWriter, r *http.Request) {
	if roleFromCtx(r.Context()) != "admin" {
		writeError(w, http.StatusForbidden, errors.New("admin role required"))
		return
	}
	if h.reloader == nil {
		writeError(w, http.StatusNotImplemented, errors.New("reload not configured"))
		return
	}
	if err := h.reloader.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (h *handler) adminAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeJSON(w, http.StatusOK, []entry{})
		return
	}
	limit, err := parseLimitParam(r.URL.Query().Get("limit"), 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries := h.audit.listLimit(limit)

	q := r.URL.Query()
	user := strings.ToLower(strings.TrimSpace(q.Get("user")))
	method := strings.ToLower(strings.TrimSpace(q.Get("method")))
	pathContains := strings.ToLower(strings.TrimSpace(q.Get("contains")))

	filtered := entries[:0:0]
	for _, e := range entries {
		if user != "" && strings.ToLower(e.User) != user {
			continue
		}
		if method != "" && strings.ToLower(e.Method) != method {
			continue
		}
		if pathContains != "" && !strings.Contains(strings.ToLower(e.Path), pathContains) {
			continue
		}
		filtered = append(filtered, e)
	}
	writeJSON(w, http.StatusOK, filtered)
}

func parseLimitParam(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	if v == 0 {
		return def, nil
	}
	return v, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
