package api

import (
	"net/http"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"git2.jad.ru/MeterRS485/sercd/internal/config"
	"git2.jad.ru/MeterRS485/sercd/internal/session"
	"git2.jad.ru/MeterRS485/sercd/internal/trace"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HistoryLister returns finished sessions, newest first.
type HistoryLister interface {
	List(limit int) ([]session.Info, error)
}

// Deps are the sources the handlers read from. Only Sessions is required.
type Deps struct {
	Sessions *session.Manager
	History  HistoryLister
	Trace    *trace.Trace
	Metrics  http.Handler
}

// Handlers contains HTTP API handlers
type Handlers struct {
	cfg  *config.Config
	deps Deps
}

// NewHandlers creates new API handlers
func NewHandlers(cfg *config.Config, deps Deps) *Handlers {
	return &Handlers{cfg: cfg, deps: deps}
}

// Routes returns the API mux.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints (no auth)
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/readyz", h.Readyz)

	mux.HandleFunc("/api/v1/status", h.Status)
	mux.HandleFunc("/api/v1/stats", h.Stats)
	mux.HandleFunc("/api/v1/sessions", h.ListSessions) // requires auth
	mux.HandleFunc("/api/v1/trace", h.Trace)           // requires auth

	if h.deps.Metrics != nil {
		mux.Handle("/metrics", h.deps.Metrics)
	}
	return mux
}

func (h *Handlers) isAuthorized(r *http.Request) bool {
	return checkAuth(r, h.cfg.WebUser, h.cfg.WebPass)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func onlyGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// Healthz handles liveness probe
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz fails once the redirector loop has stopped or crashed.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	state := h.deps.Sessions.State()
	if state == session.Stopped || state == session.Crashed {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": state.String()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// StatusResponse is the response for GET /api/v1/status
type StatusResponse struct {
	State   session.State `json:"state"`
	Device  string        `json:"device"`
	Mode    string        `json:"mode"`
	Current *session.Info `json:"current,omitempty"`
	Last    *session.Info `json:"last,omitempty"`
}

// Status handles GET /api/v1/status. Client addresses are masked unless
// the request carries credentials.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	if !onlyGet(w, r) {
		return
	}

	resp := StatusResponse{
		State:  h.deps.Sessions.State(),
		Device: h.cfg.Device,
		Mode:   "standalone",
	}
	if h.cfg.Inetd {
		resp.Mode = "inetd"
	}
	authorized := h.isAuthorized(r)
	if cur, ok := h.deps.Sessions.Current(); ok {
		if !authorized {
			cur.Remote = maskIP(cur.Remote)
		}
		resp.Current = &cur
	}
	if last, ok := h.deps.Sessions.Last(); ok {
		if !authorized {
			last.Remote = maskIP(last.Remote)
		}
		resp.Last = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stats handles GET /api/v1/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	if !onlyGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Sessions.Stats())
}

// SessionsResponse is the response for GET /api/v1/sessions
type SessionsResponse struct {
	Count    int            `json:"count"`
	Sessions []session.Info `json:"sessions"`
}

// ListSessions handles GET /api/v1/sessions?limit=N
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	if !onlyGet(w, r) {
		return
	}
	if !h.isAuthorized(r) {
		unauthorized(w)
		return
	}
	if h.deps.History == nil {
		http.Error(w, "session history disabled", http.StatusNotFound)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 1000)
	}

	sessions, err := h.deps.History.List(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []session.Info{}
	}
	writeJSON(w, http.StatusOK, SessionsResponse{
		Count:    len(sessions),
		Sessions: sessions,
	})
}

// Trace handles GET /api/v1/trace
func (h *Handlers) Trace(w http.ResponseWriter, r *http.Request) {
	if !onlyGet(w, r) {
		return
	}
	if !h.isAuthorized(r) {
		unauthorized(w)
		return
	}
	if h.deps.Trace == nil {
		http.Error(w, "tracing disabled", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Trace.Snapshot().Dump())
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="sercd"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// maskIP masks IP address for privacy (shows only first octet)
func maskIP(addr string) string {
	if addr == "" {
		return ""
	}
	// Handle IPv4: "192.168.1.100:12345" -> "192.x.x.x:xxxxx"
	if idx := strings.Index(addr, "."); idx > 0 {
		firstOctet := addr[:idx]
		return firstOctet + ".x.x.x:xxxxx"
	}
	// Handle IPv6 or other formats
	return "x.x.x.x:xxxxx"
}
