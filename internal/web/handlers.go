package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/JogGo/internal/debug"
	"github.com/cjeanneret/JogGo/internal/logic/encoder"
	"github.com/cjeanneret/JogGo/internal/logic/mpg"
	"github.com/cjeanneret/JogGo/internal/logic/settings"
)

// StateSource exposes the handwheel engine state.
type StateSource interface {
	Snapshot() mpg.Status
}

// SettingsStore is the encoder settings namespace.
type SettingsStore interface {
	Get(id int) (float64, error)
	Set(id int, value float64) error
	Restore()
	Report(w io.Writer) error
}

// Deps holds the dependencies of the HTTP handlers.
type Deps struct {
	Broadcaster *StatusBroadcaster
	State       StateSource
	Settings    SettingsStore
	// Report writes a realtime status report including handwheel fields.
	Report func(w io.Writer)
	// Persist saves the settings after a change. Optional.
	Persist func() error
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Deps
	staticFS fs.FS
	upgrader websocket.Upgrader
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(deps Deps, staticFS fs.FS) *Handlers {
	return &Handlers{
		Deps:     deps,
		staticFS: staticFS,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SettingValue is the body of PUT /settings/{id}.
type SettingValue struct {
	ID              int     `json:"id"`
	Value           float64 `json:"value"`
	RestartRequired bool    `json:"restart_required,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ParseSettingID accepts "403" or "$403".
func ParseSettingID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(s, "$"))
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid setting id %q", s)
	}
	return id, nil
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleState returns the engine snapshot as JSON.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if h.State == nil {
		http.Error(w, "engine not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.State.Snapshot())
}

// HandleReport returns one realtime status report line.
func (h *Handlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	if h.Report == nil {
		http.Error(w, "controller not configured", http.StatusServiceUnavailable)
		return
	}
	var buf bytes.Buffer
	h.Report(&buf)
	buf.WriteByte('\n')
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(buf.Bytes())
}

// HandleSettings lists every encoder setting as "$id=value" lines.
func (h *Handlers) HandleSettings(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.Settings.Report(&buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(buf.Bytes())
}

// HandleGetSetting returns a single setting.
func (h *Handlers) HandleGetSetting(w http.ResponseWriter, r *http.Request) {
	id, err := ParseSettingID(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	v, err := h.Settings.Get(id)
	if err != nil {
		h.settingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SettingValue{ID: id, Value: v})
}

// HandleSetSetting validates and stores a setting. Changes apply after
// a restart, like the controller's own encoder settings.
func (h *Handlers) HandleSetSetting(w http.ResponseWriter, r *http.Request) {
	id, err := ParseSettingID(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var body struct {
		Value *float64 `json:"value"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1024)).Decode(&body); err != nil || body.Value == nil {
		http.Error(w, "invalid JSON, want {\"value\": <number>}", http.StatusBadRequest)
		return
	}
	if math.IsNaN(*body.Value) || math.IsInf(*body.Value, 0) {
		http.Error(w, "value must be finite", http.StatusBadRequest)
		return
	}
	if err := h.Settings.Set(id, *body.Value); err != nil {
		h.settingError(w, err)
		return
	}
	if h.Persist != nil {
		if err := h.Persist(); err != nil {
			debug.Error(fmt.Errorf("persist settings: %w", err))
			http.Error(w, "setting stored but not saved: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if h.Broadcaster != nil {
		h.Broadcaster.BroadcastMsg(fmt.Sprintf("$%d=%g saved, restart to apply", id, *body.Value))
	}
	writeJSON(w, http.StatusOK, SettingValue{ID: id, Value: *body.Value, RestartRequired: true})
}

// HandleRestore resets every encoder setting to its default.
func (h *Handlers) HandleRestore(w http.ResponseWriter, r *http.Request) {
	h.Settings.Restore()
	if h.Persist != nil {
		if err := h.Persist(); err != nil {
			http.Error(w, "defaults restored but not saved: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if h.Broadcaster != nil {
		h.Broadcaster.BroadcastMsg("Encoder settings restored to defaults")
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "restored", "restart_required": true})
}

func (h *Handlers) settingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settings.ErrUnhandled):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, encoder.ErrInvalidConfiguration), errors.Is(err, encoder.ErrUnassignedAxis):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
