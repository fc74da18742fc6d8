package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/esp-secure-provisioning/burner"
	"github.com/ruteri/esp-secure-provisioning/interfaces"
)

// lockWait bounds how long a device request waits for a port held by a burn.
const lockWait = 2 * time.Second

// PortLister lists the serial ports a device may be attached to.
type PortLister interface {
	Candidates() []string
}

// DeviceInspector reads the security state of the device on a port.
type DeviceInspector interface {
	Inspect(ctx context.Context, port string) (*interfaces.DeviceState, error)
}

// Handler serves the read-only station API. Nothing it does writes to a device.
type Handler struct {
	ports     PortLister
	inspector DeviceInspector
	archive   interfaces.StorageBackend
	lockDir   string
	log       *slog.Logger
}

// NewHandler creates a Handler. archive may be nil, in which case record
// lookups answer 404.
func NewHandler(ports PortLister, inspector DeviceInspector, archive interfaces.StorageBackend, lockDir string, log *slog.Logger) *Handler {
	return &Handler{
		ports:     ports,
		inspector: inspector,
		archive:   archive,
		lockDir:   lockDir,
		log:       log,
	}
}

// RegisterRoutes mounts the API under r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/ports", h.HandlePorts)
	r.Get("/api/v1/device", h.HandleDevice)
	r.Get("/api/v1/records/{id}", h.HandleRecord)
}

// HandlePorts lists candidate serial ports.
//
// URL format: GET /api/v1/ports
func (h *Handler) HandlePorts(w http.ResponseWriter, r *http.Request) {
	ports := h.ports.Candidates()
	if ports == nil {
		ports = []string{}
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{"ports": ports})
}

// HandleDevice inspects the device on a port. Only ports the resolver lists
// are accepted, so the endpoint cannot be pointed at arbitrary files.
//
// URL format: GET /api/v1/device?port=/dev/ttyUSB0
func (h *Handler) HandleDevice(w http.ResponseWriter, r *http.Request) {
	port := r.URL.Query().Get("port")
	if port == "" {
		http.Error(w, "Missing port parameter", http.StatusBadRequest)
		return
	}
	if !slices.Contains(h.ports.Candidates(), port) {
		http.Error(w, "Unknown port", http.StatusNotFound)
		return
	}

	lockCtx, cancel := context.WithTimeout(r.Context(), lockWait)
	defer cancel()
	lock, err := burner.LockPort(lockCtx, h.lockDir, port)
	if err != nil {
		h.log.Warn("Device busy", slog.String("port", port), "err", err)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			h.log.Warn("Failed to release port lock", slog.String("port", port), "err", err)
		}
	}()

	state, err := h.inspector.Inspect(r.Context(), port)
	if err != nil {
		h.log.Error("Device inspection failed", slog.String("port", port), "err", err)
		status := http.StatusBadGateway
		if errors.Is(err, interfaces.ErrToolNotFound) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, h.log, http.StatusOK, state)
}

// HandleRecord returns an archived provisioning record by content ID.
//
// URL format: GET /api/v1/records/{id}
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	id, err := interfaces.NewContentIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid record id", http.StatusBadRequest)
		return
	}
	if h.archive == nil {
		http.Error(w, "No archive configured", http.StatusNotFound)
		return
	}

	data, err := h.archive.Fetch(r.Context(), id, interfaces.RecordType)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		http.Error(w, "Record not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("Failed to fetch record", slog.String("content_id", id.String()), "err", err)
		http.Error(w, "Archive unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to encode response", "err", err)
	}
}
