package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/revdeluxe/HDE/pkg/lora"
	loghttp "github.com/revdeluxe/HDE/pkg/lora/http"
)

// Node is the part of *lora.Node the API serves.
type Node interface {
	Submit(sender, text string) (lora.Message, error)
	Status(id string) (lora.Status, error)
	Messages() ([]lora.Message, error)
	Checksum() (lora.LogSummary, error)
	Sweep() int
	Handshake(timeout time.Duration) (lora.PeerRecord, bool, error)
	Sync(peer string) (lora.SyncResult, error)
	RequestChecksum(timeout time.Duration) (string, lora.LogSummary, bool, error)
	Peers() []lora.PeerRecord
	SyncStates() map[string]lora.SyncState
	LinkState() lora.State
}

var _ Node = (*lora.Node)(nil)

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	NodeID string
	// HandshakeTimeout is used when a request does not carry its own timeout.
	HandshakeTimeout time.Duration
	// Version is reported by the health endpoint.
	Version string

	node Node
	db   Pinger
}

// NewHandler creates a new Handler serving node. db may be nil.
func NewHandler(nodeID string, node Node, db Pinger) *Handler {
	return &Handler{
		NodeID:           nodeID,
		HandshakeTimeout: lora.DefaultHandshakeTimeout,
		Version:          "dev",
		node:             node,
		db:               db,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, loghttp.ErrorResponse{Error: message})
}

// NodeError maps node errors to HTTP statuses.
func (h *Handler) NodeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lora.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lora.ErrSyncInProgress):
		status = http.StatusConflict
	case errors.Is(err, lora.ErrOutboxFull):
		status = http.StatusTooManyRequests
	case errors.Is(err, lora.ErrNodeStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, lora.ErrFieldTooLong):
		status = http.StatusBadRequest
	}
	h.Error(w, status, err.Error())
}

// timeout reads the optional "timeout" query parameter, e.g. ?timeout=3s.
func (h *Handler) timeout(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("timeout")
	if raw == "" {
		return h.HandshakeTimeout, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("timeout must be positive")
	}
	return d, nil
}
