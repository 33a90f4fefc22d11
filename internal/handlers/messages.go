package handlers

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/revdeluxe/HDE/pkg/lora"
	loghttp "github.com/revdeluxe/HDE/pkg/lora/http"
)

// Send handles POST /api/send.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req loghttp.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Sender = strings.TrimSpace(req.Sender)
	if req.Sender == "" {
		h.Error(w, http.StatusBadRequest, "sender is required")
		return
	}
	if req.Text == "" {
		h.Error(w, http.StatusBadRequest, "text is required")
		return
	}

	msg, err := h.node.Submit(req.Sender, req.Text)
	if err != nil {
		h.NodeError(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, msg)
}

// ListMessages handles GET /api/messages. The optional sender query parameter keeps only the messages
// authored by that sender.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.node.Messages()
	if err != nil {
		h.NodeError(w, err)
		return
	}
	if sender := strings.TrimSpace(r.URL.Query().Get("sender")); sender != "" {
		msgs = slices.DeleteFunc(msgs, func(m lora.Message) bool { return m.Sender != sender })
	}
	if msgs == nil {
		msgs = []lora.Message{}
	}
	h.JSON(w, http.StatusOK, msgs)
}

// MessageStatus handles GET /api/messages/{id}/status.
func (h *Handler) MessageStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := h.node.Status(id)
	if err != nil {
		h.NodeError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, loghttp.StatusResponse{ID: id, Status: status})
}

// Checksum handles GET /api/messages/crc.
func (h *Handler) Checksum(w http.ResponseWriter, r *http.Request) {
	sum, err := h.node.Checksum()
	if err != nil {
		h.NodeError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, sum)
}

// Refresh handles POST /api/messages/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, loghttp.RefreshResponse{Evicted: h.node.Sweep()})
}
