package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/revdeluxe/HDE/pkg/lora"
	loghttp "github.com/revdeluxe/HDE/pkg/lora/http"
)

// Handshake handles POST /api/handshake.
func (h *Handler) Handshake(w http.ResponseWriter, r *http.Request) {
	timeout, err := h.timeout(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid timeout: "+err.Error())
		return
	}

	peer, found, err := h.node.Handshake(timeout)
	if err != nil {
		h.NodeError(w, err)
		return
	}
	resp := loghttp.HandshakeResponse{Found: found}
	if found {
		resp.Peer = &peer
	}
	h.JSON(w, http.StatusOK, resp)
}

// Sync handles POST /api/sync/{peer}. An incomplete session is still a 200 with converged set to false.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	peer := chi.URLParam(r, "peer")
	if peer == "" || len(peer) > lora.MaxNodeIDLength {
		h.Error(w, http.StatusBadRequest, "peer must be a node id")
		return
	}

	res, err := h.node.Sync(peer)
	if err != nil {
		h.NodeError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, res)
}

// RequestChecksum handles POST /api/crc-request.
func (h *Handler) RequestChecksum(w http.ResponseWriter, r *http.Request) {
	timeout, err := h.timeout(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid timeout: "+err.Error())
		return
	}

	peer, sum, found, err := h.node.RequestChecksum(timeout)
	if err != nil {
		h.NodeError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, loghttp.CRCResponse{Found: found, Peer: peer, Summary: sum})
}

// Peers handles GET /api/peers.
func (h *Handler) Peers(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, loghttp.PeersResponse{
		Peers: h.node.Peers(),
		Sync:  h.node.SyncStates(),
	})
}

// Link handles GET /api/link.
func (h *Handler) Link(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, loghttp.LinkResponse{Node: h.NodeID, State: h.node.LinkState().String()})
}
