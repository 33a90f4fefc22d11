package http

import "github.com/revdeluxe/HDE/pkg/lora"

// SendRequest is the body of POST /api/send.
type SendRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// StatusResponse is returned by GET /api/messages/{id}/status.
type StatusResponse struct {
	ID     string      `json:"id"`
	Status lora.Status `json:"status"`
}

// RefreshResponse is returned by POST /api/messages/refresh.
type RefreshResponse struct {
	Evicted int `json:"evicted"`
}

// HandshakeResponse is returned by POST /api/handshake.
type HandshakeResponse struct {
	Found bool             `json:"found"`
	Peer  *lora.PeerRecord `json:"peer,omitempty"`
}

// CRCResponse is returned by POST /api/crc-request.
type CRCResponse struct {
	Found   bool            `json:"found"`
	Peer    string          `json:"peer,omitempty"`
	Summary lora.LogSummary `json:"summary"`
}

// PeersResponse is returned by GET /api/peers.
type PeersResponse struct {
	Peers []lora.PeerRecord         `json:"peers"`
	Sync  map[string]lora.SyncState `json:"sync"`
}

// LinkResponse is returned by GET /api/link.
type LinkResponse struct {
	Node  string `json:"node"`
	State string `json:"state"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}
