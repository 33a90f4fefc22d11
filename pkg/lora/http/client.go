// Package http is a client for the node HTTP API.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/revdeluxe/HDE/pkg/lora"
)

// APIError is returned when the node answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unexpected response status code %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps well-known statuses back to the node errors they stand for.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return lora.ErrMessageNotFound
	case http.StatusConflict:
		return lora.ErrSyncInProgress
	case http.StatusTooManyRequests:
		return lora.ErrOutboxFull
	case http.StatusServiceUnavailable:
		return lora.ErrNodeStopped
	}
	return nil
}

// Client talks to the HTTP API of a running node.
type Client struct {
	// URL is the base URL of the node API, e.g. http://localhost:8080.
	URL string
	// Client is an HTTP client used to send requests.
	Client http.Client
}

// Send submits a message for transmission.
func (c *Client) Send(ctx context.Context, sender, text string) (lora.Message, error) {
	var msg lora.Message
	err := c.do(ctx, http.MethodPost, "/api/send", SendRequest{Sender: sender, Text: text}, &msg)
	return msg, err
}

// Messages returns the node's message log.
func (c *Client) Messages(ctx context.Context) ([]lora.Message, error) {
	return c.MessagesFrom(ctx, "")
}

// MessagesFrom returns the messages authored by sender. An empty sender returns the whole log.
func (c *Client) MessagesFrom(ctx context.Context, sender string) ([]lora.Message, error) {
	path := "/api/messages"
	if sender != "" {
		path += "?" + url.Values{"sender": {sender}}.Encode()
	}
	var msgs []lora.Message
	err := c.do(ctx, http.MethodGet, path, nil, &msgs)
	return msgs, err
}

// Status returns the status of one message.
func (c *Client) Status(ctx context.Context, id string) (lora.Status, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(id)+"/status", nil, &resp)
	return resp.Status, err
}

// Checksum returns the summary of the node's log.
func (c *Client) Checksum(ctx context.Context) (lora.LogSummary, error) {
	var sum lora.LogSummary
	err := c.do(ctx, http.MethodGet, "/api/messages/crc", nil, &sum)
	return sum, err
}

// Refresh evicts stale reassembly buffers on the node.
func (c *Client) Refresh(ctx context.Context) (int, error) {
	var resp RefreshResponse
	err := c.do(ctx, http.MethodPost, "/api/messages/refresh", nil, &resp)
	return resp.Evicted, err
}

// Handshake asks the node to look for a peer, waiting up to timeout. A zero timeout uses the node default.
func (c *Client) Handshake(ctx context.Context, timeout time.Duration) (HandshakeResponse, error) {
	var resp HandshakeResponse
	err := c.do(ctx, http.MethodPost, "/api/handshake"+timeoutQuery(timeout), nil, &resp)
	return resp, err
}

// Sync runs a checksum-sync session between the node and peer.
func (c *Client) Sync(ctx context.Context, peer string) (lora.SyncResult, error) {
	var res lora.SyncResult
	err := c.do(ctx, http.MethodPost, "/api/sync/"+url.PathEscape(peer), nil, &res)
	return res, err
}

// RequestChecksum asks the node to query the first peer that answers for its log summary.
func (c *Client) RequestChecksum(ctx context.Context, timeout time.Duration) (CRCResponse, error) {
	var resp CRCResponse
	err := c.do(ctx, http.MethodPost, "/api/crc-request"+timeoutQuery(timeout), nil, &resp)
	return resp, err
}

// Peers returns known peers and the per-peer sync state.
func (c *Client) Peers(ctx context.Context) (PeersResponse, error) {
	var resp PeersResponse
	err := c.do(ctx, http.MethodGet, "/api/peers", nil, &resp)
	return resp, err
}

// Link returns the node's radio state.
func (c *Client) Link(ctx context.Context) (LinkResponse, error) {
	var resp LinkResponse
	err := c.do(ctx, http.MethodGet, "/api/link", nil, &resp)
	return resp, err
}

// Health checks that the node API is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func timeoutQuery(timeout time.Duration) string {
	if timeout <= 0 {
		return ""
	}
	return "?timeout=" + url.QueryEscape(timeout.String())
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshalling error: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	response, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		apiErr := &APIError{StatusCode: response.StatusCode}
		var errResp ErrorResponse
		if json.Unmarshal(data, &errResp) == nil {
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Join(errors.New("invalid response body"), err)
	}
	return nil
}
