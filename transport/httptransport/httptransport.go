// Package httptransport delivers agent messages over HTTP. The Client posts
// envelopes to POST {peer}/agents/{id}/message; the Handler accepts them on
// the receiving process and forwards them to a local core.Transport.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/logging"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 30 * time.Second

var _ core.Transport = (*Client)(nil)

// Options configures the HTTP client transport.
type Options struct {
	// Peers maps agent ids to base URLs (e.g. "http://inventory:8000").
	Peers map[string]string
	// DefaultURL is used for agents not listed in Peers. Empty means unknown
	// agents fail with core.ErrUnknownRecipient.
	DefaultURL string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is a core.Transport that POSTs JSON envelopes to remote processes.
type Client struct {
	opts   Options
	client *http.Client
}

// NewClient creates an HTTP transport.
func NewClient(optFns ...func(o *Options)) *Client {
	opts := Options{Timeout: DefaultTimeout}
	for _, fn := range optFns {
		fn(&opts)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{opts: opts, client: client}
}

func (c *Client) baseURL(agentID string) (string, bool) {
	if u, ok := c.opts.Peers[agentID]; ok {
		return u, true
	}
	return c.opts.DefaultURL, c.opts.DefaultURL != ""
}

// Send implements core.Transport.
func (c *Client) Send(ctx context.Context, msg core.Message) error {
	base, ok := c.baseURL(msg.Recipient)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownRecipient, msg.Recipient)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	endpoint := strings.TrimRight(base, "/") + "/agents/" + url.PathEscape(msg.Recipient) + "/message"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", msg.Recipient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	cause := statusError(resp.StatusCode)
	return fmt.Errorf("deliver to %s: %w: %s %s", msg.Recipient, cause, resp.Status, strings.TrimSpace(string(detail)))
}

var errRemote = errors.New("remote rejected message")

func statusError(code int) error {
	switch code {
	case http.StatusNotFound:
		return core.ErrUnknownRecipient
	case http.StatusServiceUnavailable:
		return core.ErrMailboxFull
	case http.StatusBadRequest:
		return core.ErrInvalidMessage
	default:
		return errRemote
	}
}

// Handler accepts envelopes posted by a Client.
type Handler struct {
	next   core.Transport
	logger logging.Logger
	mux    *http.ServeMux
}

// NewHandler creates an http.Handler forwarding inbound messages to next
// (usually the process-local transport).
func NewHandler(next core.Transport, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	h := &Handler{next: next, logger: logger, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /agents/{id}/message", h.handleMessage)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var msg core.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&msg); err != nil {
		http.Error(w, "invalid message body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if msg.Recipient == "" {
		msg.Recipient = id
	}
	if msg.Recipient != id {
		http.Error(w, "recipient does not match path", http.StatusBadRequest)
		return
	}
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := msg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.next.Send(r.Context(), msg); err != nil {
		h.logger.Warn("Inbound message rejected", "message_id", msg.ID, "recipient", id, "error", err.Error())
		switch {
		case errors.Is(err, core.ErrUnknownRecipient):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, core.ErrMailboxFull), errors.Is(err, core.ErrMailboxClosed):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted", "message_id": msg.ID})
}
