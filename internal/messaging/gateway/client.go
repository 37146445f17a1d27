// Package gateway adapts a WAHA-compatible WhatsApp HTTP gateway to the
// messaging.ChatClient interface. The gateway keeps the paired credentials.
package gateway

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

	"github.com/bizpulse/bizpulse/internal/messaging"
)

const (
	defaultPollInterval = 2 * time.Second

	statusStarting = "STARTING"
	statusScanQR   = "SCAN_QR_CODE"
	statusWorking  = "WORKING"
	statusFailed   = "FAILED"
	statusStopped  = "STOPPED"
)

// Config configures the gateway client.
type Config struct {
	BaseURL      string
	APIKey       string
	Session      string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// Client talks to the gateway over HTTP.
type Client struct {
	baseURL      string
	apiKey       string
	session      string
	pollInterval time.Duration
	httpClient   *http.Client
}

var _ messaging.ChatClient = (*Client)(nil)

// New builds a gateway client.
func New(cfg Config) *Client {
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		session:      cfg.Session,
		pollInterval: cfg.PollInterval,
		httpClient:   cfg.HTTPClient,
	}
}

type sessionInfo struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Me     *struct {
		ID       string `json:"id"`
		PushName string `json:"pushName"`
	} `json:"me"`
}

// Connect starts the gateway session and polls it, reporting pairing codes
// and state changes until ctx is done or the session settles as failed or
// stopped.
func (c *Client) Connect(ctx context.Context) (<-chan messaging.Event, error) {
	path := "/api/sessions/" + url.PathEscape(c.session) + "/start"
	if err := c.request(ctx, http.MethodPost, path, nil, nil); err != nil {
		return nil, err
	}
	events := make(chan messaging.Event, 4)
	go c.poll(ctx, events)
	return events, nil
}

func (c *Client) poll(ctx context.Context, events chan<- messaging.Event) {
	defer close(events)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var lastQR string
	ready := false
	emit := func(ev messaging.Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		info, err := c.info(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
		case info.Status == statusWorking:
			if !ready {
				ready = true
				if !emit(messaging.Event{Kind: messaging.EventReady}) {
					return
				}
			}
		case info.Status == statusScanQR:
			qr, err := c.qr(ctx)
			if err == nil && qr != "" && qr != lastQR {
				lastQR = qr
				if !emit(messaging.Event{Kind: messaging.EventQR, QR: qr}) {
					return
				}
			}
		case info.Status == statusFailed:
			emit(messaging.Event{Kind: messaging.EventFailed, Err: errors.New("gateway session failed")})
			return
		case info.Status == statusStopped && ready:
			emit(messaging.Event{Kind: messaging.EventClosed})
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Status maps the gateway session status onto the lifecycle states.
func (c *Client) Status(ctx context.Context) (messaging.RemoteStatus, error) {
	info, err := c.info(ctx)
	if err != nil {
		return messaging.RemoteStatus{}, err
	}
	out := messaging.RemoteStatus{State: mapStatus(info.Status)}
	if info.Me != nil {
		out.Phone = strings.TrimSuffix(info.Me.ID, "@c.us")
		out.Name = info.Me.PushName
	}
	return out, nil
}

// SendOne sends body as a text message to recipient.
func (c *Client) SendOne(ctx context.Context, recipient, body string) error {
	payload := map[string]string{
		"session": c.session,
		"chatId":  ChatID(recipient),
		"text":    body,
	}
	return c.request(ctx, http.MethodPost, "/api/sendText", payload, nil)
}

// Disconnect stops the gateway session.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.request(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(c.session)+"/stop", nil, nil)
}

// ChatID converts a phone number into the gateway's personal chat id.
func ChatID(phone string) string {
	if strings.Contains(phone, "@") {
		return phone
	}
	return messaging.NormalizePhone(phone) + "@c.us"
}

func (c *Client) info(ctx context.Context) (sessionInfo, error) {
	var info sessionInfo
	err := c.request(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(c.session), nil, &info)
	return info, err
}

func (c *Client) qr(ctx context.Context) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	err := c.request(ctx, http.MethodGet, "/api/"+url.PathEscape(c.session)+"/auth/qr?format=raw", nil, &out)
	return out.Value, err
}

func (c *Client) request(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func mapStatus(status string) messaging.State {
	switch status {
	case statusWorking:
		return messaging.StateConnected
	case statusStarting, statusScanQR:
		return messaging.StateConnecting
	case statusFailed:
		return messaging.StateError
	default:
		return messaging.StateDisconnected
	}
}
