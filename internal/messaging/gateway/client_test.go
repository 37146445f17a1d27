package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizpulse/bizpulse/internal/messaging"
)

type fakeGateway struct {
	mu       sync.Mutex
	statuses []string
	sent     []map[string]string
	apiKeys  []string
}

func (g *fakeGateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions/main/start", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.apiKeys = append(g.apiKeys, r.Header.Get("X-Api-Key"))
		g.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /api/sessions/main", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		status := g.statuses[0]
		if len(g.statuses) > 1 {
			g.statuses = g.statuses[1:]
		}
		g.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name": "main", "status": status,
			"me": map[string]string{"id": "628123@c.us", "pushName": "Ops"},
		})
	})
	mux.HandleFunc("GET /api/main/auth/qr", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"value": "2@pairing-code"})
	})
	mux.HandleFunc("POST /api/sendText", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["chatId"] == "000@c.us" {
			http.Error(w, "invalid chat id", http.StatusUnprocessableEntity)
			return
		}
		g.mu.Lock()
		g.sent = append(g.sent, body)
		g.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /api/sessions/main/stop", func(w http.ResponseWriter, r *http.Request) {})
	return mux
}

func newClient(t *testing.T, g *fakeGateway) *Client {
	t.Helper()
	srv := httptest.NewServer(g.handler())
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", APIKey: "secret", Session: "main", PollInterval: 5 * time.Millisecond})
}

func TestConnectEmitsQRThenReady(t *testing.T) {
	g := &fakeGateway{statuses: []string{"STARTING", "SCAN_QR_CODE", "SCAN_QR_CODE", "WORKING", "STOPPED"}}
	c := newClient(t, g)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := c.Connect(ctx)
	require.NoError(t, err)

	var kinds []messaging.EventKind
	var qr string
	for ev := range events {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == messaging.EventQR {
			qr = ev.QR
		}
	}
	assert.Equal(t, []messaging.EventKind{messaging.EventQR, messaging.EventReady, messaging.EventClosed}, kinds)
	assert.Equal(t, "2@pairing-code", qr)
	assert.Equal(t, []string{"secret"}, g.apiKeys)
}

func TestSendOneAndErrors(t *testing.T) {
	g := &fakeGateway{statuses: []string{"WORKING"}}
	c := newClient(t, g)
	ctx := context.Background()

	require.NoError(t, c.SendOne(ctx, "+62 812-3", "hello"))
	require.Len(t, g.sent, 1)
	assert.Equal(t, "628123@c.us", g.sent[0]["chatId"])
	assert.Equal(t, "main", g.sent[0]["session"])
	assert.Equal(t, "hello", g.sent[0]["text"])

	err := c.SendOne(ctx, "000", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway error (422)")
	assert.Contains(t, err.Error(), "invalid chat id")
}

func TestStatusMapsGatewayState(t *testing.T) {
	c := newClient(t, &fakeGateway{statuses: []string{"WORKING"}})
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, messaging.StateConnected, st.State)
	assert.Equal(t, "628123", st.Phone)

	assert.Equal(t, messaging.StateConnecting, mapStatus("SCAN_QR_CODE"))
	assert.Equal(t, messaging.StateError, mapStatus("FAILED"))
	assert.Equal(t, messaging.StateDisconnected, mapStatus("STOPPED"))
}
