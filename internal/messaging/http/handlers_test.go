package messaginghttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizpulse/bizpulse/internal/messaging"
)

type chatClient struct {
	events chan messaging.Event
	fail   map[string]bool
}

func (c *chatClient) Connect(ctx context.Context) (<-chan messaging.Event, error) {
	return c.events, nil
}

func (c *chatClient) SendOne(ctx context.Context, recipient, body string) error {
	if c.fail[recipient] {
		return errors.New("recipient unreachable")
	}
	return nil
}

func (c *chatClient) Status(ctx context.Context) (messaging.RemoteStatus, error) {
	return messaging.RemoteStatus{}, nil
}

func (c *chatClient) Disconnect(ctx context.Context) error { return nil }

type fixture struct {
	client  *chatClient
	session *messaging.Session
	router  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := &chatClient{events: make(chan messaging.Event, 4), fail: map[string]bool{}}
	session := messaging.NewSession(client, nil)
	dispatcher := messaging.NewDispatcher(session, messaging.Options{Delay: -1, SendTimeout: time.Second}, nil, nil)
	runs := messaging.NewManager(dispatcher, nil, nil)

	r := chi.NewRouter()
	r.Route("/api", NewHandler(nil, session, runs).MountRoutes)
	return &fixture{client: client, session: session, router: r}
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	rec := f.do(http.MethodPost, "/api/whatsapp/initialize", "")
	require.Equal(t, http.StatusOK, rec.Code)
	f.client.events <- messaging.Event{Kind: messaging.EventReady}
	require.Eventually(t, func() bool { return f.session.State() == messaging.StateConnected }, time.Second, 5*time.Millisecond)
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	f.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Error   string                `json:"error"`
	Data    messaging.RunSnapshot `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestSendBulkReportsPerRecipientOutcome(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.client.fail["2"] = true
	f.client.fail["4"] = true

	rec := f.do(http.MethodPost, "/api/whatsapp/send-bulk", `{"message":"promo","phoneNumbers":["1","2","3","4","5"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var raw struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	for _, key := range []string{"sent", "failed", "logs", "runId"} {
		assert.Contains(t, raw.Data, key)
	}
	env := decode(t, rec)
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.Data.ID)
	assert.Equal(t, 3, env.Data.Sent)
	assert.Equal(t, 2, env.Data.Failed)
	assert.Len(t, env.Data.Logs, 5)
	assert.Equal(t, messaging.RunCompleted, env.Data.Status)

	rec = f.do(http.MethodGet, "/api/whatsapp/runs/"+env.Data.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decode(t, rec).Data.Cursor)
}

func TestSendBulkNotConnectedIsServerError(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/whatsapp/send-bulk", `{"message":"promo","phoneNumbers":["1"]}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decode(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "failed to send bulk messages", env.Message)
	assert.Equal(t, messaging.ErrNotConnected.Error(), env.Error)
}

func TestSendBulkValidation(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	rec := f.do(http.MethodPost, "/api/whatsapp/send-bulk", `{"phoneNumbers":["1"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "message is required", decode(t, rec).Message)
}

func TestStatusAndDisconnect(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/whatsapp/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"disconnected"`)

	f.connect(t)
	rec = f.do(http.MethodGet, "/api/whatsapp/status", "")
	assert.Contains(t, rec.Body.String(), `"connected":true`)

	rec = f.do(http.MethodPost, "/api/whatsapp/disconnect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, messaging.StateDisconnected, f.session.State())
}

func TestRunControlErrors(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/whatsapp/runs/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.connect(t)
	rec = f.do(http.MethodPost, "/api/whatsapp/send-bulk", `{"message":"hi","phoneNumbers":["1"]}`)
	id := decode(t, rec).Data.ID

	rec = f.do(http.MethodPost, "/api/whatsapp/runs/"+id+"/cancel", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(http.MethodPost, "/api/whatsapp/runs/"+id+"/resume", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/whatsapp/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)
}
