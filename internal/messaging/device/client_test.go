package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/bizpulse/bizpulse/internal/messaging"
)

type fakeConn struct {
	mu           sync.Mutex
	paired       bool
	loggedIn     bool
	connected    bool
	connectErr   error
	qrs          chan whatsmeow.QRChannelItem
	handler      whatsmeow.EventHandler
	removed      bool
	disconnected int
	sentTo       []types.JID
	sentBody     []string
}

func newFakeConn(paired bool) *fakeConn {
	return &fakeConn{paired: paired, qrs: make(chan whatsmeow.QRChannelItem, 4)}
}

func (f *fakeConn) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeConn) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected++
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) IsLoggedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedIn
}

func (f *fakeConn) GetQRChannel(context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	return f.qrs, nil
}

func (f *fakeConn) SendMessage(_ context.Context, to types.JID, message *waE2E.Message, _ ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTo = append(f.sentTo, to)
	f.sentBody = append(f.sentBody, message.GetConversation())
	return whatsmeow.SendResponse{Timestamp: time.Now()}, nil
}

func (f *fakeConn) AddEventHandler(handler whatsmeow.EventHandler) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return 7
}

func (f *fakeConn) RemoveEventHandler(id uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = id == 7
	return f.removed
}

func (f *fakeConn) Paired() bool { return f.paired }

func (f *fakeConn) Self() (string, string) {
	if !f.paired {
		return "", ""
	}
	return "628123", "Ops"
}

func (f *fakeConn) fire(evt any) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(evt)
}

func dialer(cn *fakeConn) func(context.Context) (conn, error) {
	return func(context.Context) (conn, error) { return cn, nil }
}

func next(t *testing.T, ch <-chan messaging.Event) messaging.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return messaging.Event{}
	}
}

func TestConnectUnpairedReportsQRThenReady(t *testing.T) {
	cn := newFakeConn(false)
	c := newClient(dialer(cn), nil)

	ch, err := c.Connect(context.Background())
	require.NoError(t, err)

	cn.qrs <- whatsmeow.QRChannelItem{Event: whatsmeow.QRChannelEventCode, Code: "2@abc"}
	ev := next(t, ch)
	assert.Equal(t, messaging.EventQR, ev.Kind)
	assert.Equal(t, "2@abc", ev.QR)

	cn.qrs <- whatsmeow.QRChannelSuccess
	cn.fire(&events.Connected{})
	assert.Equal(t, messaging.EventReady, next(t, ch).Kind)
}

func TestPairingTimeoutFails(t *testing.T) {
	cn := newFakeConn(false)
	c := newClient(dialer(cn), nil)
	ch, err := c.Connect(context.Background())
	require.NoError(t, err)

	cn.qrs <- whatsmeow.QRChannelTimeout
	ev := next(t, ch)
	assert.Equal(t, messaging.EventFailed, ev.Kind)
	assert.Contains(t, ev.Err.Error(), "timed out")
}

func TestConnectPairedSkipsQR(t *testing.T) {
	cn := newFakeConn(true)
	cn.qrs = nil
	c := newClient(dialer(cn), nil)

	ch, err := c.Connect(context.Background())
	require.NoError(t, err)
	cn.fire(&events.Connected{})
	assert.Equal(t, messaging.EventReady, next(t, ch).Kind)

	cn.mu.Lock()
	cn.loggedIn = true
	cn.mu.Unlock()
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, messaging.StateConnected, st.State)
	assert.Equal(t, "628123", st.Phone)
}

func TestConnectError(t *testing.T) {
	cn := newFakeConn(true)
	cn.connectErr = errors.New("dial tcp: refused")
	c := newClient(dialer(cn), nil)

	_, err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, cn.removed)

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, messaging.StateDisconnected, st.State)
}

func TestRemoteEventsTranslate(t *testing.T) {
	cases := []struct {
		evt  any
		kind messaging.EventKind
	}{
		{&events.LoggedOut{Reason: events.ConnectFailureLoggedOut}, messaging.EventClosed},
		{&events.StreamReplaced{}, messaging.EventClosed},
		{&events.ConnectFailure{Reason: events.ConnectFailureLoggedOut}, messaging.EventFailed},
		{&events.TemporaryBan{Code: events.TempBanSentToTooManyPeople}, messaging.EventFailed},
		{&events.ClientOutdated{}, messaging.EventFailed},
	}
	for _, tc := range cases {
		ev, ok := translate(tc.evt)
		require.True(t, ok, "%T", tc.evt)
		assert.Equal(t, tc.kind, ev.Kind, "%T", tc.evt)
	}
	_, ok := translate(&events.Disconnected{})
	assert.False(t, ok)
}

func TestSendOne(t *testing.T) {
	cn := newFakeConn(true)
	c := newClient(dialer(cn), nil)

	err := c.SendOne(context.Background(), "628", "hi")
	require.ErrorIs(t, err, messaging.ErrNotConnected)

	_, err = c.Connect(context.Background())
	require.NoError(t, err)
	cn.mu.Lock()
	cn.loggedIn = true
	cn.mu.Unlock()

	require.NoError(t, c.SendOne(context.Background(), "+62 812-34", "promo"))
	require.Len(t, cn.sentTo, 1)
	assert.Equal(t, "6281234@s.whatsapp.net", cn.sentTo[0].String())
	assert.Equal(t, []string{"promo"}, cn.sentBody)
}

func TestDisconnectClosesEvents(t *testing.T) {
	cn := newFakeConn(true)
	c := newClient(dialer(cn), nil)
	ch, err := c.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Disconnect(context.Background()))
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 1, cn.disconnected)
	assert.True(t, cn.removed)

	// late callbacks after teardown are dropped
	cn.fire(&events.Connected{})
	require.NoError(t, c.Disconnect(context.Background()))
	assert.Equal(t, 1, cn.disconnected)
}

func TestContextEndTearsDown(t *testing.T) {
	cn := newFakeConn(true)
	c := newClient(dialer(cn), nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Connect(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("events not closed after context end")
	}
}

func TestJID(t *testing.T) {
	jid, err := JID("628-11")
	require.NoError(t, err)
	assert.Equal(t, "62811@s.whatsapp.net", jid.String())

	jid, err = JID("12345@g.us")
	require.NoError(t, err)
	assert.Equal(t, types.GroupServer, jid.Server)

	_, err = JID(" - ")
	require.Error(t, err)
}
