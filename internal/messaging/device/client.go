// Package device runs a WhatsApp multi-device session in process with
// whatsmeow. Pairing credentials are stored in PostgreSQL next to the
// application data, so a restart restores the session without a new QR scan.
package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/bizpulse/bizpulse/internal/messaging"
)

const eventBuffer = 16

// conn is the subset of *whatsmeow.Client the adapter drives.
type conn interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	IsLoggedIn() bool
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	AddEventHandler(handler whatsmeow.EventHandler) uint32
	RemoveEventHandler(id uint32) bool
	Paired() bool
	Self() (phone, name string)
}

type liveConn struct {
	*whatsmeow.Client
}

func (c liveConn) Paired() bool { return c.Store.ID != nil }

func (c liveConn) Self() (string, string) {
	if c.Store.ID == nil {
		return "", ""
	}
	return c.Store.ID.User, c.Store.PushName
}

// Client adapts whatsmeow to messaging.ChatClient.
type Client struct {
	dial   func(ctx context.Context) (conn, error)
	logger *slog.Logger

	mu      sync.Mutex
	conn    conn
	handler uint32
	out     *emitter
}

var _ messaging.ChatClient = (*Client)(nil)

// New prepares the whatsmeow device store on db, creating its tables when
// missing.
func New(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := NewLogger(logger)
	container := sqlstore.NewWithDB(db, "postgres", log.Sub("Store"))
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("device: upgrade store: %w", err)
	}
	dial := func(ctx context.Context) (conn, error) {
		dev, err := container.GetFirstDevice(ctx)
		if err != nil {
			return nil, fmt.Errorf("device: load device: %w", err)
		}
		return liveConn{whatsmeow.NewClient(dev, log.Sub("Client"))}, nil
	}
	return newClient(dial, logger), nil
}

func newClient(dial func(ctx context.Context) (conn, error), logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{dial: dial, logger: logger}
}

// Connect opens the websocket. An unpaired device reports pairing codes
// first; a stored device goes straight to ready once the server accepts it.
// The returned channel closes on Disconnect or when ctx ends.
func (c *Client) Connect(ctx context.Context) (<-chan messaging.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()

	cn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	out := newEmitter()
	id := cn.AddEventHandler(func(evt any) {
		if ev, ok := translate(evt); ok {
			out.emit(ev)
		}
	})
	if !cn.Paired() {
		qrs, err := cn.GetQRChannel(ctx)
		if err != nil {
			cn.RemoveEventHandler(id)
			return nil, fmt.Errorf("device: qr channel: %w", err)
		}
		go relayQR(ctx, qrs, out)
	}
	if err := cn.Connect(); err != nil {
		cn.RemoveEventHandler(id)
		return nil, fmt.Errorf("device: connect: %w", err)
	}
	c.conn, c.handler, c.out = cn, id, out

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.out == out {
			c.teardownLocked()
		}
	}()
	return out.ch, nil
}

// SendOne sends body as a plain text message.
func (c *Client) SendOne(ctx context.Context, recipient, body string) error {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	if cn == nil || !cn.IsLoggedIn() {
		return messaging.ErrNotConnected
	}
	to, err := JID(recipient)
	if err != nil {
		return err
	}
	if _, err := cn.SendMessage(ctx, to, &waE2E.Message{Conversation: proto.String(body)}); err != nil {
		return fmt.Errorf("device: send: %w", err)
	}
	return nil
}

// Status reports the socket state and the paired account.
func (c *Client) Status(_ context.Context) (messaging.RemoteStatus, error) {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	if cn == nil {
		return messaging.RemoteStatus{State: messaging.StateDisconnected}, nil
	}
	out := messaging.RemoteStatus{State: messaging.StateDisconnected}
	switch {
	case cn.IsConnected() && cn.IsLoggedIn():
		out.State = messaging.StateConnected
	case cn.IsConnected():
		out.State = messaging.StateConnecting
	}
	out.Phone, out.Name = cn.Self()
	return out, nil
}

// Disconnect closes the socket. The device stays paired.
func (c *Client) Disconnect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	return nil
}

func (c *Client) teardownLocked() {
	if c.conn == nil {
		return
	}
	c.conn.RemoveEventHandler(c.handler)
	c.conn.Disconnect()
	c.out.close()
	c.conn, c.handler, c.out = nil, 0, nil
}

// JID converts a phone number, or an explicit JID, into a user JID.
func JID(recipient string) (types.JID, error) {
	if strings.Contains(recipient, "@") {
		jid, err := types.ParseJID(recipient)
		if err != nil {
			return types.JID{}, fmt.Errorf("device: invalid recipient %q: %w", recipient, err)
		}
		return jid, nil
	}
	phone := messaging.NormalizePhone(recipient)
	if phone == "" {
		return types.JID{}, fmt.Errorf("device: invalid recipient %q", recipient)
	}
	return types.NewJID(phone, types.DefaultUserServer), nil
}

func relayQR(ctx context.Context, qrs <-chan whatsmeow.QRChannelItem, out *emitter) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-qrs:
			if !ok {
				return
			}
			if ev, ok := translateQR(item); ok {
				out.emit(ev)
			}
		}
	}
}

func translateQR(item whatsmeow.QRChannelItem) (messaging.Event, bool) {
	switch item.Event {
	case whatsmeow.QRChannelEventCode:
		return messaging.Event{Kind: messaging.EventQR, QR: item.Code}, true
	case whatsmeow.QRChannelEventError:
		err := item.Error
		if err == nil {
			err = errors.New("pairing failed")
		}
		return messaging.Event{Kind: messaging.EventFailed, Err: err}, true
	case whatsmeow.QRChannelTimeout.Event:
		return messaging.Event{Kind: messaging.EventFailed, Err: errors.New("pairing timed out before the code was scanned")}, true
	case whatsmeow.QRChannelSuccess.Event:
		// events.Connected follows once the paired device reconnects.
		return messaging.Event{}, false
	}
	if strings.HasPrefix(item.Event, "err-") {
		return messaging.Event{Kind: messaging.EventFailed, Err: fmt.Errorf("pairing failed: %s", item.Event)}, true
	}
	return messaging.Event{}, false
}

func translate(evt any) (messaging.Event, bool) {
	switch e := evt.(type) {
	case *events.Connected:
		return messaging.Event{Kind: messaging.EventReady}, true
	case *events.LoggedOut, *events.StreamReplaced:
		return messaging.Event{Kind: messaging.EventClosed}, true
	case *events.ConnectFailure:
		return messaging.Event{Kind: messaging.EventFailed, Err: fmt.Errorf("connection refused: %s", e.Reason)}, true
	case *events.TemporaryBan:
		return messaging.Event{Kind: messaging.EventFailed, Err: errors.New(e.String())}, true
	case *events.ClientOutdated:
		return messaging.Event{Kind: messaging.EventFailed, Err: errors.New("whatsapp client version is outdated")}, true
	}
	return messaging.Event{}, false
}

// emitter fans whatsmeow callbacks into one channel that is safe to close
// while callbacks are still arriving.
type emitter struct {
	mu     sync.Mutex
	ch     chan messaging.Event
	closed bool
}

func newEmitter() *emitter {
	return &emitter{ch: make(chan messaging.Event, eventBuffer)}
}

func (e *emitter) emit(ev messaging.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- ev:
	default:
	}
}

func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
