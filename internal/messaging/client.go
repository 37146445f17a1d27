package messaging

import "context"

// EventKind identifies a session event emitted by a ChatClient.
type EventKind string

const (
	// EventQR carries a pairing code that must be scanned on the phone.
	EventQR EventKind = "qr"
	// EventReady reports an authenticated session, new or restored.
	EventReady EventKind = "ready"
	// EventFailed reports that pairing or the session failed.
	EventFailed EventKind = "failed"
	// EventClosed reports that the remote side ended the session.
	EventClosed EventKind = "closed"
)

// Event is one asynchronous update from the chat client.
type Event struct {
	Kind EventKind
	QR   string
	Err  error
}

// RemoteStatus is the chat provider's view of the session.
type RemoteStatus struct {
	State State  `json:"state"`
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name,omitempty"`
}

// ChatClient is the external chat automation backend. Connect starts pairing
// and returns a channel that is closed once the client stops reporting.
type ChatClient interface {
	Connect(ctx context.Context) (<-chan Event, error)
	SendOne(ctx context.Context, recipient, body string) error
	Status(ctx context.Context) (RemoteStatus, error)
	Disconnect(ctx context.Context) error
}
