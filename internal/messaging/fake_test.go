package messaging

import (
	"context"
	"errors"
	"sync"
)

// fakeClient is an in-memory ChatClient. Sends to recipients listed in
// failures return that error; block makes SendOne wait for ctx.
type fakeClient struct {
	mu          sync.Mutex
	events      chan Event
	failures    map[string]error
	block       map[string]bool
	sent        []string
	onSend      func(recipient string)
	connErr     error
	disconnects int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		events:   make(chan Event, 8),
		failures: map[string]error{},
		block:    map[string]bool{},
	}
}

func (f *fakeClient) Connect(ctx context.Context) (<-chan Event, error) {
	if f.connErr != nil {
		return nil, f.connErr
	}
	return f.events, nil
}

func (f *fakeClient) SendOne(ctx context.Context, recipient, body string) error {
	f.mu.Lock()
	f.sent = append(f.sent, recipient)
	hook := f.onSend
	blocked := f.block[recipient]
	err := f.failures[recipient]
	f.mu.Unlock()
	if hook != nil {
		hook(recipient)
	}
	if blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeClient) Status(ctx context.Context) (RemoteStatus, error) {
	return RemoteStatus{}, errors.New("not implemented")
}

func (f *fakeClient) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeClient) attempts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.sent...)
}
