package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastDispatcher(s *Session) *Dispatcher {
	return NewDispatcher(s, Options{Delay: -1, SendTimeout: 50 * time.Millisecond}, nil, nil)
}

func TestDispatchRecordsEveryRecipient(t *testing.T) {
	client := newFakeClient()
	client.failures["2"] = errors.New("number not on whatsapp")
	client.failures["4"] = errors.New("rate limited")
	d := fastDispatcher(connectedSession(t, client))

	res, err := d.Dispatch(context.Background(), "hi", []string{"1", "2", "3", "4", "5"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Logs, 5)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, client.attempts())
	assert.Equal(t, "sent to 1", res.Logs[0])
	assert.Equal(t, "failed to send to 2: number not on whatsapp", res.Logs[1])
	assert.Equal(t, "failed to send to 4: rate limited", res.Logs[3])
}

func TestDispatchRejectsWhenNotConnected(t *testing.T) {
	client := newFakeClient()
	d := fastDispatcher(NewSession(client, nil))

	res, err := d.Dispatch(context.Background(), "hi", []string{"1"})
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, client.attempts())
	assert.Zero(t, res.Sent+res.Failed)
}

func TestDispatchTimesOutHungSend(t *testing.T) {
	client := newFakeClient()
	client.block["2"] = true
	d := fastDispatcher(connectedSession(t, client))

	res, err := d.Dispatch(context.Background(), "hi", []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "failed to send to 2: send timed out after 50ms", res.Logs[1])
}

func TestDispatchStopsWhenSessionEnds(t *testing.T) {
	client := newFakeClient()
	s := connectedSession(t, client)
	client.onSend = func(recipient string) {
		if recipient == "2" {
			client.events <- Event{Kind: EventClosed}
			waitState(t, s, StateDisconnected)
		}
	}
	d := fastDispatcher(s)

	res, err := d.Dispatch(context.Background(), "hi", []string{"1", "2", "3", "4"})
	require.ErrorIs(t, err, ErrSessionTerminated)
	assert.Equal(t, []string{"1", "2"}, client.attempts())
	assert.Len(t, res.Logs, 2)
}

func TestDispatchPausesBetweenSends(t *testing.T) {
	client := newFakeClient()
	d := NewDispatcher(connectedSession(t, client), Options{Delay: 30 * time.Millisecond}, nil, nil)

	start := time.Now()
	res, err := d.Dispatch(context.Background(), "hi", []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Sent)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestDispatchPauseInterruptedByCancel(t *testing.T) {
	client := newFakeClient()
	d := NewDispatcher(connectedSession(t, client), Options{Delay: time.Hour}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	client.onSend = func(string) { cancel() }

	res, err := d.Dispatch(ctx, "hi", []string{"1", "2"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, []string{"1"}, client.attempts())
}
