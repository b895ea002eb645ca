package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []Message
	block    chan struct{}
	err      error
}

func (p *recordingPublisher) Publish(ctx context.Context, msg Message) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return p.err
}

func (p *recordingPublisher) sessionIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.messages))
	for _, msg := range p.messages {
		ids = append(ids, msg.SessionID)
	}
	return ids
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(pub, 8, nil)
	d.Start(context.Background())

	for _, id := range []string{"s-1", "s-2", "s-3"} {
		require.NoError(t, d.Enqueue(Message{Kind: KindSessionCompleted, SessionID: id}))
	}

	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, []string{"s-1", "s-2", "s-3"}, pub.sessionIDs())
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(pub, 1, nil)

	require.NoError(t, d.Enqueue(Message{SessionID: "s-1"}))
	err := d.Enqueue(Message{SessionID: "s-2"})
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, d.Pending())

	d.Start(context.Background())
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, []string{"s-1"}, pub.sessionIDs())
}

func TestDispatcher_EnqueueAfterClose(t *testing.T) {
	d := NewDispatcher(&recordingPublisher{}, 1, nil)
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	err := d.Enqueue(Message{SessionID: "late"})
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcher_CloseHonoursDeadline(t *testing.T) {
	pub := &recordingPublisher{block: make(chan struct{})}
	d := NewDispatcher(pub, 4, nil)
	d.Start(context.Background())
	require.NoError(t, d.Enqueue(Message{SessionID: "stuck"}))
	require.NoError(t, d.Enqueue(Message{SessionID: "queued"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := d.Close(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Empty(t, pub.sessionIDs())
}

func TestDispatcher_ContinuesAfterPublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("boom")}
	d := NewDispatcher(pub, 4, nil)
	d.Start(context.Background())

	require.NoError(t, d.Enqueue(Message{SessionID: "a"}))
	require.NoError(t, d.Enqueue(Message{SessionID: "b"}))
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, []string{"a", "b"}, pub.sessionIDs())
}

func TestDispatcher_NilReceiver(t *testing.T) {
	var d *Dispatcher
	d.Start(context.Background())
	assert.ErrorIs(t, d.Enqueue(Message{}), ErrDispatcherClosed)
	assert.Zero(t, d.Pending())
	assert.NoError(t, d.Close(context.Background()))
}
