package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu  sync.Mutex
	got []Notification
}

func (s *recordingSink) Deliver(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return nil
}

func (s *recordingSink) delivered() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.got...)
}

func TestDispatchDelivers(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, Options{Workers: 2, QueueSize: 8, Timeout: time.Second}, nil)

	payload := []byte("hello")
	assert.True(t, d.Dispatch("C1", payload))
	payload[0] = 'j' // the dispatcher holds its own copy

	require.NoError(t, d.Close(context.Background()))

	got := sink.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, "C1", got[0].ResourceID)
	assert.Equal(t, "hello", string(got[0].Payload))
}

func TestDispatchDropsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	sink := SinkFunc(func(ctx context.Context, n Notification) error {
		started <- struct{}{}
		<-release
		return nil
	})
	d := NewDispatcher(sink, Options{Workers: 1, QueueSize: 1, Timeout: time.Second}, nil)

	require.True(t, d.Dispatch("C1", nil))
	<-started // the only worker is now busy

	assert.True(t, d.Dispatch("C2", nil), "fits in the queue")
	assert.False(t, d.Dispatch("C3", nil), "queue full, dropped without blocking")

	close(release)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatchAfterClose(t *testing.T) {
	d := NewDispatcher(&recordingSink{}, DefaultOptions(), nil)
	require.NoError(t, d.Close(context.Background()))

	assert.False(t, d.Dispatch("C1", []byte("late")))
	require.NoError(t, d.Close(context.Background()), "close is idempotent")
}

func TestFailingAndPanickingSinksAreIsolated(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	sink := SinkFunc(func(ctx context.Context, n Notification) error {
		mu.Lock()
		calls++
		mu.Unlock()
		switch n.ResourceID {
		case "panic":
			panic("sink exploded")
		case "fail":
			return errors.New("downstream unavailable")
		}
		return nil
	})
	d := NewDispatcher(sink, Options{Workers: 1, QueueSize: 8, Timeout: time.Second}, nil)

	assert.True(t, d.Dispatch("panic", nil))
	assert.True(t, d.Dispatch("fail", nil))
	assert.True(t, d.Dispatch("ok", nil))
	require.NoError(t, d.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls, "the worker survives a panic and keeps delivering")
}

func TestCloseHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	sink := SinkFunc(func(ctx context.Context, n Notification) error {
		<-release
		return nil
	})
	d := NewDispatcher(sink, Options{Workers: 1, QueueSize: 1, Timeout: time.Minute}, nil)
	require.True(t, d.Dispatch("C1", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}

func TestWebhookSink(t *testing.T) {
	var body webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, srv.Client())
	err := sink.Deliver(context.Background(), Notification{ResourceID: "C1", Payload: []byte("deploy done")})
	require.NoError(t, err)
	assert.Equal(t, webhookBody{ResourceID: "C1", Text: "deploy done"}, body)
}

func TestWebhookSinkNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL, nil).Deliver(context.Background(), Notification{ResourceID: "C1"})
	assert.ErrorContains(t, err, "502")
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, NewLogSink(nil).Deliver(context.Background(), Notification{ResourceID: "C1"}))
}
