package events_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/indexpilot/indexpilot/internal/events"
)

type failSink struct {
	mu    sync.Mutex
	count int
}

func (f *failSink) Emit(ctx context.Context, e events.Event) error {
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
	return errors.New("fail")
}

func (f *failSink) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

type memDLQ struct {
	mu     sync.Mutex
	stored []events.Event
}

func (d *memDLQ) Store(ctx context.Context, e events.Event, attempts int, lastErr string) error {
	d.mu.Lock()
	d.stored = append(d.stored, e)
	d.mu.Unlock()
	return nil
}

func TestRetryExhaustsThenDLQ(t *testing.T) {
	s := &failSink{}
	dlq := &memDLQ{}
	d := events.NewDispatcher(events.Config{Retry: events.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}}, dlq, s)
	d.Dispatch(context.Background(), events.New("rebuild.failed", nil))
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dlq.mu.Lock()
		n := len(dlq.stored)
		dlq.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.attempts(); got != 2 {
		t.Fatalf("attempts=%d, want 2", got)
	}
	dlq.mu.Lock()
	defer dlq.mu.Unlock()
	if len(dlq.stored) != 1 {
		t.Fatalf("dlq stored=%d, want 1", len(dlq.stored))
	}
}

func TestWebhookSignature(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			t.Errorf("no body")
		}
		gotSig = r.Header.Get("X-IDXP-Signature")
	}))
	defer srv.Close()
	wh := events.NewWebhookSink(events.WebhookConfig{Enabled: true, Endpoint: srv.URL, Secret: "s"})
	require.NoError(t, wh.Emit(context.Background(), events.New("rebuild.completed", nil)))
	require.NotEmpty(t, gotSig)
	require.True(t, strings.HasPrefix(gotSig, "sha256="))
}

func TestNewAssignsIDAndTime(t *testing.T) {
	e := events.New("cycle.completed", map[string]int{"targets": 2})
	if e.ID == "" {
		t.Fatalf("missing id")
	}
	if e.Time.IsZero() {
		t.Fatalf("missing time")
	}
}

func TestDisabledSinksReturnNil(t *testing.T) {
	if s := events.NewWebhookSink(events.WebhookConfig{}); s != nil {
		t.Fatalf("expected nil webhook sink when disabled")
	}
	if s, err := events.NewRedisSink(events.RedisConfig{}); err != nil || s != nil {
		t.Fatalf("expected nil redis sink when disabled")
	}
	if s, err := events.NewKafkaSink(events.KafkaConfig{}); err != nil || s != nil {
		t.Fatalf("expected nil kafka sink when disabled")
	}
}
