package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/reindex/pkg/core"
)

type recordingHandler struct {
	mu      sync.Mutex
	batches [][]core.IndexingEvent
	fail    func(events []core.IndexingEvent) error
}

func (h *recordingHandler) handle(_ context.Context, events []core.IndexingEvent) error {
	if h.fail != nil {
		if err := h.fail(events); err != nil {
			return err
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, events)
	return nil
}

func (h *recordingHandler) ids() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, b := range h.batches {
		for _, e := range b {
			out = append(out, e.DocumentID)
		}
	}
	return out
}

func TestProcessor_DrainInOrder(t *testing.T) {
	s := newTestSpool(t)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, s.Send(ctx, []core.IndexingEvent{event("book", id)}))
	}

	h := &recordingHandler{}
	p, err := NewProcessor(ProcessorConfig{Spool: s, Handler: h.handle})
	require.NoError(t, err)

	n, err := p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"1", "2", "3"}, h.ids())

	pending, _ := s.Pending()
	assert.Empty(t, pending)
	assert.Equal(t, 3, p.State().(ProcessorState).Processed)
}

func TestProcessor_FailureStopsThenRejects(t *testing.T) {
	s := newTestSpool(t)
	ctx := context.Background()
	require.NoError(t, s.Send(ctx, []core.IndexingEvent{event("book", "bad")}))
	require.NoError(t, s.Send(ctx, []core.IndexingEvent{event("book", "good")}))

	boom := errors.New("boom")
	h := &recordingHandler{fail: func(events []core.IndexingEvent) error {
		if events[0].DocumentID == "bad" {
			return boom
		}
		return nil
	}}
	p, err := NewProcessor(ProcessorConfig{Spool: s, Handler: h.handle, MaxAttempts: 2})
	require.NoError(t, err)

	n, err := p.Drain(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, n, "later batches wait behind the failing one")

	n, err = p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"good"}, h.ids())

	state := p.State().(ProcessorState)
	assert.Equal(t, 2, state.Failures)
	assert.Equal(t, "boom", state.LastError)
	assert.Equal(t, 1, s.State().(SpoolState).Rejected)
}

func TestProcessor_TypeFilterAndCorruptBatch(t *testing.T) {
	s := newTestSpool(t)
	ctx := context.Background()
	require.NoError(t, s.Send(ctx, []core.IndexingEvent{event("book", "1"), event("audit/log", "2")}))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "batch-0-corrupt.json"), []byte("nope"), 0644))

	h := &recordingHandler{}
	p, err := NewProcessor(ProcessorConfig{Spool: s, Handler: h.handle, Types: []string{"book", "author"}})
	require.NoError(t, err)

	n, err := p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"1"}, h.ids())
	assert.Equal(t, 1, s.State().(SpoolState).Rejected)
}

func TestProcessor_HandlerPanicIsAFailure(t *testing.T) {
	s := newTestSpool(t)
	require.NoError(t, s.Send(context.Background(), []core.IndexingEvent{event("book", "1")}))

	p, err := NewProcessor(ProcessorConfig{Spool: s, Handler: func(context.Context, []core.IndexingEvent) error {
		panic("kaboom")
	}})
	require.NoError(t, err)

	_, err = p.Drain(context.Background())
	assert.ErrorContains(t, err, "kaboom")
}

func TestProcessor_InvalidConfig(t *testing.T) {
	s := newTestSpool(t)
	_, err := NewProcessor(ProcessorConfig{Handler: (&recordingHandler{}).handle})
	assert.Error(t, err)
	_, err = NewProcessor(ProcessorConfig{Spool: s})
	assert.Error(t, err)
	_, err = NewProcessor(ProcessorConfig{Spool: s, Handler: (&recordingHandler{}).handle, Types: []string{"[unclosed"}})
	assert.Error(t, err)
}

func TestProcessor_WorkerPicksUpNewBatches(t *testing.T) {
	s := newTestSpool(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processed := make(chan core.IndexingEvent, 4)
	h := &recordingHandler{}
	p, err := NewProcessor(ProcessorConfig{
		Spool:        s,
		Handler:      h.handle,
		PollInterval: time.Hour,
		Debounce:     10 * time.Millisecond,
		Processed:    processed,
	})
	require.NoError(t, err)

	w := p.NewWorker()
	require.NoError(t, w.Start(ctx))
	waitForWatching(t, p, true)

	require.NoError(t, s.Send(ctx, []core.IndexingEvent{event("book", "7")}))

	select {
	case e := <-processed:
		assert.Equal(t, "7", e.DocumentID)
	case <-time.After(2 * time.Second):
		t.Fatal("batch was not processed")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, w.Stop(stopCtx))
	waitForWatching(t, p, false)
}

func waitForWatching(t *testing.T, p *Processor, expected bool) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		if p.State().(ProcessorState).Watching == expected {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for watching = %v", expected)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
