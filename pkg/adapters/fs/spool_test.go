package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/reindex/pkg/core"
)

func event(typeName, id string) core.IndexingEvent {
	return core.NewIndexingEvent(core.CommandAddOrUpdate, typeName, id, core.DocumentRoutes{}, core.Dirtiness{ForceSelf: true})
}

func newTestSpool(t *testing.T) *Spool {
	t.Helper()
	s, err := NewSpool(SpoolConfig{Dir: filepath.Join(t.TempDir(), "spool")})
	require.NoError(t, err)
	return s
}

func TestSpool_SendReadAck(t *testing.T) {
	s := newTestSpool(t)
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, []core.IndexingEvent{event("book", "1"), event("book", "2")}))
	require.NoError(t, s.Send(ctx, []core.IndexingEvent{event("book", "3")}))
	require.NoError(t, s.Send(ctx, nil))

	names, err := s.Pending()
	require.NoError(t, err)
	require.Len(t, names, 2)

	first, err := s.Read(names[0])
	require.NoError(t, err)
	require.Len(t, first.Events, 2)
	assert.Equal(t, "1", first.Events[0].DocumentID)
	assert.True(t, first.Events[0].Dirty.ForceSelf)

	require.NoError(t, s.Ack(names[0]))
	names, err = s.Pending()
	require.NoError(t, err)
	require.Len(t, names, 1)

	state := s.State().(SpoolState)
	assert.Equal(t, 2, state.Sent)
	assert.Equal(t, 3, state.Events)
	assert.Equal(t, 1, state.Acked)
	assert.Equal(t, 1, state.Pending)
}

func TestSpool_PendingSkipsForeignFiles(t *testing.T) {
	s := newTestSpool(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), TempFilePrefix+"batch-1.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0644))

	names, err := s.Pending()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSpool_Reject(t *testing.T) {
	s := newTestSpool(t)
	require.NoError(t, s.Send(context.Background(), []core.IndexingEvent{event("book", "1")}))
	names, _ := s.Pending()
	require.Len(t, names, 1)

	require.NoError(t, s.Reject(names[0]))
	pending, _ := s.Pending()
	assert.Empty(t, pending)
	_, err := os.Stat(filepath.Join(s.Dir(), rejectedDir, names[0]))
	assert.NoError(t, err)
}

func TestSpool_SendHonorsCancellation(t *testing.T) {
	s := newTestSpool(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, []core.IndexingEvent{event("book", "1")}), context.Canceled)
}
