package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTranscript() *Transcript {
	tr := New("run-1", "add a README")
	tr.AddMessage(Message{Role: RoleUser, Content: "add a README"})
	tr.AddMessage(Message{Role: RoleAssistant, Content: "💽 README.md"})
	tr.Finish("tasks_complete", nil)
	return tr
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleTranscript()))

	got, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "add a README", got.Request)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, "tasks_complete", got.StopReason)
	assert.False(t, got.FinishedAt.IsZero())
}

func TestFileStoreMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Load(context.Background(), "nope")
	assert.Error(t, err)
}

func TestTranscriptFinishRecordsError(t *testing.T) {
	tr := New("run-2", "x")
	tr.Finish("", errors.New("boom"))
	assert.Equal(t, "boom", tr.Error)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, WithPrefix("test:"), WithTTL(time.Minute))
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleTranscript()))

	got, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "add a README", got.Request)
	assert.Len(t, got.Messages, 2)

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, names)

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "redis.go:")
	assert.Contains(t, err.Error(), "transcript missing")

	mr.FastForward(2 * time.Minute)
	names, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}
