package eventlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parkflow/internal/carpark"
	"github.com/roach88/parkflow/internal/store"
)

func TestLog_OffsetsStartAtZero(t *testing.T) {
	ctx := context.Background()
	l := NewMemory[string]("test")

	assert.Equal(t, int64(-1), l.LastOffset(), "empty log")

	for i, v := range []string{"a", "b", "c"} {
		off, err := l.Append(ctx, v)
		require.NoError(t, err)
		assert.Equal(t, int64(i), off)
	}
	assert.Equal(t, int64(2), l.LastOffset())
}

func TestLog_PartitionFromOffset(t *testing.T) {
	ctx := context.Background()
	l := NewMemory[carpark.RawRecord]("raw", WithPartitions(3))

	for i := 0; i < 6; i++ {
		_, err := l.Append(ctx, carpark.RawRecord{Fields: []string{"x"}})
		require.NoError(t, err)
	}

	entries, err := l.Read(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 6)
	for _, e := range entries {
		assert.Equal(t, int(e.Offset%3), e.Partition)
		assert.Equal(t, e.Offset, e.Value.Offset, "value is stamped with its offset")
		assert.Equal(t, e.Partition, e.Value.Partition)
	}
}

func TestLog_ReadFromMiddle(t *testing.T) {
	ctx := context.Background()
	l := NewMemory[int]("ints")
	for i := 0; i < 10; i++ {
		_, err := l.Append(ctx, i*10)
		require.NoError(t, err)
	}

	entries, err := l.Read(ctx, 7, 100)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 70, entries[0].Value)
	assert.Equal(t, int64(9), entries[2].Offset)

	entries, err = l.Read(ctx, 10, 100)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCursor_IndependentReaders(t *testing.T) {
	ctx := context.Background()
	l := NewMemory[string]("test", WithReadBatch(2))
	for _, v := range []string{"a", "b", "c", "d", "e"} {
		_, err := l.Append(ctx, v)
		require.NoError(t, err)
	}

	c1 := l.Cursor(0)
	c2 := l.Cursor(3)
	defer c1.Close()
	defer c2.Close()

	var got1 []string
	for i := 0; i < 5; i++ {
		e, err := c1.Next(ctx)
		require.NoError(t, err)
		got1 = append(got1, e.Value)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got1)

	e, err := c2.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "d", e.Value)
	assert.Equal(t, int64(4), c2.Position())
}

func TestCursor_ParksUntilAppend(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l := NewMemory[string]("test")
	c := l.Cursor(0)
	defer c.Close()

	got := make(chan Entry[string], 1)
	go func() {
		e, err := c.Next(ctx)
		if err == nil {
			got <- e
		}
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-got:
		t.Fatal("Next returned before anything was appended")
	default:
	}

	_, err := l.Append(ctx, "late")
	require.NoError(t, err)

	select {
	case e := <-got:
		assert.Equal(t, "late", e.Value)
		assert.Equal(t, int64(0), e.Offset)
	case <-time.After(time.Second):
		t.Fatal("parked cursor was not woken by append")
	}
}

func TestCursor_TryNextAtTail(t *testing.T) {
	ctx := context.Background()
	l := NewMemory[string]("test")
	c := l.Cursor(0)
	defer c.Close()

	_, ok, err := c.TryNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = l.Append(ctx, "x")
	require.NoError(t, err)

	e, ok, err := c.TryNext(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", e.Value)
}

func TestCursor_CloseReleasesParkedReader(t *testing.T) {
	l := NewMemory[string]("test")
	c := l.Cursor(0)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	c.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not release parked cursor")
	}
}

func TestCursor_ContextCancel(t *testing.T) {
	l := NewMemory[string]("test")
	c := l.Cursor(0)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLog_Entries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewMemory[int]("ints")
	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, i)
		require.NoError(t, err)
	}

	var got []int
	for e, err := range l.Entries(ctx, 1) {
		require.NoError(t, err)
		got = append(got, e.Value)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []int{1, 2}, got)
}

func TestLog_ClosedRejectsAppend(t *testing.T) {
	l := NewMemory[string]("test")
	l.Close()

	_, err := l.Append(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
}

type failingBackend struct {
	MemoryBackend
}

func (f *failingBackend) Append(context.Context, Record) error {
	return errors.New("disk full")
}

func TestLog_BackendFailureIsStorageError(t *testing.T) {
	ctx := context.Background()
	l, err := Open[string](ctx, "test", &failingBackend{}, JSONCodec[string]{})
	require.NoError(t, err)

	_, err = l.Append(ctx, "x")
	require.Error(t, err)
	assert.True(t, carpark.IsCode(err, carpark.ErrCodeStorage))
	assert.Equal(t, int64(-1), l.LastOffset(), "failed append does not consume an offset")
}

func TestLog_SQLiteResumesOffsets(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "log.db")

	st, err := store.Open(dbPath)
	require.NoError(t, err)

	l, err := Open[carpark.Event](ctx, "events", NewSQLiteBackend(st, "events"), JSONCodec[carpark.Event]{})
	require.NoError(t, err)
	for _, name := range []string{"Westgate", "Kirkgate"} {
		_, err := l.Append(ctx, carpark.Event{Name: name})
		require.NoError(t, err)
	}
	require.NoError(t, st.Close())

	st, err = store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	l, err = Open[carpark.Event](ctx, "events", NewSQLiteBackend(st, "events"), JSONCodec[carpark.Event]{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), l.LastOffset())

	off, err := l.Append(ctx, carpark.Event{Name: "Broadway"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), off, "offsets are never reused across restarts")

	entries, err := l.Read(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "Westgate", entries[0].Value.Name)
	assert.Equal(t, "Broadway", entries[2].Value.Name)
	assert.Equal(t, int64(2), entries[2].Value.Offset)
}
