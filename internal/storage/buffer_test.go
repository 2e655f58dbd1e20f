package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffered_CoalescesChunks(t *testing.T) {
	inner := &fakeBackend{name: "b"}
	buf := NewBuffered(inner, nil)
	ctx := context.Background()

	w, err := buf.Write(ctx, "/f")
	require.NoError(t, err)

	for _, chunk := range []string{"ab", "cd", "ef"} {
		n, err := w.Write(ctx, []byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}

	assert.Empty(t, inner.writes, "nothing reaches the backend before Close")

	md, err := w.Close(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/f", md.Path)

	require.Len(t, inner.writes, 1)
	assert.Equal(t, "abcdef", string(inner.writes[0]))
	assert.Equal(t, 1, inner.closes)
	assert.Zero(t, inner.aborts)
}

func TestBuffered_EmptyPayloadStillWrites(t *testing.T) {
	inner := &fakeBackend{}
	w, err := NewBuffered(inner, nil).Write(context.Background(), "/empty")
	require.NoError(t, err)

	_, err = w.Close(context.Background())
	require.NoError(t, err)

	require.Len(t, inner.writes, 1)
	assert.Empty(t, inner.writes[0])
	assert.Equal(t, 1, inner.closes)
}

func TestBuffered_AbortSendsNothing(t *testing.T) {
	inner := &fakeBackend{}
	w, err := NewBuffered(inner, nil).Write(context.Background(), "/f")
	require.NoError(t, err)

	_, _ = w.Write(context.Background(), []byte("abc"))
	require.NoError(t, w.Abort(context.Background()))

	assert.Empty(t, inner.writes)
	assert.Zero(t, inner.closes)
	assert.Equal(t, 1, inner.aborts)

	_, err = w.Write(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrWriterClosed)
	_, err = w.Close(context.Background())
	require.ErrorIs(t, err, ErrWriterClosed)
}

func TestBuffered_WriteFailureAbortsAndSkipsClose(t *testing.T) {
	boom := errors.New("upload failed")
	inner := &fakeBackend{writeErr: boom}

	w, err := NewBuffered(inner, nil).Write(context.Background(), "/f")
	require.NoError(t, err)

	_, _ = w.Write(context.Background(), []byte("abc"))

	_, err = w.Close(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Zero(t, inner.closes)
	assert.Equal(t, 1, inner.aborts)

	_, err = w.Close(context.Background())
	require.ErrorIs(t, err, ErrWriterClosed)
}

func TestBuffered_ClosePropagatesInnerCloseError(t *testing.T) {
	boom := errors.New("close failed")
	inner := &fakeBackend{closeErr: boom}

	w, err := NewBuffered(inner, nil).Write(context.Background(), "/f")
	require.NoError(t, err)

	_, err = w.Close(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Len(t, inner.writes, 1)
}

func TestBuffered_PassesThrough(t *testing.T) {
	inner := &fakeBackend{name: "b"}
	buf := NewBuffered(inner, nil)
	ctx := context.Background()

	_, _ = buf.Read(ctx, "/r", Range{})
	_, _ = buf.Stat(ctx, "/s")
	_, _ = buf.List(ctx, "/l")
	_ = buf.Delete(ctx, "/d")
	_ = buf.CreateDir(ctx, "/m")
	_ = buf.Rename(ctx, "/x", "/y")

	assert.Equal(t, []string{
		"read /r", "stat /s", "list /l", "delete /d", "mkdir /m", "rename /x /y",
	}, inner.Calls())
}
