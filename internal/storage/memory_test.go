package storage

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMem(t *testing.T, m *Memory, p string, chunks ...string) Metadata {
	t.Helper()

	w, err := m.Write(context.Background(), p)
	require.NoError(t, err)

	for _, c := range chunks {
		_, err := w.Write(context.Background(), []byte(c))
		require.NoError(t, err)
	}

	md, err := w.Close(context.Background())
	require.NoError(t, err)

	return md
}

func readMem(t *testing.T, m *Memory, p string, r Range) string {
	t.Helper()

	rc, err := m.Read(context.Background(), p, r)
	require.NoError(t, err)
	defer rc.Close()

	b, err := io.ReadAll(rc)
	require.NoError(t, err)

	return string(b)
}

func TestMemory_WriteReadAppendChunks(t *testing.T) {
	m := NewMemory(nil)

	md := writeMem(t, m, "/d/._x", "hello ", "world")
	assert.Equal(t, int64(11), md.Size)
	assert.Equal(t, "._x", md.Name)
	assert.NotEmpty(t, md.ETag)
	assert.False(t, md.ModTime.IsZero())

	assert.Equal(t, "hello world", readMem(t, m, "/d/._x", Range{}))
	assert.Equal(t, "world", readMem(t, m, "/d/._x", Range{Offset: 6}))
	assert.Equal(t, "lo w", readMem(t, m, "/d/._x", Range{Offset: 3, Length: 4}))
	assert.Empty(t, readMem(t, m, "/d/._x", Range{Offset: 50}))
}

func TestMemory_NotVisibleUntilClose(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	w, err := m.Write(ctx, "/f")
	require.NoError(t, err)
	_, _ = w.Write(ctx, []byte("x"))

	_, err = m.Stat(ctx, "/f")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, w.Abort(ctx))

	_, err = m.Stat(ctx, "/f")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ListMissingDirIsEmpty(t *testing.T) {
	m := NewMemory(nil)

	l, err := m.List(context.Background(), "/nowhere")
	require.NoError(t, err)

	entries, err := Collect(context.Background(), l)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemory_List(t *testing.T) {
	m := NewMemory(nil)
	writeMem(t, m, "/d/._b", "1")
	writeMem(t, m, "/d/._a", "22")

	l, err := m.List(context.Background(), "/d")
	require.NoError(t, err)

	entries, err := Collect(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, []string{"._a", "._b"}, sortedNames(entries))
}

func TestMemory_DeleteAndRename(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()
	writeMem(t, m, "/d/._a", "1")

	require.NoError(t, m.Rename(ctx, "/d/._a", "/e/._b"))
	assert.Equal(t, "1", readMem(t, m, "/e/._b", Range{}))

	_, err := m.Stat(ctx, "/d/._a")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Delete(ctx, "/e"))
	_, err = m.Stat(ctx, "/e/._b")
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, m.Delete(ctx, "/e"), ErrNotFound)
}

func TestMemory_CreateDir(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	require.NoError(t, m.CreateDir(ctx, "/x/y"))

	md, err := m.Stat(ctx, "/x/y")
	require.NoError(t, err)
	assert.True(t, md.IsDir)

	require.ErrorIs(t, m.CreateDir(ctx, "/x/y"), ErrExists)
}

func TestMemory_WriterSingleClose(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	w, err := m.Write(ctx, "/f")
	require.NoError(t, err)

	_, err = w.Close(ctx)
	require.NoError(t, err)

	_, err = w.Close(ctx)
	require.ErrorIs(t, err, ErrWriterClosed)
}
