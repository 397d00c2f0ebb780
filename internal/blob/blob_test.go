package blob

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := Open("", "http://localhost:8000/", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBadgerStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	obj, err := store.Put(ctx, "chats/a_b/m1/foto final.png", "image/png", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "chats/a_b/m1/foto final.png", obj.Path)
	assert.Equal(t, "http://localhost:8000/uploads/chats/a_b/m1/foto%20final.png", obj.URL)
	assert.EqualValues(t, 9, obj.Size)

	got, data, err := store.Get(ctx, "chats/a_b/m1/foto final.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", got.ContentType)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestBadgerStore_DefaultContentType(t *testing.T) {
	store := newTestStore(t)
	obj, err := store.Put(context.Background(), "x.bin", "", []byte{1})
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", obj.ContentType)
}

func TestBadgerStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Put(ctx, "a/b.txt", "text/plain", []byte("hi"))
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "a/b.txt"))

	_, _, err = store.Get(ctx, "a/b.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "a/b.txt"), ErrNotFound)
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a/b.png", "a/b.png", false},
		{"/a//b.png", "a/b.png", false},
		{"a/./b.png", "a/b.png", false},
		{"", "", true},
		{"/", "", true},
		{"../etc/passwd", "", true},
		{"a/../../b", "", true},
		{"a\\b", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanPath(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
