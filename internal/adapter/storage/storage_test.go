package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStickerKey(t *testing.T) {
	tests := []struct {
		name      string
		stickerID string
		ext       string
		want      string
		wantErr   bool
	}{
		{"telegram unique id", "AgADxQADr8ZRGg", "webp", "stickers/AgADxQADr8ZRGg.webp", false},
		{"extension lowercased", "abc-_1", "WEBM", "stickers/abc-_1.webm", false},
		{"path traversal", "../etc/passwd", "webp", "", true},
		{"slash in id", "a/b", "webp", "", true},
		{"empty id", "", "webp", "", true},
		{"dotted extension", "abc", "tar.gz", "", true},
		{"empty extension", "abc", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StickerKey(tt.stickerID, tt.ext)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/webp", ContentType("stickers/a.webp"))
	assert.Equal(t, "video/webm", ContentType("stickers/a.webm"))
	assert.Equal(t, "application/x-tgsticker", ContentType("stickers/a.tgs"))
	assert.Equal(t, "application/octet-stream", ContentType("stickers/a"))
}

func TestLocalStore_PutOverwritesAndOpens(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	key, err := StickerKey("S1", "webp")
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, key, []byte("first")))
	require.NoError(t, store.Put(ctx, key, []byte("second")))

	data, err := os.ReadFile(filepath.Join(root, "stickers", "S1.webp"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	rc, err := store.Open(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "second", string(body))

	entries, err := os.ReadDir(filepath.Join(root, "stickers"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLocalStore_OpenReportsValidators(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "stickers/S1.webp", []byte("v1")))
	first, err := store.Open(ctx, "stickers/S1.webp")
	require.NoError(t, err)
	require.NoError(t, first.Close())
	assert.False(t, first.ModTime.IsZero())
	assert.Regexp(t, `^"[0-9a-f]+-[0-9a-f]+"$`, first.ETag)

	require.NoError(t, store.Put(ctx, "stickers/S1.webp", []byte("version two")))
	second, err := store.Open(ctx, "stickers/S1.webp")
	require.NoError(t, err)
	require.NoError(t, second.Close())
	assert.NotEqual(t, first.ETag, second.ETag)
}

func TestLocalStore_DeleteAndMissing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "stickers/S2.png", []byte("png")))
	require.NoError(t, store.Delete(ctx, "stickers/S2.png"))
	require.NoError(t, store.Delete(ctx, "stickers/S2.png"), "deleting twice is fine")

	_, err = store.Open(ctx, "stickers/S2.png")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_RejectsForeignKeys(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.ErrorIs(t, store.Put(ctx, "../escape.webp", []byte("x")), ErrInvalidKey)
	require.ErrorIs(t, store.Put(ctx, "stickers/../../escape.webp", []byte("x")), ErrInvalidKey)
	_, err = store.Open(ctx, "other/S1.webp")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestLocalStore_CancelledContext(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, store.Put(ctx, "stickers/S3.webp", []byte("x")), context.Canceled)
}

func TestLocalStore_Check(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Check(context.Background()))
}
