package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStorage(LocalConfig{BasePath: dir, URLPrefix: "/files/"})
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "images/a.png", strings.NewReader("png"), 3, "image/png"))

	data, err := os.ReadFile(filepath.Join(dir, "images", "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	ok, err := s.Exists(ctx, "images/a.png")
	require.NoError(t, err)
	assert.True(t, ok)

	url, err := s.GetURL(ctx, "images/a.png", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "/files/images/a.png", url)

	require.NoError(t, s.Delete(ctx, "images/a.png"))
	require.NoError(t, s.Delete(ctx, "images/a.png"))
	ok, err = s.Exists(ctx, "images/a.png")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.GetURL(ctx, "images/a.png", time.Hour)
	assert.Error(t, err)
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "/uploads", s.URLPrefix())

	err = s.Write(context.Background(), "../escape.txt", strings.NewReader("x"), 1, "text/plain")
	assert.Error(t, err)
}

func TestNewUnsupportedBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "ftp"})
	var unsupported *UnsupportedBackendError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "ftp", unsupported.Backend)
}
