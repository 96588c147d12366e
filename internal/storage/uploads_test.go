package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Brownie44l1/crop-disease-api/internal/errors"
	"github.com/Brownie44l1/crop-disease-api/internal/logging"
)

func TestNewUploads_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "uploads")

	u, err := NewUploads(dir, logging.Discard())
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, dir, u.Dir())

	// second call finds the existing directory
	_, err = NewUploads(dir, logging.Discard())
	require.NoError(t, err)
}

func TestNewUploads_PathIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploads")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	_, err := NewUploads(path, logging.Discard())
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindStorage))
}

func TestSave_WritesUniqueFiles(t *testing.T) {
	u, err := NewUploads(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	first, err := u.Save("tomato leaf.JPG", strings.NewReader("one"))
	require.NoError(t, err)
	second, err := u.Save("tomato leaf.JPG", strings.NewReader("two"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, u.Dir(), filepath.Dir(first))
	assert.Equal(t, ".jpg", filepath.Ext(first))

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
}

func TestSave_IgnoresClientPath(t *testing.T) {
	u, err := NewUploads(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	path, err := u.Save("../../etc/passwd", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, u.Dir(), filepath.Dir(path))
	assert.Equal(t, "", filepath.Ext(path))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestSave_RemovesPartialFile(t *testing.T) {
	u, err := NewUploads(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	_, err = u.Save("leaf.png", failingReader{})
	require.Error(t, err)

	entries, err := os.ReadDir(u.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSafeExt(t *testing.T) {
	tests := map[string]string{
		"leaf.png":          ".png",
		"LEAF.JPEG":         ".jpeg",
		"noext":             "",
		"weird.p$g":         "",
		"archive.verylongx": "",
		"dir/leaf.webp":     ".webp",
		".":                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeExt(in), in)
	}
}
