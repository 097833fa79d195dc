package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/ragindex/internal/config"
	"github.com/54b3r/ragindex/internal/store"
)

func newTestFileStore(t *testing.T, maxMB int) (*LocalFileStore, string) {
	t.Helper()
	dir := t.TempDir()
	return NewLocalFileStore(config.FilesConfig{
		Dir:               dir,
		MaxSizeMB:         maxMB,
		AllowedExtensions: []string{".txt", "md"},
	}, quietLogger()), dir
}

func TestLocalFileStore_SaveAndRead(t *testing.T) {
	t.Parallel()
	fs, dir := newTestFileStore(t, 1)
	ctx := context.Background()

	sf, err := fs.Save(ctx, "p1", "my notes.txt", strings.NewReader("hello chunks"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sf.FileID, "_mynotes.txt"))
	assert.Len(t, sf.FileID, fileKeyLength+len("_mynotes.txt"))
	assert.Equal(t, int64(len("hello chunks")), sf.Size)
	assert.Equal(t, filepath.Join(dir, "p1", sf.FileID), sf.Path)

	data, err := fs.ReadContent(ctx, "p1", sf.FileID)
	require.NoError(t, err)
	assert.Equal(t, "hello chunks", string(data))
	assert.Equal(t, "mynotes.txt", InferMetadata(sf.FileID).Source)
}

func TestLocalFileStore_UniqueIDs(t *testing.T) {
	t.Parallel()
	fs, _ := newTestFileStore(t, 1)
	ctx := context.Background()
	a, err := fs.Save(ctx, "p1", "same.md", strings.NewReader("a"))
	require.NoError(t, err)
	b, err := fs.Save(ctx, "p1", "same.md", strings.NewReader("b"))
	require.NoError(t, err)
	assert.NotEqual(t, a.FileID, b.FileID)
}

func TestLocalFileStore_Validation(t *testing.T) {
	t.Parallel()
	fs, dir := newTestFileStore(t, 1)
	ctx := context.Background()

	_, err := fs.Save(ctx, "p1", "image.png", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrUnsupportedType)

	require.ErrorIs(t, fs.Validate("big.txt", 2<<20), ErrFileTooLarge)

	_, err = fs.Save(ctx, "p1", "big.txt", strings.NewReader(strings.Repeat("x", (1<<20)+1)))
	require.ErrorIs(t, err, ErrFileTooLarge)
	entries, err := os.ReadDir(filepath.Join(dir, "p1"))
	require.NoError(t, err)
	assert.Empty(t, entries, "oversized upload must not be left on disk")

	_, err = fs.Save(ctx, "../escape", "a.txt", strings.NewReader("x"))
	require.Error(t, err)
}

func TestLocalFileStore_ReadMissing(t *testing.T) {
	t.Parallel()
	fs, _ := newTestFileStore(t, 1)
	ctx := context.Background()

	data, err := fs.ReadContent(ctx, "p1", "000000000000_missing.txt")
	require.NoError(t, err)
	assert.Nil(t, data)

	_, err = fs.ReadContent(ctx, "p1", "../other/file.txt")
	require.Error(t, err)
}

func TestUploader_RegistersAsset(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	up, err := NewUploader(f.files, f.store, quietLogger())
	require.NoError(t, err)
	ctx := context.Background()

	sf, err := up.Upload(ctx, "p9", "guide.md", -1, strings.NewReader("# Title\n\nbody"))
	require.NoError(t, err)

	p, err := f.store.GetProject(ctx, "p9")
	require.NoError(t, err)
	a, err := f.store.GetAssetByName(ctx, p.ID, sf.FileID)
	require.NoError(t, err)
	assert.Equal(t, sf.Size, a.Size)
	assert.Equal(t, store.AssetTypeFile, a.Type)

	content, err := f.files.ReadContent(ctx, "p9", sf.FileID)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nbody", string(content))

	_, err = up.Upload(ctx, "p9", "binary.exe", 10, strings.NewReader("x"))
	require.ErrorIs(t, err, ErrUnsupportedType)
	_, err = up.Upload(ctx, "p9", "big.txt", 2<<20, strings.NewReader("x"))
	require.ErrorIs(t, err, ErrFileTooLarge)
}
