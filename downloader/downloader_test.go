package downloader_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.curlew.xyz/recommand/downloader"
)

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestFindTrackFileStrictMatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old := time.Now().Add(-time.Hour)
	touch(t, filepath.Join(dir, "Some Artist - Some Song.mp3"), old)
	touch(t, filepath.Join(dir, "Other Artist - Other Song.mp3"), old)
	touch(t, filepath.Join(dir, "notes.txt"), old)

	path, ok := downloader.FindTrackFile(dir, "Some Artist", "Some Song")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "Some Artist - Some Song.mp3"), path)
}

func TestFindTrackFileTitleOnlyRecent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, filepath.Join(dir, "01 - Some Song.flac"), time.Now())
	touch(t, filepath.Join(dir, "01 - Stale Song.flac"), time.Now().Add(-time.Hour))

	path, ok := downloader.FindTrackFile(dir, "Some Artist", "Some Song")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "01 - Some Song.flac"), path)

	// a title only match is not trusted once the file has gone stale
	_, ok = downloader.FindTrackFile(dir, "Some Artist", "Stale Song")
	assert.False(t, ok)
}

func TestFindTrackFileNewestFallback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, filepath.Join(dir, "sub", "mystery.mp3"), time.Now())

	path, ok := downloader.FindTrackFile(dir, "Some Artist", "Some Song")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "sub", "mystery.mp3"), path)
}

func TestFindTrackFileEmpty(t *testing.T) {
	t.Parallel()

	_, ok := downloader.FindTrackFile(t.TempDir(), "a", "b")
	assert.False(t, ok)
}

func TestFindAlbumDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Some Artist - Some Album (Deluxe)"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Some Artist - Other Album"), 0o755))
	touch(t, filepath.Join(dir, "Some Artist - Some Album.mp3"), time.Now())

	path, ok := downloader.FindAlbumDir(dir, "some artist", "SOME ALBUM")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "Some Artist - Some Album (Deluxe)"), path)

	_, ok = downloader.FindAlbumDir(dir, "some artist", "missing album")
	assert.False(t, ok)
}

func TestFirstAudioDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	// audio directly in the root doesn't count
	touch(t, filepath.Join(dir, "loose.mp3"), time.Now())
	touch(t, filepath.Join(dir, "album", "cover.jpg"), time.Now())
	touch(t, filepath.Join(dir, "album", "01 track.flac"), time.Now())

	path, ok := downloader.FirstAudioDir(dir)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "album"), path)

	_, ok = downloader.FirstAudioDir(t.TempDir())
	assert.False(t, ok)
}
