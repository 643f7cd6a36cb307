// Package downloader defines the contract for external download tools and
// the shared logic for locating the files they leave on disk.
package downloader

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.curlew.xyz/recommand/fileutil"
)

var ErrNoFiles = errors.New("downloader: no files produced")

const (
	DefaultUID = 1000
	DefaultGID = 1000
)

// Request identifies what a backend should fetch. Link is the catalog URL
// the backend is driven with; the remaining fields exist so that file
// discovery can fall back to name matching when the tool's own output is
// unusable.
type Request struct {
	Artist string
	Title  string
	Album  string
	Link   string
}

type Backend interface {
	DownloadTrack(ctx context.Context, req Request, dir string) (string, error)
	DownloadAlbum(ctx context.Context, req Request, dir string) ([]string, error)
	String() string
}

type audioFile struct {
	path string
	name string
	mod  time.Time
}

func listAudio(dir string) []audioFile {
	var found []audioFile
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !fileutil.IsAudio(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		found = append(found, audioFile{path: path, name: d.Name(), mod: info.ModTime()})
		return nil
	})
	slices.SortFunc(found, func(a, b audioFile) int {
		return b.mod.Compare(a.mod)
	})
	return found
}

func matchKey(s string) string {
	return strings.ToLower(fileutil.Sanitize(s))
}

// FindTrackFile scans dir for the file a track download produced, newest
// first. It prefers a filename containing both artist and title, then a
// title-only match modified in the last minute, then any audio file
// modified in the last thirty seconds.
func FindTrackFile(dir, artist, title string) (string, bool) {
	files := listAudio(dir)
	wantArtist, wantTitle := matchKey(artist), matchKey(title)

	for _, f := range files {
		name := matchKey(f.name)
		if strings.Contains(name, wantArtist) && strings.Contains(name, wantTitle) {
			return f.path, true
		}
	}

	now := time.Now()
	for _, f := range files {
		if now.Sub(f.mod) > time.Minute {
			continue
		}
		if strings.Contains(matchKey(f.name), wantTitle) {
			return f.path, true
		}
	}

	if len(files) > 0 && now.Sub(files[0].mod) < 30*time.Second {
		return files[0].path, true
	}
	return "", false
}

// FindAlbumDir looks for a top level directory of dir whose name contains
// both the artist and album names.
func FindAlbumDir(dir, artist, album string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	wantArtist, wantAlbum := matchKey(artist), matchKey(album)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if strings.Contains(name, wantArtist) && strings.Contains(name, wantAlbum) {
			return filepath.Join(dir, entry.Name()), true
		}
	}
	return "", false
}

// FirstAudioDir returns the first subdirectory of root, in walk order, that
// directly contains audio files. The root itself is never returned.
func FirstAudioDir(root string) (string, bool) {
	var found string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if parent := filepath.Dir(path); parent != filepath.Clean(root) && fileutil.IsAudio(path) {
			found = parent
			return fs.SkipAll
		}
		return nil
	})
	return found, found != ""
}

// FixOwnership recursively chowns dir so the produced files are usable by
// the media library user instead of the worker process user.
func FixOwnership(dir string, uid, gid int) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := os.Chown(path, uid, gid); err != nil {
			return err
		}
		return nil
	})
}
