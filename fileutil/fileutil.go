package fileutil

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/rainycape/unidecode"
)

func GlobEscape(path string) string {
	var r strings.Builder
	for _, c := range path {
		switch c {
		case '*', '?', '[':
			r.WriteRune('[')
			r.WriteRune(c)
			r.WriteRune(']')
		default:
			r.WriteRune(c)
		}
	}
	return r.String()
}

func GlobBase(dir, pattern string) ([]string, error) {
	return filepath.Glob(filepath.Join(GlobEscape(dir), pattern))
}

var safePathReplacer = strings.NewReplacer(
	"\x00", "",
	":", "",
	string(filepath.Separator), " ",
)

// SafePath renders a string usable as a single path element.
func SafePath(path string) string {
	path = unidecode.Unidecode(path)
	path = safePathReplacer.Replace(path)
	path = strings.Join(strings.Fields(path), " ")
	return path
}

var sanitizeReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", "*", "_", "?", "_",
	":", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
)

// Sanitize maps a name onto the filename a downloader backend would have
// produced for it, for locating output directories on disk.
func Sanitize(name string) string {
	return strings.TrimSpace(sanitizeReplacer.Replace(name))
}

var audioExtensions = map[string]struct{}{
	".mp3": {}, ".flac": {}, ".m4a": {}, ".aac": {}, ".ogg": {}, ".wma": {},
}

func IsAudio(path string) bool {
	_, ok := audioExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// FindAudio walks dir and returns all audio file paths beneath it.
func FindAudio(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsAudio(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}
