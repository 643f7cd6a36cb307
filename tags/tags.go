// tags wraps audiotags to stamp downloaded files with their resolved
// metadata and the comment marker of the recommendation source that
// produced them.
package tags

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/sentriz/audiotags"
)

var ErrWrite = errors.New("error writing tags")

const (
	Album         = "album"
	AlbumArtist   = "albumartist"
	Artist        = "artist"
	Title         = "title"
	Date          = "date" //tag: alts "year"
	Genre         = "genre"
	TrackNumber   = "tracknumber" //tag: alts "track"
	Comment       = "comment"
	MBRecordingID = "musicbrainz_trackid"
)

var alternatives = map[string]string{
	"year":  Date,
	"track": TrackNumber,
}

func CanRead(absPath string) bool {
	switch ext := strings.ToLower(filepath.Ext(absPath)); ext {
	case ".mp3", ".flac", ".aac", ".m4a", ".ogg", ".wma":
		return true
	}
	return false
}

type File struct {
	raw  map[string][]string
	file *audiotags.File
	path string
}

func Read(path string) (*File, error) {
	f, err := audiotags.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	raw := f.ReadTags()
	normalise(raw, alternatives)

	return &File{raw: raw, file: f, path: path}, nil
}

func (f *File) Read(t string) string        { return first(f.raw[t]) }
func (f *File) ReadNum(t string) int        { return anyNum(first(f.raw[t])) }
func (f *File) ReadTime(t string) time.Time { return anyTime(first(f.raw[t])) }

func (f *File) Write(t string, v ...string) {
	v = deleteZero(v)
	if len(v) == 0 {
		delete(f.raw, t)
		return
	}
	f.raw[t] = v
}
func (f *File) WriteNum(t string, v int) { f.Write(t, intStr(v)) }

func (f *File) Clear(t string) { delete(f.raw, t) }

func (f *File) Save() error {
	if !f.file.WriteTags(f.raw) {
		return ErrWrite
	}
	return nil
}

func (f *File) Close() {
	f.file.Close()
}

func (f *File) Path() string {
	return f.path
}

func Write(path string, fn func(f *File) error) error {
	f, err := Read(path)
	if err != nil {
		return fmt.Errorf("read tag file: %w", err)
	}
	defer f.Close()

	before := maps.Clone(f.raw)
	if err := fn(f); err != nil {
		return err
	}

	// try avoid filesystem writes if we can
	if maps.EqualFunc(before, f.raw, slices.Equal) {
		return nil
	}

	if err := f.Save(); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// Metadata is the resolved tuple stamped onto one downloaded file.
type Metadata struct {
	Artist        string
	Title         string
	Album         string
	ReleaseDate   string
	RecordingMBID string
	Marker        string
	TrackNumber   int
}

// WriteMetadata applies the metadata to a file, overwriting the fields it
// owns and leaving everything else alone. Empty fields clear their tag.
func WriteMetadata(path string, m Metadata) error {
	return Write(path, func(f *File) error {
		f.Write(Artist, m.Artist)
		f.Write(AlbumArtist, m.Artist)
		f.Write(Title, m.Title)
		f.Write(Album, m.Album)
		f.Write(Date, formatDate(m.ReleaseDate))
		f.Write(Comment, m.Marker)
		f.Write(MBRecordingID, m.RecordingMBID)
		if m.TrackNumber > 0 {
			f.WriteNum(TrackNumber, m.TrackNumber)
		}
		return nil
	})
}

// formatDate folds whatever date shape a provider handed us into
// YYYY-MM-DD, or passes it through untouched if it can't be parsed.
func formatDate(date string) string {
	if date == "" {
		return ""
	}
	t, err := dateparse.ParseAny(date)
	if err != nil {
		return date
	}
	return t.Format(time.DateOnly)
}

func first(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

var numExpr = regexp.MustCompile(`\d+`)

func anyNum(in string) int {
	match := numExpr.FindString(in)
	i, _ := strconv.Atoi(match)
	return i
}

func anyTime(str string) time.Time {
	t, _ := dateparse.ParseAny(str)
	return t
}

func normalise(raw map[string][]string, alternatives map[string]string) {
	for kbad, kgood := range alternatives {
		if _, ok := raw[kgood]; ok {
			continue
		}
		if v, ok := raw[kbad]; ok {
			raw[kgood] = v
			delete(raw, kbad)
			continue
		}
	}
}

func deleteZero[T comparable](elms []T) []T {
	var zero T
	return slices.DeleteFunc(elms, func(t T) bool { return t == zero })
}
