// Package recommand aggregates music recommendations from several
// providers, resolves them against a download capable catalog, drives an
// external download backend, and reconciles the produced files back to
// verified track identities.
package recommand

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"go.senan.xyz/natcmp"

	"go.curlew.xyz/recommand/deezer"
	"go.curlew.xyz/recommand/downloader"
	"go.curlew.xyz/recommand/fileutil"
	"go.curlew.xyz/recommand/norm"
	"go.curlew.xyz/recommand/pathformat"
	"go.curlew.xyz/recommand/recs"
	"go.curlew.xyz/recommand/status"
	"go.curlew.xyz/recommand/tags"
)

var ErrNotFound = errors.New("not found on catalog")

// Config carries everything one orchestration call needs. It is built once
// at the process entry point; nothing here is re-read mid job.
type Config struct {
	Deezer      *deezer.Client
	Backend     downloader.Backend
	DownloadDir string
	LibraryDir  string
	PathFormat  *pathformat.Format
	Status      *status.Publisher
	Logger      *slog.Logger
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) publish(state status.State, message, title string, current, total int) {
	if c.Status == nil {
		return
	}
	if err := c.Status.Publish(state, message, title, current, total); err != nil {
		c.logger().Warn("publish status", "state", state, "err", err)
	}
}

// DownloadTrack runs one track job end to end. The item is resolved to a
// catalog track, fetched through the backend, and the produced file handed
// to the tagging collaborator. An item the catalog can't resolve fails
// with ErrNotFound.
func DownloadTrack(ctx context.Context, cfg *Config, item recs.Item) (string, error) {
	track, err := cfg.Deezer.TrackDetails(ctx, item.Artist, item.Title)
	switch {
	case errors.Is(err, deezer.ErrNoResults), errors.Is(err, deezer.ErrNoDetails):
		return "", fmt.Errorf("%w: %s", ErrNotFound, item)
	case err != nil:
		return "", fmt.Errorf("resolve track: %w", err)
	}

	// adopt canonical detail from the resolved record
	if track.Album.Title != "" {
		item.Album = track.Album.Title
	}
	if track.ReleaseDate != "" {
		item.ReleaseDate = track.ReleaseDate
	}
	if art := track.Album.CoverURL(); art != "" {
		item.AlbumArt = art
	}

	req := downloader.Request{Artist: item.Artist, Title: item.Title, Album: item.Album, Link: track.Link}
	path, err := cfg.Backend.DownloadTrack(ctx, req, cfg.DownloadDir)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", item, err)
	}

	saveCover(ctx, cfg, item.AlbumArt, filepath.Dir(path))
	tagFile(cfg, path, tags.Metadata{
		Artist:        item.Artist,
		Title:         item.Title,
		Album:         item.Album,
		ReleaseDate:   item.ReleaseDate,
		RecordingMBID: item.RecordingMBID,
		Marker:        item.Source.Marker(),
	})
	return path, nil
}

// DownloadAlbum resolves an album, fetches it, reconciles the produced
// files against the catalog tracklist, and tags every file. Files come
// back in natural order. A file the tracklist can't account for keeps a
// cleaned version of its filename as its title rather than being dropped.
func DownloadAlbum(ctx context.Context, cfg *Config, item recs.Item) ([]string, error) {
	match, err := cfg.Deezer.FindAlbum(ctx, item.Artist, item.Album)
	switch {
	case errors.Is(err, deezer.ErrNoResults):
		return nil, fmt.Errorf("%w: %s - %s", ErrNotFound, item.Artist, item.Album)
	case err != nil:
		return nil, fmt.Errorf("resolve album: %w", err)
	}

	album := match.Album
	if album.Artist.Name != "" {
		item.Artist = album.Artist.Name
	}
	if album.Title != "" {
		item.Album = album.Title
	}
	if album.ReleaseDate != "" {
		item.ReleaseDate = album.ReleaseDate
	}
	if art := album.CoverURL(); art != "" {
		item.AlbumArt = art
	}

	req := downloader.Request{Artist: item.Artist, Album: item.Album, Link: album.Link}
	files, err := cfg.Backend.DownloadAlbum(ctx, req, cfg.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("fetch %s - %s: %w", item.Artist, item.Album, err)
	}

	if len(files) > 0 {
		saveCover(ctx, cfg, item.AlbumArt, filepath.Dir(files[0]))
	}

	tracks, err := cfg.Deezer.AlbumTracks(ctx, album.ID)
	if err != nil {
		// reconciliation degrades to filename cleanup, the files are kept
		cfg.logger().WarnContext(ctx, "fetch album tracklist", "album", item.Album, "err", err)
	}
	titles := make(map[string]string, len(tracks))
	for _, t := range tracks {
		titles[norm.Normalize(t.Title)] = t.Title
	}

	slices.SortFunc(files, natcmp.Compare)

	for i, path := range files {
		title, matched := reconcileTitle(path, item.Artist, titles)
		if !matched {
			cfg.logger().WarnContext(ctx, "file has no tracklist match, keeping cleaned filename",
				"path", filepath.Base(path), "title", title)
		}
		tagFile(cfg, path, tags.Metadata{
			Artist:      item.Artist,
			Title:       title,
			Album:       item.Album,
			ReleaseDate: item.ReleaseDate,
			Marker:      item.Source.Marker(),
			TrackNumber: i + 1,
		})
	}
	return files, nil
}

// tag write failures degrade the file's labeling, never the job
func tagFile(cfg *Config, path string, meta tags.Metadata) {
	if err := tags.WriteMetadata(path, meta); err != nil {
		cfg.logger().Warn("write tags", "path", path, "err", err)
	}
}

// saveCover downloads the resolved cover art into dir as a sidecar file,
// the form library servers pick up. An existing cover is left alone, and
// any failure degrades the cover only, never the job.
func saveCover(ctx context.Context, cfg *Config, coverURL, dir string) {
	if coverURL == "" || dir == "" {
		return
	}
	dest := filepath.Join(dir, "cover"+coverExt(coverURL))
	if _, err := os.Stat(dest); err == nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
	if err != nil {
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cfg.logger().WarnContext(ctx, "download cover", "url", coverURL, "err", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		cfg.logger().WarnContext(ctx, "download cover", "url", coverURL, "status", resp.StatusCode)
		return
	}

	out, err := os.Create(dest)
	if err != nil {
		cfg.logger().WarnContext(ctx, "write cover", "dest", dest, "err", err)
		return
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		_ = os.Remove(dest)
		cfg.logger().WarnContext(ctx, "write cover", "dest", dest, "err", err)
		return
	}
	if err := out.Close(); err != nil {
		cfg.logger().WarnContext(ctx, "write cover", "dest", dest, "err", err)
	}
}

func coverExt(coverURL string) string {
	u, err := url.Parse(coverURL)
	if err != nil {
		return ".jpg"
	}
	if ext := path.Ext(u.Path); ext != "" {
		return ext
	}
	return ".jpg"
}

var (
	trackNumPrefix = regexp.MustCompile(`^\d+\s*[-–—.]\s*`)
	danglingDash   = regexp.MustCompile(`^\s*[-–—]\s*`)
)

// reconcileTitle maps a downloaded file back to a canonical title from the
// provider tracklist, keyed by normalized title. It tries a direct lookup,
// then a lookup with track number and artist prefixes stripped, then
// substring containment in either direction, and finally falls back to the
// cleaned filename with ok false. The caller keeps the file either way.
func reconcileTitle(path, artist string, titles map[string]string) (title string, ok bool) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if title, ok := titles[norm.Normalize(base)]; ok {
		return title, true
	}

	stripped := trackNumPrefix.ReplaceAllString(base, "")
	stripped = stripArtistPrefix(stripped, artist)
	stripped = strings.Trim(stripped, " -_.")

	key := norm.Normalize(stripped)
	if title, ok := titles[key]; ok {
		return title, true
	}
	if key != "" {
		for titleKey, title := range titles {
			if strings.Contains(titleKey, key) || strings.Contains(key, titleKey) {
				return title, true
			}
		}
	}

	fallback := trackNumPrefix.ReplaceAllString(base, "")
	fallback = danglingDash.ReplaceAllString(fallback, "")
	fallback = stripArtistPrefix(fallback, artist)
	fallback = strings.Trim(fallback, " -.")
	if fallback == "" {
		fallback = base
	}
	return fallback, false
}

func stripArtistPrefix(s, artist string) string {
	if artist == "" {
		return s
	}
	expr := regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(artist) + `\s*[-–—_.]?\s*`)
	return expr.ReplaceAllString(s, "")
}

// ProcessRecommendations downloads a batch of track recommendations as one
// job, publishing progress along the way. Per item failures are logged and
// skipped; the returned count is the number of tracks that made it to
// disk. Only context cancellation aborts the batch.
func ProcessRecommendations(ctx context.Context, cfg *Config, title string, items []recs.Item) (int, error) {
	items = recs.Dedup(items)
	total := len(items)
	cfg.publish(status.StatePending, fmt.Sprintf("Starting download of %d tracks.", total), title, 0, total)

	var done int
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		cfg.publish(status.StateResolving, fmt.Sprintf("Resolving %s.", item), title, done, total)
		cfg.publish(status.StateFetching, fmt.Sprintf("Fetching %s.", item), title, done, total)
		path, err := DownloadTrack(ctx, cfg, item)
		if err != nil {
			cfg.logger().ErrorContext(ctx, "download track", "item", item.String(), "err", err)
			continue
		}
		done++
		cfg.logger().InfoContext(ctx, "downloaded track", "item", item.String(), "path", path)
		cfg.publish(status.StateFetching, fmt.Sprintf("Downloaded %d of %d tracks.", done, total), title, done, total)
	}

	if done > 0 {
		if err := OrganizeDir(cfg, cfg.DownloadDir); err != nil {
			cfg.logger().ErrorContext(ctx, "organize downloads", "err", err)
		}
	}

	cfg.publish(status.StateCompleted, fmt.Sprintf("Downloaded %d of %d tracks.", done, total),
		"Download Complete", done, total)
	return done, nil
}

// ProcessAlbums downloads a batch of albums as one job, typically fresh
// releases. Per album failures are logged and skipped.
func ProcessAlbums(ctx context.Context, cfg *Config, title string, items []recs.Item) (int, error) {
	total := len(items)
	if total == 0 {
		cfg.publish(status.StateCompleted, "No albums to download.", title, 0, 0)
		return 0, nil
	}
	cfg.publish(status.StatePending, fmt.Sprintf("Starting download of %d albums.", total), title, 0, total)

	var done int
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		cfg.publish(status.StateResolving, fmt.Sprintf("Resolving %s - %s.", item.Artist, item.Album), title, done, total)
		cfg.publish(status.StateFetching, fmt.Sprintf("Fetching %s - %s.", item.Artist, item.Album), title, done, total)
		cfg.publish(status.StateReconciling, fmt.Sprintf("Reconciling %s - %s.", item.Artist, item.Album), title, done, total)
		files, err := DownloadAlbum(ctx, cfg, item)
		if err != nil {
			cfg.logger().ErrorContext(ctx, "download album", "artist", item.Artist, "album", item.Album, "err", err)
			continue
		}
		done++
		cfg.logger().InfoContext(ctx, "downloaded album", "artist", item.Artist, "album", item.Album, "files", len(files))
		cfg.publish(status.StateReconciling, fmt.Sprintf("Downloaded %d of %d albums.", done, total), title, done, total)
	}

	if done > 0 {
		if err := OrganizeDir(cfg, cfg.DownloadDir); err != nil {
			cfg.logger().ErrorContext(ctx, "organize downloads", "err", err)
		}
	}

	cfg.publish(status.StateCompleted, fmt.Sprintf("Downloaded %d of %d albums.", done, total),
		"Download Complete", done, total)
	return done, nil
}

// OrganizeDir moves every audio file under srcDir into the library, laid
// out by the path format with identity read from each file's own tags. A
// file whose tags can't be read lands under an Unorganized directory
// rather than being lost.
func OrganizeDir(cfg *Config, srcDir string) error {
	if cfg.LibraryDir == "" || cfg.PathFormat == nil {
		return nil
	}

	files, err := fileutil.FindAudio(srcDir)
	if err != nil {
		return fmt.Errorf("scan downloads: %w", err)
	}

	var errs []error
	for _, path := range files {
		dest, err := organizeDest(cfg.PathFormat, cfg.LibraryDir, path)
		if err != nil {
			cfg.logger().Warn("organize fallback", "path", filepath.Base(path), "err", err)
			dest = filepath.Join(cfg.LibraryDir, "Unorganized", filepath.Base(path))
		}
		dest = uniquePath(dest)

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			errs = append(errs, fmt.Errorf("make dest dir: %w", err))
			continue
		}
		if err := moveFile(path, dest); err != nil {
			errs = append(errs, fmt.Errorf("move %s: %w", filepath.Base(path), err))
			continue
		}
		carryCover(filepath.Dir(path), filepath.Dir(dest))
		cfg.logger().Info("organized file", "dest", dest)
	}
	return errors.Join(errs...)
}

func organizeDest(pf *pathformat.Format, libraryDir, path string) (string, error) {
	f, err := tags.Read(path)
	if err != nil {
		return "", fmt.Errorf("read tags: %w", err)
	}
	defer f.Close()

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	data := pathformat.Data{
		Artist:   cmp.Or(f.Read(tags.Artist), "Unknown Artist"),
		Album:    cmp.Or(f.Read(tags.Album), "Unknown Album"),
		Title:    cmp.Or(f.Read(tags.Title), base),
		TrackNum: f.ReadNum(tags.TrackNumber),
		Ext:      strings.ToLower(filepath.Ext(path)),
	}
	rel, err := pf.Execute(data)
	if err != nil {
		return "", fmt.Errorf("render path: %w", err)
	}
	return filepath.Join(libraryDir, rel), nil
}

// carryCover copies a cover sidecar from a download dir into the organized
// destination dir, so the art follows the music it was fetched for. Best
// effort, and a destination that already has a cover keeps it.
func carryCover(srcDir, destDir string) {
	matches, _ := filepath.Glob(filepath.Join(srcDir, "cover.*"))
	if len(matches) == 0 {
		return
	}
	src := matches[0]
	dest := filepath.Join(destDir, filepath.Base(src))
	if _, err := os.Stat(dest); err == nil {
		return
	}

	in, err := os.Open(src)
	if err != nil {
		return
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return
	}
	defer out.Close()
	_, _ = io.Copy(out, in)
}

// uniquePath appends " (n)" before the extension until the path doesn't
// collide with an existing file.
func uniquePath(path string) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 0; ; i++ {
		try := path
		if i > 0 {
			try = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		if _, err := os.Stat(try); errors.Is(err, os.ErrNotExist) {
			return try
		}
	}
}

// moveFile renames, falling back to copy and delete when src and dest live
// on different filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
