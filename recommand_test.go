package recommand

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.curlew.xyz/recommand/deezer"
	"go.curlew.xyz/recommand/downloader"
	"go.curlew.xyz/recommand/norm"
	"go.curlew.xyz/recommand/pathformat"
	"go.curlew.xyz/recommand/recs"
	"go.curlew.xyz/recommand/status"
)

func titleMap(titles ...string) map[string]string {
	m := make(map[string]string, len(titles))
	for _, t := range titles {
		m[norm.Normalize(t)] = t
	}
	return m
}

func TestReconcileTitle(t *testing.T) {
	t.Parallel()

	titles := titleMap("Song One", "Song Two")

	// prefix stripped lookup
	title, ok := reconcileTitle("01 - Artist - Song One.mp3", "Artist", titles)
	assert.True(t, ok)
	assert.Equal(t, "Song One", title)

	// no match keeps the cleaned filename, the file is still included
	title, ok = reconcileTitle("Weird Name.mp3", "Artist", titles)
	assert.False(t, ok)
	assert.Equal(t, "Weird Name", title)
}

func TestReconcileTitleDirect(t *testing.T) {
	t.Parallel()

	titles := titleMap("Harvest Moon")
	title, ok := reconcileTitle("/downloads/Harvest Moon.flac", "Neil Young", titles)
	assert.True(t, ok)
	assert.Equal(t, "Harvest Moon", title)
}

func TestReconcileTitleSubstring(t *testing.T) {
	t.Parallel()

	titles := titleMap("Song One")

	// extra junk around the title still resolves via containment
	title, ok := reconcileTitle("03. Song One (Bonus).mp3", "Artist", titles)
	assert.True(t, ok)
	assert.Equal(t, "Song One", title)

	// and so does a truncated filename contained in the provider title
	title, ok = reconcileTitle("04 - Song O.mp3", "Artist", titles)
	assert.True(t, ok)
	assert.Equal(t, "Song One", title)
}

func TestReconcileTitleEmptyTracklist(t *testing.T) {
	t.Parallel()

	title, ok := reconcileTitle("02 - Artist - Something.mp3", "Artist", nil)
	assert.False(t, ok)
	assert.Equal(t, "Something", title)
}

func TestStripArtistPrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Song", stripArtistPrefix("Artist - Song", "Artist"))
	assert.Equal(t, "Song", stripArtistPrefix("artist. Song", "Artist"))
	assert.Equal(t, "Back in Black", stripArtistPrefix("AC/DC - Back in Black", "AC/DC"))
	assert.Equal(t, "No Prefix Here", stripArtistPrefix("No Prefix Here", "Artist"))
	assert.Equal(t, "untouched", stripArtistPrefix("untouched", ""))
}

func TestUniquePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "Song.mp3")

	assert.Equal(t, path, uniquePath(path))

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	assert.Equal(t, filepath.Join(dir, "Song (1).mp3"), uniquePath(path))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Song (1).mp3"), []byte("x"), 0o644))
	assert.Equal(t, filepath.Join(dir, "Song (2).mp3"), uniquePath(path))
}

func TestMoveFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp3")
	dest := filepath.Join(dir, "sub", "dest.mp3")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))

	require.NoError(t, moveFile(src, dest))
	assert.NoFileExists(t, src)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))
}

func TestSaveCover(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("imagebytes"))
	}))
	t.Cleanup(server.Close)

	cfg := &Config{}
	dir := t.TempDir()

	saveCover(context.Background(), cfg, server.URL+"/cover/1000x1000.jpg", dir)
	got, err := os.ReadFile(filepath.Join(dir, "cover.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "imagebytes", string(got))

	// an existing cover is left alone
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte("original"), 0o644))
	saveCover(context.Background(), cfg, server.URL+"/cover/1000x1000.jpg", dir)
	got, err = os.ReadFile(filepath.Join(dir, "cover.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}

func TestSaveCoverDefaultExt(t *testing.T) {
	t.Parallel()

	// cover art archive front urls carry no extension
	assert.Equal(t, ".jpg", coverExt("https://coverartarchive.org/release/abc/front-500"))
	assert.Equal(t, ".png", coverExt("https://img.example/alb/cover.png?size=xl"))
}

func TestSaveCoverMissing(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	saveCover(context.Background(), &Config{}, server.URL+"/cover.jpg", dir)
	assert.NoFileExists(t, filepath.Join(dir, "cover.jpg"))
}

func TestCarryCover(t *testing.T) {
	t.Parallel()

	srcDir, destDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "cover.jpg"), []byte("img"), 0o644))

	carryCover(srcDir, destDir)
	got, err := os.ReadFile(filepath.Join(destDir, "cover.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "img", string(got))

	// a destination that already has one keeps it
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "cover.jpg"), []byte("kept"), 0o644))
	carryCover(srcDir, destDir)
	got, err = os.ReadFile(filepath.Join(destDir, "cover.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "kept", string(got))
}

type stubBackend struct {
	trackErr error
}

func (b stubBackend) DownloadTrack(_ context.Context, req downloader.Request, dir string) (string, error) {
	if b.trackErr != nil {
		return "", b.trackErr
	}
	path := filepath.Join(dir, req.Artist+" - "+req.Title+".mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (b stubBackend) DownloadAlbum(_ context.Context, req downloader.Request, dir string) ([]string, error) {
	albumDir := filepath.Join(dir, req.Artist+" - "+req.Album)
	if err := os.MkdirAll(albumDir, 0o755); err != nil {
		return nil, err
	}
	var paths []string
	for _, name := range []string{"02 - Second.mp3", "01 - First.mp3"} {
		path := filepath.Join(albumDir, name)
		if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (b stubBackend) String() string { return "stub" }

func newCatalog(t *testing.T) *deezer.Client {
	t.Helper()

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}
	type page struct {
		Data any `json:"data"`
	}

	var server *httptest.Server

	mux := http.NewServeMux()
	mux.HandleFunc("/search/track", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, page{Data: []deezer.Track{{
			ID: 1, Title: "Song One", Link: "https://catalog.example/track/1",
			Artist: deezer.Artist{Name: "Artist"},
		}}})
	})
	mux.HandleFunc("/track/1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deezer.Track{
			ID: 1, Title: "Song One", Link: "https://catalog.example/track/1",
			ReleaseDate: "2001-03-12",
			Artist:      deezer.Artist{Name: "Artist"},
			Album:       deezer.Album{ID: 9, Title: "Album One", CoverXL: server.URL + "/cover.jpg"},
		})
	})
	mux.HandleFunc("/cover.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("imagebytes"))
	})
	mux.HandleFunc("/search/album", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, page{Data: []deezer.Album{{
			ID: 9, Title: "Album One", Link: "https://catalog.example/album/9",
			ReleaseDate: "2001-03-12",
			Artist:      deezer.Artist{Name: "Artist"},
		}}})
	})
	mux.HandleFunc("/album/9/tracks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, page{Data: []deezer.Track{
			{ID: 11, Title: "First"},
			{ID: 12, Title: "Second"},
		}})
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &deezer.Client{BaseURL: server.URL}
}

func readRecord(t *testing.T, path string) status.Record {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec status.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	return rec
}

func TestProcessRecommendations(t *testing.T) {
	t.Parallel()

	statusDir := t.TempDir()
	cfg := &Config{
		Deezer:      newCatalog(t),
		Backend:     stubBackend{},
		DownloadDir: t.TempDir(),
		Status:      status.NewPublisher(statusDir, "job-1"),
	}

	items := []recs.Item{
		{Artist: "Artist", Title: "Song One", Source: recs.SourceListenBrainz},
		{Artist: "artist", Title: "song one", Source: recs.SourceLastFM}, // dedup victim
	}
	done, err := ProcessRecommendations(context.Background(), cfg, "Downloading Playlist", items)
	require.NoError(t, err)
	assert.Equal(t, 1, done)

	rec := readRecord(t, filepath.Join(statusDir, "job-1.json"))
	assert.Equal(t, status.StateCompleted, rec.Status)
	assert.Equal(t, "Downloaded 1 of 1 tracks.", rec.Message)
	assert.Equal(t, "Download Complete", rec.Title)
	assert.Equal(t, 1, rec.CurrentTrackCount)
	assert.Equal(t, 1, rec.TotalTrackCount)

	// the file stayed in the download dir since no library is configured,
	// with the resolved cover art beside it
	assert.FileExists(t, filepath.Join(cfg.DownloadDir, "Artist - Song One.mp3"))
	assert.FileExists(t, filepath.Join(cfg.DownloadDir, "cover.jpg"))
}

func TestProcessRecommendationsSkipsFailures(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Deezer:      newCatalog(t),
		Backend:     stubBackend{trackErr: downloader.ErrNoFiles},
		DownloadDir: t.TempDir(),
	}

	done, err := ProcessRecommendations(context.Background(), cfg, "Downloading Playlist", []recs.Item{
		{Artist: "Artist", Title: "Song One", Source: recs.SourceListenBrainz},
	})
	require.NoError(t, err)
	assert.Zero(t, done)
}

func TestDownloadAlbumReconcilesAndOrders(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Deezer:      newCatalog(t),
		Backend:     stubBackend{},
		DownloadDir: t.TempDir(),
	}

	files, err := DownloadAlbum(context.Background(), cfg, recs.Item{
		Artist: "Artist", Title: "x", Album: "Album One", Source: recs.SourceFreshReleases,
	})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "01 - First.mp3", filepath.Base(files[0]))
	assert.Equal(t, "02 - Second.mp3", filepath.Base(files[1]))
}

func TestDownloadTrackNotFound(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := &Config{
		Deezer:      &deezer.Client{BaseURL: server.URL},
		Backend:     stubBackend{},
		DownloadDir: t.TempDir(),
	}

	_, err := DownloadTrack(context.Background(), cfg, recs.Item{
		Artist: "Nobody", Title: "Nothing", Source: recs.SourceLLM,
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOrganizeDirUnreadableTags(t *testing.T) {
	t.Parallel()

	downloadDir, libraryDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(downloadDir, "garbage.mp3"), []byte("not audio"), 0o644))

	var pf pathformat.Format
	require.NoError(t, pf.Parse(pathformat.Default))

	cfg := &Config{LibraryDir: libraryDir, PathFormat: &pf}
	require.NoError(t, OrganizeDir(cfg, downloadDir))

	// unreadable files are quarantined, not lost
	assert.FileExists(t, filepath.Join(libraryDir, "Unorganized", "garbage.mp3"))
	assert.NoFileExists(t, filepath.Join(downloadDir, "garbage.mp3"))
}
