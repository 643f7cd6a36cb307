package listenbrainz_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.curlew.xyz/recommand/listenbrainz"
)

func TestRecommendationPlaylist(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/1/user/user/playlists/createdfor", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"playlists":[
			{"playlist":{"title":"Daily Jams for user","identifier":"https://listenbrainz.org/playlist/aaa"}},
			{"playlist":{"title":"Weekly Exploration for user, week of 2026-08-24","identifier":"https://listenbrainz.org/playlist/bbb","date":"2026-08-24T00:00:00+00:00"}}
		]}`))
	})
	mux.HandleFunc("/1/playlist/bbb", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"playlist":{"title":"Weekly Exploration","date":"2026-08-24T00:00:00+00:00","track":[
			{"creator":"Artist A","title":"Song One","identifier":["https://musicbrainz.org/recording/11111111-1111-1111-1111-111111111111"]},
			{"creator":"","title":"Orphan"},
			{"creator":"Artist B","title":"Song Two","identifier":[]}
		]}}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := &listenbrainz.Client{BaseURL: server.URL, User: "user"}
	playlist, err := client.RecommendationPlaylist(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "bbb", playlist.MBID)
	require.Len(t, playlist.Tracks, 2)
	assert.Equal(t, "Artist A", playlist.Tracks[0].Artist)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", playlist.Tracks[0].RecordingMBID)
	assert.Empty(t, playlist.Tracks[1].RecordingMBID)
}

func TestHasPlaylistChanged(t *testing.T) {
	t.Parallel()

	statePath := filepath.Join(t.TempDir(), "playlist.json")
	client := &listenbrainz.Client{StatePath: statePath}

	first := &listenbrainz.Playlist{MBID: "aaa", Date: "2026-08-17"}
	changed, err := client.HasPlaylistChanged(context.Background(), first)
	require.NoError(t, err)
	assert.True(t, changed)

	// Same playlist again, not changed.
	changed, err = client.HasPlaylistChanged(context.Background(), first)
	require.NoError(t, err)
	assert.False(t, changed)

	// New week, changed.
	second := &listenbrainz.Playlist{MBID: "bbb", Date: "2026-08-24"}
	changed, err = client.HasPlaylistChanged(context.Background(), second)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestHasPlaylistChangedNoState(t *testing.T) {
	t.Parallel()

	client := &listenbrainz.Client{}
	changed, err := client.HasPlaylistChanged(context.Background(), &listenbrainz.Playlist{MBID: "aaa"})
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestWeeklyScrobbles(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/1/user/user/listens", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("min_ts"))
		w.Write([]byte(`{"payload":{"listens":[
			{"track_metadata":{"artist_name":"Artist A","track_name":"Song One"}},
			{"track_metadata":{"artist_name":"","track_name":"Orphan"}},
			{"track_metadata":{"artist_name":"Artist B","track_name":"Song Two"}}
		]}}`))
	}))
	t.Cleanup(server.Close)

	client := &listenbrainz.Client{BaseURL: server.URL, User: "user"}
	scrobbles, err := client.WeeklyScrobbles(context.Background())
	require.NoError(t, err)
	require.Len(t, scrobbles, 2)
	assert.Equal(t, listenbrainz.Scrobble{Artist: "Artist A", Title: "Song One"}, scrobbles[0])
}

func TestFreshReleases(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/1/user/user/fresh_releases", r.URL.Path)
		w.Write([]byte(`{"payload":{"releases":[
			{"artist_credit_name":"Artist A","release_name":"Album One","release_date":"2026-08-28","caa_id":123,"caa_release_mbid":"22222222-2222-2222-2222-222222222222"},
			{"artist_credit_name":"Artist B","release_name":"Album Two","release_date":"2026-08-27"}
		]}}`))
	}))
	t.Cleanup(server.Close)

	client := &listenbrainz.Client{BaseURL: server.URL, User: "user"}
	releases, err := client.FreshReleases(context.Background())
	require.NoError(t, err)
	require.Len(t, releases, 2)
	assert.Equal(t, "https://coverartarchive.org/release/22222222-2222-2222-2222-222222222222/123-500.jpg", releases[0].CoverURL())
	assert.Empty(t, releases[1].CoverURL())
}

func TestSubmitFeedback(t *testing.T) {
	t.Parallel()

	var gotAuth, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/1/feedback/recording-feedback", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(server.Close)

	client := &listenbrainz.Client{BaseURL: server.URL, Token: "tok", User: "user"}
	require.NoError(t, client.SubmitFeedback(context.Background(), "33333333-3333-3333-3333-333333333333", 1))
	assert.Equal(t, "Token tok", gotAuth)
	assert.JSONEq(t, `{"recording_mbid":"33333333-3333-3333-3333-333333333333","score":1}`, gotBody)
}

func TestLookupRecording(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/1/metadata/lookup", r.URL.Path)
		assert.Equal(t, "Artist A", r.URL.Query().Get("artist_name"))
		w.Write([]byte(`{"recording_mbid":"44444444-4444-4444-4444-444444444444","recording_name":"Song One"}`))
	}))
	t.Cleanup(server.Close)

	client := &listenbrainz.Client{BaseURL: server.URL}
	mbid, err := client.LookupRecording(context.Background(), "Artist A", "Song One")
	require.NoError(t, err)
	assert.Equal(t, "44444444-4444-4444-4444-444444444444", mbid)
}

func TestLookupRecordingMetadata(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/1/metadata/recording", r.URL.Path)
		assert.Equal(t, "44444444-4444-4444-4444-444444444444", r.URL.Query().Get("recording_mbids"))
		assert.Equal(t, "release", r.URL.Query().Get("inc"))
		w.Write([]byte(`{"44444444-4444-4444-4444-444444444444":{
			"release":{"name":"Album One","mbid":"55555555-5555-5555-5555-555555555555"}
		}}`))
	}))
	t.Cleanup(server.Close)

	client := &listenbrainz.Client{BaseURL: server.URL}
	meta, err := client.LookupRecordingMetadata(context.Background(), "44444444-4444-4444-4444-444444444444")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "Album One", meta.Album)
	assert.Equal(t, "55555555-5555-5555-5555-555555555555", meta.ReleaseMBID)
	assert.Equal(t, "https://coverartarchive.org/release/55555555-5555-5555-5555-555555555555/front-500", meta.CoverURL())
}

func TestLookupRecordingMetadataUnknown(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	client := &listenbrainz.Client{BaseURL: server.URL}
	meta, err := client.LookupRecordingMetadata(context.Background(), "44444444-4444-4444-4444-444444444444")
	require.NoError(t, err)
	assert.Nil(t, meta)
}
