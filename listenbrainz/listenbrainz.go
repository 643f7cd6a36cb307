// Package listenbrainz reads the user's generated recommendation playlist,
// listening history, and fresh releases from the ListenBrainz API, and
// relays recording feedback back to it.
package listenbrainz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.curlew.xyz/recommand/clientutil"
)

const DefaultBaseURL = "https://api.listenbrainz.org"

var ErrNoPlaylist = errors.New("no recommendation playlist")

type Client struct {
	BaseURL   string
	Token     string
	User      string
	RateLimit time.Duration
	Logger    *slog.Logger

	// StatePath backs HasPlaylistChanged. Empty means every call reports
	// the playlist as changed.
	StatePath string

	initOnce   sync.Once
	HTTPClient *http.Client
}

func (c *Client) request(ctx context.Context, r *http.Request, dest any) error {
	c.initOnce.Do(func() {
		if c.BaseURL == "" {
			c.BaseURL = DefaultBaseURL
		}
		if c.Logger == nil {
			c.Logger = slog.Default()
		}
		var auth clientutil.Middleware = clientutil.Passthrough
		if c.Token != "" {
			auth = clientutil.WithHeader("Authorization", "Token "+c.Token)
		}
		c.HTTPClient = clientutil.Wrap(c.HTTPClient, clientutil.Chain(
			auth,
			clientutil.WithRateLimit(c.RateLimit),
			clientutil.WithRetry(3, 1*time.Second),
			clientutil.WithLogging(c.Logger),
		))
	})

	r = r.WithContext(ctx)
	resp, err := c.HTTPClient.Do(r)
	if err != nil {
		return fmt.Errorf("make request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("listenbrainz returned non 2xx: %w", clientutil.StatusError{Code: resp.StatusCode})
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, dest any, p string, query url.Values) error {
	u, _ := url.Parse(joinPath(c.baseURL(), p))
	if query != nil {
		u.RawQuery = query.Encode()
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	return c.request(ctx, req, dest)
}

// JSPF playlist wire types.
type jspfTrack struct {
	Creator    string   `json:"creator"`
	Title      string   `json:"title"`
	Identifier []string `json:"identifier"`
}

type jspfPlaylist struct {
	Title      string      `json:"title"`
	Date       string      `json:"date"`
	Identifier string      `json:"identifier"`
	Track      []jspfTrack `json:"track"`
}

type PlaylistTrack struct {
	Artist        string
	Title         string
	RecordingMBID string
}

type Playlist struct {
	MBID   string
	Title  string
	Date   string
	Tracks []PlaylistTrack
}

// RecommendationPlaylist fetches the newest playlist ListenBrainz
// generated for the user and resolves its full tracklist.
func (c *Client) RecommendationPlaylist(ctx context.Context) (*Playlist, error) {
	var created struct {
		Playlists []struct {
			Playlist jspfPlaylist `json:"playlist"`
		} `json:"playlists"`
	}
	if err := c.get(ctx, &created, path.Join("1", "user", c.User, "playlists", "createdfor"), nil); err != nil {
		return nil, fmt.Errorf("get created playlists: %w", err)
	}
	if len(created.Playlists) == 0 {
		return nil, ErrNoPlaylist
	}

	chosen := created.Playlists[0].Playlist
	for _, p := range created.Playlists {
		if strings.Contains(p.Playlist.Title, "Weekly Exploration") {
			chosen = p.Playlist
			break
		}
	}

	mbid := path.Base(chosen.Identifier)
	if mbid == "" || mbid == "." {
		return nil, ErrNoPlaylist
	}

	var full struct {
		Playlist jspfPlaylist `json:"playlist"`
	}
	if err := c.get(ctx, &full, path.Join("1", "playlist", mbid), nil); err != nil {
		return nil, fmt.Errorf("get playlist %s: %w", mbid, err)
	}

	playlist := &Playlist{MBID: mbid, Title: full.Playlist.Title, Date: full.Playlist.Date}
	for _, t := range full.Playlist.Track {
		if t.Creator == "" || t.Title == "" {
			continue
		}
		track := PlaylistTrack{Artist: t.Creator, Title: t.Title}
		for _, id := range t.Identifier {
			if strings.Contains(id, "/recording/") {
				track.RecordingMBID = path.Base(id)
				break
			}
		}
		playlist.Tracks = append(playlist.Tracks, track)
	}
	return playlist, nil
}

type playlistState struct {
	MBID string `json:"mbid"`
	Date string `json:"date"`
}

// HasPlaylistChanged reports whether the recommendation playlist differs
// from the one recorded on the last sighting, and records the new one.
// Missing or unreadable state counts as changed.
func (c *Client) HasPlaylistChanged(ctx context.Context, playlist *Playlist) (bool, error) {
	if c.StatePath == "" {
		return true, nil
	}

	var prev playlistState
	if b, err := os.ReadFile(c.StatePath); err == nil {
		_ = json.Unmarshal(b, &prev)
	}
	if prev.MBID == playlist.MBID && prev.Date == playlist.Date {
		return false, nil
	}

	b, _ := json.Marshal(playlistState{MBID: playlist.MBID, Date: playlist.Date})
	if err := os.WriteFile(c.StatePath, b, 0o644); err != nil {
		return true, fmt.Errorf("write playlist state: %w", err)
	}
	return true, nil
}

type Scrobble struct {
	Artist string
	Title  string
}

// WeeklyScrobbles returns the user's listens from the past seven days.
func (c *Client) WeeklyScrobbles(ctx context.Context) ([]Scrobble, error) {
	minTS := time.Now().Add(-7 * 24 * time.Hour).Unix()
	query := url.Values{}
	query.Set("min_ts", strconv.FormatInt(minTS, 10))
	query.Set("count", "100")

	var data struct {
		Payload struct {
			Listens []struct {
				TrackMetadata struct {
					ArtistName string `json:"artist_name"`
					TrackName  string `json:"track_name"`
				} `json:"track_metadata"`
			} `json:"listens"`
		} `json:"payload"`
	}
	if err := c.get(ctx, &data, path.Join("1", "user", c.User, "listens"), query); err != nil {
		return nil, fmt.Errorf("get listens: %w", err)
	}

	var scrobbles []Scrobble
	for _, l := range data.Payload.Listens {
		if l.TrackMetadata.ArtistName == "" || l.TrackMetadata.TrackName == "" {
			continue
		}
		scrobbles = append(scrobbles, Scrobble{Artist: l.TrackMetadata.ArtistName, Title: l.TrackMetadata.TrackName})
	}
	return scrobbles, nil
}

type Release struct {
	Artist         string `json:"artist_credit_name"`
	Album          string `json:"release_name"`
	ReleaseDate    string `json:"release_date"`
	CAAID          int64  `json:"caa_id"`
	CAAReleaseMBID string `json:"caa_release_mbid"`
}

// CoverURL builds a Cover Art Archive URL when the release has art.
func (r Release) CoverURL() string {
	if r.CAAID == 0 || r.CAAReleaseMBID == "" {
		return ""
	}
	return fmt.Sprintf("https://coverartarchive.org/release/%s/%d-500.jpg", r.CAAReleaseMBID, r.CAAID)
}

// FreshReleases returns albums released around now by artists the user
// listens to.
func (c *Client) FreshReleases(ctx context.Context) ([]Release, error) {
	query := url.Values{}
	query.Set("future", "false")

	var data struct {
		Payload struct {
			Releases []Release `json:"releases"`
		} `json:"payload"`
	}
	if err := c.get(ctx, &data, path.Join("1", "user", c.User, "fresh_releases"), query); err != nil {
		return nil, fmt.Errorf("get fresh releases: %w", err)
	}
	return data.Payload.Releases, nil
}

// SubmitFeedback records a love (1) or hate (-1) verdict for a recording.
func (c *Client) SubmitFeedback(ctx context.Context, recordingMBID string, score int) error {
	body, _ := json.Marshal(map[string]any{
		"recording_mbid": recordingMBID,
		"score":          score,
	})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		joinPath(c.baseURL(), "1", "feedback", "recording-feedback"), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if err := c.request(ctx, req, nil); err != nil {
		return fmt.Errorf("submit feedback: %w", err)
	}
	return nil
}

// LookupRecording resolves an (artist, title) pair to a recording MBID, or
// "" when the metadata service doesn't know the pair.
func (c *Client) LookupRecording(ctx context.Context, artist, title string) (string, error) {
	query := url.Values{}
	query.Set("artist_name", artist)
	query.Set("recording_name", title)

	var data struct {
		RecordingMBID string `json:"recording_mbid"`
	}
	if err := c.get(ctx, &data, path.Join("1", "metadata", "lookup"), query); err != nil {
		return "", fmt.Errorf("lookup recording: %w", err)
	}
	return data.RecordingMBID, nil
}

// RecordingMetadata is the canonical release a recording appears on.
type RecordingMetadata struct {
	Album       string
	ReleaseMBID string
}

// CoverURL builds a Cover Art Archive URL for the release front cover.
func (m RecordingMetadata) CoverURL() string {
	if m.ReleaseMBID == "" {
		return ""
	}
	return fmt.Sprintf("https://coverartarchive.org/release/%s/front-500", m.ReleaseMBID)
}

// LookupRecordingMetadata resolves a recording MBID to the album it appears
// on, or nil when the metadata service has no release for it.
func (c *Client) LookupRecordingMetadata(ctx context.Context, recordingMBID string) (*RecordingMetadata, error) {
	query := url.Values{}
	query.Set("recording_mbids", recordingMBID)
	query.Set("inc", "release")

	var data map[string]struct {
		Release struct {
			Name string `json:"name"`
			MBID string `json:"mbid"`
		} `json:"release"`
	}
	if err := c.get(ctx, &data, path.Join("1", "metadata", "recording"), query); err != nil {
		return nil, fmt.Errorf("lookup recording metadata: %w", err)
	}
	entry, ok := data[recordingMBID]
	if !ok || entry.Release.MBID == "" && entry.Release.Name == "" {
		return nil, nil
	}
	return &RecordingMetadata{Album: entry.Release.Name, ReleaseMBID: entry.Release.MBID}, nil
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return DefaultBaseURL
}

func joinPath(base string, p ...string) string {
	r, _ := url.JoinPath(base, p...)
	return r
}
