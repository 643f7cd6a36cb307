// Package lastfm covers the two Last.fm surfaces this project needs: the
// signed v2 API for sessions and track feedback, and the undocumented
// player station endpoint that serves the user's recommendation mix.
package lastfm

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.curlew.xyz/recommand/clientutil"
)

const (
	DefaultAPIBaseURL     = "https://ws.audioscrobbler.com/2.0/"
	DefaultStationBaseURL = "https://www.last.fm"
)

// The station endpoint rejects requests that don't look like a browser.
const stationUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.3"

var ErrNoSession = errors.New("no session key")

type Client struct {
	APIBaseURL     string
	StationBaseURL string
	APIKey         string
	APISecret      string
	Username       string
	SessionKey     string
	RateLimit      time.Duration
	Logger         *slog.Logger

	initOnce   sync.Once
	HTTPClient *http.Client
}

func (c *Client) init() {
	c.initOnce.Do(func() {
		if c.APIBaseURL == "" {
			c.APIBaseURL = DefaultAPIBaseURL
		}
		if c.StationBaseURL == "" {
			c.StationBaseURL = DefaultStationBaseURL
		}
		if c.Logger == nil {
			c.Logger = slog.Default()
		}
		c.HTTPClient = clientutil.Wrap(c.HTTPClient, clientutil.Chain(
			clientutil.WithRateLimit(c.RateLimit),
			clientutil.WithRetry(3, 1*time.Second),
			clientutil.WithLogging(c.Logger),
		))
	})
}

// Sign computes the api_sig for a signed call: every key and value
// concatenated in key order, then the shared secret, hashed with MD5.
func (c *Client) Sign(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(params.Get(k))
	}
	sb.WriteString(c.APISecret)
	return fmt.Sprintf("%x", md5.Sum([]byte(sb.String())))
}

func (c *Client) postSigned(ctx context.Context, params url.Values) (*http.Response, error) {
	c.init()

	params.Set("api_sig", c.Sign(params))
	params.Set("format", "json")

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL, strings.NewReader(params.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.HTTPClient.Do(req)
}

// MobileSession exchanges username and password for a long-lived session
// key.
func (c *Client) MobileSession(ctx context.Context, password string) (string, error) {
	params := url.Values{}
	params.Set("method", "auth.getMobileSession")
	params.Set("username", c.Username)
	params.Set("password", password)
	params.Set("api_key", c.APIKey)

	resp, err := c.postSigned(ctx, params)
	if err != nil {
		return "", fmt.Errorf("get mobile session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("lastfm returned non 2xx: %w", clientutil.StatusError{Code: resp.StatusCode})
	}

	var data struct {
		Session struct {
			Key string `json:"key"`
		} `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if data.Session.Key == "" {
		return "", errors.New("response has no session key")
	}
	return data.Session.Key, nil
}

// Track is one station recommendation.
type Track struct {
	Artist string
	Title  string
}

// Recommendations fetches the user's recommendation station playlist, at
// most limit tracks.
func (c *Client) Recommendations(ctx context.Context, limit int) ([]Track, error) {
	c.init()

	url := joinPath(c.StationBaseURL, "player", "station", "user", c.Username, "recommended")
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	req.Header.Set("Referer", c.StationBaseURL+"/")
	req.Header.Set("User-Agent", stationUserAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get station: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("lastfm returned non 2xx: %w", clientutil.StatusError{Code: resp.StatusCode})
	}

	var data struct {
		Playlist []struct {
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"playlist"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var tracks []Track
	for _, t := range data.Playlist {
		if t.Name == "" || len(t.Artists) == 0 {
			continue
		}
		tracks = append(tracks, Track{Artist: t.Artists[0].Name, Title: t.Name})
		if limit > 0 && len(tracks) >= limit {
			break
		}
	}
	return tracks, nil
}

var lfmError = regexp.MustCompile(`<error code="(\d+)">(.*?)</error>`)

// LoveTrack marks a track loved on the user's profile. The endpoint's
// responses are inconsistent, XML on success, JSON or XML on error, and
// the action frequently succeeds even when an error is reported, so only
// an explicit XML error with a code is treated as a failure.
func (c *Client) LoveTrack(ctx context.Context, artist, title string) error {
	if c.SessionKey == "" {
		return ErrNoSession
	}

	params := url.Values{}
	params.Set("method", "track.love")
	params.Set("track", title)
	params.Set("artist", artist)
	params.Set("api_key", c.APIKey)
	params.Set("sk", c.SessionKey)

	resp, err := c.postSigned(ctx, params)
	if err != nil {
		return fmt.Errorf("love track: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("lastfm returned non 2xx: %w", clientutil.StatusError{Code: resp.StatusCode})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	text := strings.TrimSpace(string(body))

	switch {
	case strings.HasPrefix(text, `<lfm status="ok">`):
		return nil
	case strings.HasPrefix(text, `<lfm status="failed">`):
		if m := lfmError.FindStringSubmatch(text); m != nil {
			return fmt.Errorf("lastfm error %s: %s", m[1], m[2])
		}
		c.Logger.WarnContext(ctx, "lastfm reported failure without details, assuming success", "artist", artist, "title", title)
		return nil
	default:
		c.Logger.WarnContext(ctx, "lastfm returned unexpected response, assuming success", "artist", artist, "title", title)
		return nil
	}
}

func joinPath(base string, p ...string) string {
	r, _ := url.JoinPath(base, p...)
	return r
}
