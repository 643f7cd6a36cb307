// Package deezer talks to the Deezer public API, the catalog of record for
// everything this project matches and downloads.
package deezer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.curlew.xyz/recommand/clientutil"
)

const DefaultBaseURL = "https://api.deezer.com"

var ErrNoResults = errors.New("no results")

type Client struct {
	BaseURL   string
	RateLimit time.Duration
	UserAgent string
	Logger    *slog.Logger

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
		c.HTTPClient = clientutil.Wrap(c.HTTPClient, clientutil.Chain(
			clientutil.WithCache(),
			clientutil.WithUserAgent(c.UserAgent),
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
		return fmt.Errorf("deezer returned non 2xx: %w", clientutil.StatusError{Code: resp.StatusCode})
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type Artist struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Album struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Link        string `json:"link"`
	ReleaseDate string `json:"release_date"`
	Cover       string `json:"cover"`
	CoverMedium string `json:"cover_medium"`
	CoverBig    string `json:"cover_big"`
	CoverXL     string `json:"cover_xl"`
	NumTracks   int    `json:"nb_tracks"`
	Artist      Artist `json:"artist"`
}

// CoverURL returns the largest cover art the catalog offers for the album.
func (a Album) CoverURL() string {
	for _, c := range []string{a.CoverXL, a.CoverBig, a.CoverMedium, a.Cover} {
		if c != "" {
			return c
		}
	}
	return ""
}

type Track struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Link        string `json:"link"`
	Preview     string `json:"preview"`
	ReleaseDate string `json:"release_date"`
	Artist      Artist `json:"artist"`
	Album       Album  `json:"album"`
}

type page[T any] struct {
	Data  []T    `json:"data"`
	Total int    `json:"total"`
	Next  string `json:"next"`
}

func (c *Client) searchTracks(ctx context.Context, query string) ([]Track, error) {
	urlV := url.Values{}
	urlV.Set("q", query)

	url, _ := url.Parse(joinPath(c.baseURL(), "search", "track"))
	url.RawQuery = urlV.Encode()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url.String(), nil)

	var pg page[Track]
	if err := c.request(ctx, req, &pg); err != nil {
		return nil, fmt.Errorf("search tracks: %w", err)
	}
	return pg.Data, nil
}

func (c *Client) searchAlbums(ctx context.Context, query string) ([]Album, error) {
	urlV := url.Values{}
	urlV.Set("q", query)

	url, _ := url.Parse(joinPath(c.baseURL(), "search", "album"))
	url.RawQuery = urlV.Encode()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url.String(), nil)

	var pg page[Album]
	if err := c.request(ctx, req, &pg); err != nil {
		return nil, fmt.Errorf("search albums: %w", err)
	}
	return pg.Data, nil
}

// GetTrack fetches the full track record, including its album.
func (c *Client) GetTrack(ctx context.Context, id int64) (*Track, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, joinPath(c.baseURL(), "track", strconv.FormatInt(id, 10)), nil)

	var track Track
	if err := c.request(ctx, req, &track); err != nil {
		return nil, fmt.Errorf("get track: %w", err)
	}
	return &track, nil
}

// AlbumTracks fetches the album's authoritative tracklist, following
// pagination until the catalog reports no further page.
func (c *Client) AlbumTracks(ctx context.Context, albumID int64) ([]Track, error) {
	var tracks []Track
	next := joinPath(c.baseURL(), "album", strconv.FormatInt(albumID, 10), "tracks")
	for next != "" {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)

		var pg page[Track]
		if err := c.request(ctx, req, &pg); err != nil {
			return nil, fmt.Errorf("get album tracks: %w", err)
		}
		if len(pg.Data) == 0 {
			break
		}
		tracks = append(tracks, pg.Data...)
		next = pg.Next
	}
	return tracks, nil
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
