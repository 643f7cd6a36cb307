package deezer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.curlew.xyz/recommand/norm"
)

// ErrNoDetails is returned when a track matched on the catalog but its
// record is missing the album information downstream consumers need.
var ErrNoDetails = errors.New("track record has no album details")

// TrackQuery is one search variant for a track lookup, paired with the
// title that variant asked for so the result can be checked against it.
type TrackQuery struct {
	Query string
	Title string
}

// TrackQueries builds the ordered search cascade for a track. Quoted exact
// forms come first, the broad free-text form last. Variants are tried in
// this order and the first accepted result wins.
func TrackQueries(artist, title string) []TrackQuery {
	clean := norm.CleanTitle(title)
	queries := []TrackQuery{
		{fmt.Sprintf(`artist:"%s" track:"%s"`, artist, clean), clean},
		{fmt.Sprintf(`artist:"%s" track:"%s"`, artist, title), title},
		{fmt.Sprintf(`artist:%s track:%s`, artist, clean), clean},
		{fmt.Sprintf(`artist:%s track:%s`, artist, title), title},
		{fmt.Sprintf(`%s %s`, artist, title), title},
	}
	return dedupeQueries(queries)
}

func dedupeQueries(queries []TrackQuery) []TrackQuery {
	seen := map[string]struct{}{}
	var out []TrackQuery
	for _, q := range queries {
		if _, ok := seen[q.Query]; ok {
			continue
		}
		seen[q.Query] = struct{}{}
		out = append(out, q)
	}
	return out
}

// ArtistVariants returns the normalized set of acceptable artist spellings,
// covering curly punctuation, ampersand rewrites, and split co-artists.
func ArtistVariants(artist string) []string {
	strict := strings.NewReplacer("’", "'", "Ø", "O").Replace(artist)
	variants := []string{
		norm.Normalize(artist),
		norm.Normalize(strict),
		norm.Normalize(strings.ReplaceAll(artist, "&", " ")),
		norm.Normalize(strings.ReplaceAll(artist, "&", "and")),
	}
	if strings.Contains(artist, "&") {
		for _, part := range strings.Split(artist, "&") {
			variants = append(variants, norm.Normalize(part))
		}
	}
	seen := map[string]struct{}{}
	var out []string
	for _, v := range variants {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// AlbumQueries builds the ordered search cascade for an album, expanding
// the artist spelling variants crossed with quoted and unquoted forms,
// ending in broad free-text fallbacks.
func AlbumQueries(artist, album string) []string {
	strict := strings.NewReplacer("’", "'", "Ø", "O").Replace(artist)
	spaces := strings.ReplaceAll(strict, "&", " ")

	var queries []string
	add := func(a string, quoted bool) {
		if quoted {
			queries = append(queries, fmt.Sprintf(`artist:"%s" album:"%s"`, a, album))
		} else {
			queries = append(queries, fmt.Sprintf(`artist:%s album:%s`, a, album))
		}
	}

	add(artist, true)
	add(artist, false)
	if strict != artist {
		add(strict, true)
		add(strict, false)
	}
	if spaces != artist && spaces != strict {
		add(spaces, true)
		add(spaces, false)
	}
	if strings.Contains(artist, "&") {
		for _, part := range strings.Split(artist, "&") {
			part = strings.TrimSpace(part)
			add(part, true)
			add(part, false)
		}
		andReplaced := strings.ReplaceAll(artist, "&", "and")
		add(andReplaced, true)
		add(andReplaced, false)
		add(strings.ReplaceAll(artist, "&", "%26"), true)
	}
	queries = append(queries, fmt.Sprintf(`%s %s`, artist, album))
	queries = append(queries, fmt.Sprintf(`%s %s`, spaces, album))

	seen := map[string]struct{}{}
	var out []string
	for _, q := range queries {
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}

// TrackMatch is an accepted track candidate plus the query variant that
// produced it.
type TrackMatch struct {
	Track Track
	Query TrackQuery
}

// AlbumMatch is an accepted album candidate plus the query that produced it.
type AlbumMatch struct {
	Album Album
	Query string
}

// FindTrack runs the track query cascade and returns the first result that
// passes the acceptance rule. When the cascade is exhausted it is re-run
// once with any featuring credit stripped from the artist. ErrNoResults
// means the catalog has no acceptable candidate, which is a normal outcome.
func (c *Client) FindTrack(ctx context.Context, artist, title string) (*TrackMatch, error) {
	match, err := c.findTrack(ctx, artist, title)
	if err == nil || !errors.Is(err, ErrNoResults) {
		return match, err
	}
	if stripped := norm.StripFeat(artist); stripped != artist {
		return c.findTrack(ctx, stripped, title)
	}
	return nil, err
}

func (c *Client) findTrack(ctx context.Context, artist, title string) (*TrackMatch, error) {
	variants := ArtistVariants(artist)
	for _, q := range TrackQueries(artist, title) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results, err := c.searchTracks(ctx, q.Query)
		if err != nil {
			c.Logger.WarnContext(ctx, "track query failed", "query", q.Query, "err", err)
			continue
		}
		if len(results) == 0 {
			continue
		}
		// The catalog's own ranking is trusted, only the top result is
		// considered for each variant.
		top := results[0]
		if norm.Normalize(top.Title) != norm.Normalize(q.Title) {
			continue
		}
		if !acceptArtist(top.Artist.Name, artist, variants) {
			continue
		}
		return &TrackMatch{Track: top, Query: q}, nil
	}
	return nil, ErrNoResults
}

// FindAlbum runs the album query cascade and returns the first result whose
// normalized title matches and whose artist passes the acceptance rule.
func (c *Client) FindAlbum(ctx context.Context, artist, album string) (*AlbumMatch, error) {
	variants := ArtistVariants(artist)
	wantAlbum := norm.Normalize(album)
	for _, query := range AlbumQueries(artist, album) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results, err := c.searchAlbums(ctx, query)
		if err != nil {
			c.Logger.WarnContext(ctx, "album query failed", "query", query, "err", err)
			continue
		}
		if len(results) == 0 {
			continue
		}
		top := results[0]
		if norm.Normalize(top.Title) != wantAlbum {
			continue
		}
		if !acceptArtist(top.Artist.Name, artist, variants) {
			continue
		}
		return &AlbumMatch{Album: top, Query: query}, nil
	}
	return nil, ErrNoResults
}

// acceptArtist reports whether a returned artist name is close enough to
// the requested one. All comparison happens on normalized strings. The
// returned name may equal a variant, contain a variant, or be contained in
// the requested name, which covers co-artist credits in either direction.
func acceptArtist(found, requested string, variants []string) bool {
	foundNorm := norm.Normalize(found)
	if foundNorm == "" {
		return false
	}
	if strings.Contains(norm.Normalize(requested), foundNorm) {
		return true
	}
	for _, v := range variants {
		if foundNorm == v || strings.Contains(foundNorm, v) {
			return true
		}
	}
	return false
}

// TrackDetails matches a track and completes it with the full catalog
// record. A match whose record lacks album details is reported as
// ErrNoDetails, and the lookup is retried once with the featuring credit
// stripped from the artist.
func (c *Client) TrackDetails(ctx context.Context, artist, title string) (*Track, error) {
	track, err := c.trackDetails(ctx, artist, title)
	if err == nil {
		return track, nil
	}
	if stripped := norm.StripFeat(artist); stripped != artist && (errors.Is(err, ErrNoResults) || errors.Is(err, ErrNoDetails)) {
		return c.trackDetails(ctx, stripped, title)
	}
	return nil, err
}

func (c *Client) trackDetails(ctx context.Context, artist, title string) (*Track, error) {
	match, err := c.FindTrack(ctx, artist, title)
	if err != nil {
		return nil, err
	}
	track, err := c.GetTrack(ctx, match.Track.ID)
	if err != nil {
		return nil, err
	}
	if track.Album.Title == "" {
		return nil, ErrNoDetails
	}
	return track, nil
}

// TrackPreview returns a short preview clip URL for a track, or
// ErrNoResults when the catalog offers none.
func (c *Client) TrackPreview(ctx context.Context, artist, title string) (string, error) {
	match, err := c.FindTrack(ctx, artist, title)
	if err != nil {
		return "", err
	}
	if match.Track.Preview == "" {
		return "", ErrNoResults
	}
	return match.Track.Preview, nil
}

// AlbumArt looks up cover art and release date for an album. Unlike
// FindAlbum it takes the catalog's first answer without the acceptance
// rule, since a slightly wrong cover is better than none.
func (c *Client) AlbumArt(ctx context.Context, artist, album string) (*Album, error) {
	queries := []string{
		fmt.Sprintf(`artist:"%s" album:"%s"`, artist, album),
		fmt.Sprintf(`artist:%s album:%s`, artist, album),
	}
	for _, query := range queries {
		results, err := c.searchAlbums(ctx, query)
		if err != nil {
			c.Logger.WarnContext(ctx, "album art query failed", "query", query, "err", err)
			continue
		}
		if len(results) > 0 {
			return &results[0], nil
		}
	}
	return nil, ErrNoResults
}
