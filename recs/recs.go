// Package recs defines the recommendation item record, the closed set of
// recommendation sources, and the aggregation rules for merging lists from
// several sources into one.
package recs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Source identifies which system produced a recommendation. Each source
// owns a comment marker written into downloaded files and a rating-based
// retention policy applied when the library is groomed later.
type Source string

const (
	SourceListenBrainz  Source = "listenbrainz"
	SourceLastFM        Source = "lastfm"
	SourceLLM           Source = "llm"
	SourceAlbum         Source = "album"
	SourceFreshReleases Source = "fresh-releases"
)

func Sources() []Source {
	return []Source{SourceListenBrainz, SourceLastFM, SourceLLM, SourceAlbum, SourceFreshReleases}
}

// Marker is the comment written into files downloaded for this source, so
// that grooming can later tell which retention policy applies.
func (s Source) Marker() string {
	switch s {
	case SourceListenBrainz:
		return "ListenBrainz Recommendation"
	case SourceLastFM:
		return "Last.fm Recommendation"
	case SourceLLM:
		return "LLM Recommendation"
	case SourceAlbum:
		return "Album Recommendation"
	case SourceFreshReleases:
		return "Fresh Releases"
	}
	return ""
}

// SourceForMarker maps a file comment back to its source.
func SourceForMarker(marker string) (Source, bool) {
	for _, s := range Sources() {
		if s.Marker() == marker {
			return s, true
		}
	}
	return "", false
}

// Action is the retention outcome for a rated recommendation.
type Action int8

const (
	ActionKeep   Action = iota // keep the file, clear its marker
	ActionDelete               // remove the file from the library
)

// Feedback is the signal, if any, relayed back to the recommending service.
type Feedback int8

const (
	FeedbackNone Feedback = iota
	FeedbackPositive
	FeedbackNegative
)

// Retention maps a 1..5 user rating to the source's retention outcome.
// Four stars and up always survive. Only listening-history sources relay
// feedback, and only ListenBrainz relays negative feedback.
func (s Source) Retention(rating int) (Action, Feedback) {
	switch s {
	case SourceListenBrainz:
		switch {
		case rating == 5:
			return ActionKeep, FeedbackPositive
		case rating == 4:
			return ActionKeep, FeedbackNone
		case rating == 1:
			return ActionDelete, FeedbackNegative
		default:
			return ActionDelete, FeedbackNone
		}
	case SourceLastFM:
		switch {
		case rating == 5:
			return ActionKeep, FeedbackPositive
		case rating == 4:
			return ActionKeep, FeedbackNone
		default:
			return ActionDelete, FeedbackNone
		}
	default:
		if rating >= 4 {
			return ActionKeep, FeedbackNone
		}
		return ActionDelete, FeedbackNone
	}
}

// Item is one recommendation. Artist and Title are required, everything
// else is optional enrichment.
type Item struct {
	Artist        string
	Title         string
	Album         string
	ReleaseDate   string
	AlbumArt      string
	RecordingMBID string
	Source        Source
}

func (i Item) Validate() error {
	if strings.TrimSpace(i.Artist) == "" {
		return errors.New("missing artist")
	}
	if strings.TrimSpace(i.Title) == "" {
		return errors.New("missing title")
	}
	if i.Source == "" {
		return errors.New("missing source")
	}
	return nil
}

func (i Item) String() string {
	return fmt.Sprintf("%s - %s", i.Artist, i.Title)
}

// Key is the deduplication identity. Deliberately narrower than the
// matcher's fuzzy identity, case folding only, no normalization.
func (i Item) Key() string {
	return strings.ToLower(i.Artist) + "\x00" + strings.ToLower(i.Title)
}

// Dedup removes duplicate items by Key, first writer wins. Input order is
// preserved.
func Dedup(items []Item) []Item {
	seen := map[string]struct{}{}
	var out []Item
	for _, item := range items {
		if _, ok := seen[item.Key()]; ok {
			continue
		}
		seen[item.Key()] = struct{}{}
		out = append(out, item)
	}
	return out
}

// FetchFunc produces recommendations from one source.
type FetchFunc func(ctx context.Context) ([]Item, error)

// Gather runs all fetchers concurrently and merges their results in
// fetcher order, deduplicated, with invalid items dropped at the boundary.
// A failing fetcher doesn't discard the other sources' results; its error
// is joined into the returned error alongside whatever was gathered.
func Gather(ctx context.Context, fetchers ...FetchFunc) ([]Item, error) {
	results := make([][]Item, len(fetchers))
	errs := make([]error, len(fetchers))

	var g errgroup.Group
	for i, fetch := range fetchers {
		g.Go(func() error {
			items, err := fetch(ctx)
			if err != nil {
				errs[i] = fmt.Errorf("fetcher %d: %w", i, err)
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var merged []Item
	for _, items := range results {
		for _, item := range items {
			if err := item.Validate(); err != nil {
				continue
			}
			merged = append(merged, item)
		}
	}
	return Dedup(merged), errors.Join(errs...)
}
