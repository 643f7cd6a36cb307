package deezer

import (
	"context"
	"strings"
	"sync"
)

// AvailabilityCache answers "can this album be downloaded" and remembers
// positive answers for the lifetime of the process. Negative answers are
// recomputed every time, since catalogs gain albums but rarely lose them.
type AvailabilityCache struct {
	client *Client

	mu        sync.RWMutex
	available map[string]struct{}
}

func NewAvailabilityCache(client *Client) *AvailabilityCache {
	return &AvailabilityCache{
		client:    client,
		available: map[string]struct{}{},
	}
}

func availabilityKey(artist, album string) string {
	return strings.ToLower(artist + "-" + album)
}

// IsAvailable reports whether the album can be found on the catalog with a
// nonempty tracklist. Concurrent callers may race to compute the same
// uncached key; the write is an idempotent set so that is harmless.
func (a *AvailabilityCache) IsAvailable(ctx context.Context, artist, album string) bool {
	key := availabilityKey(artist, album)

	a.mu.RLock()
	_, ok := a.available[key]
	a.mu.RUnlock()
	if ok {
		return true
	}

	match, err := a.client.FindAlbum(ctx, artist, album)
	if err != nil {
		return false
	}
	tracks, err := a.client.AlbumTracks(ctx, match.Album.ID)
	if err != nil || len(tracks) == 0 {
		return false
	}

	a.mu.Lock()
	a.available[key] = struct{}{}
	a.mu.Unlock()
	return true
}
