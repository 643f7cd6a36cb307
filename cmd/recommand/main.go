package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.senan.xyz/table/table"

	"go.curlew.xyz/recommand"
	"go.curlew.xyz/recommand/cmd/internal/flags"
	"go.curlew.xyz/recommand/listenbrainz"
	"go.curlew.xyz/recommand/llm"
	"go.curlew.xyz/recommand/notifications"
	"go.curlew.xyz/recommand/recs"
	"go.curlew.xyz/recommand/status"
)

func init() {
	flag := flag.CommandLine
	flag.Usage = func() {
		fmt.Fprintf(flag.Output(), "Usage:\n")
		fmt.Fprintf(flag.Output(), "  $ %s [<options>]\n\n", flag.Name())
		fmt.Fprintf(flag.Output(), "Options:\n")
		flag.PrintDefaults()
	}
}

func main() {
	defer flags.ExitError()
	flags.EnvPrefix("RECOMMAND")

	var (
		dz          = flags.Deezer()
		lb          = flags.ListenBrainz()
		lf          = flags.LastFM()
		llmConf     = flags.LLM()
		backendConf = flags.Backend()
		pathFormat  = flags.PathFormat()
		notifs      = flags.Notifications()
		statusDir   = flags.StatusDir()

		downloadID  = flag.String("download-id", "", "job id to publish status under, empty disables status records")
		source      = flag.String("source", "all", `recommendation source, one of "all", "listenbrainz", "lastfm", "llm", "fresh-releases"`)
		downloadDir = flag.String("download-dir", "", "working directory the backend downloads into")
		libraryDir  = flag.String("library-dir", "", "library root organized files move into, empty leaves files in the download dir")
		bypassCheck = flag.Bool("bypass-playlist-check", false, "download the listenbrainz playlist even when it hasn't changed")
		lastfmLimit = flag.Int("lastfm-limit", 30, "max tracks to pull from the last.fm station")
		dryRun      = flag.Bool("dry-run", false, "list the gathered recommendations without downloading")
	)
	flags.Parse()

	if *downloadDir == "" {
		slog.Error("need a -download-dir")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	backend, err := backendConf.Build(slog.Default())
	if err != nil {
		slog.Error("build backend", "err", err)
		return
	}

	cfg := &recommand.Config{
		Deezer:      dz,
		Backend:     backend,
		DownloadDir: *downloadDir,
		LibraryDir:  *libraryDir,
		PathFormat:  pathFormat,
		Status:      status.NewPublisher(*statusDir, *downloadID),
		Logger:      slog.Default(),
	}

	jobTitle := titleFor(*source)
	if err := run(ctx, cfg, lb, lf, llmConf, *source, *bypassCheck, *lastfmLimit, *dryRun); err != nil {
		if perr := cfg.Status.Publish(status.StateFailed, fmt.Sprintf("Download failed: %v", err), jobTitle, 0, 0); perr != nil {
			slog.ErrorContext(ctx, "publish failure", "err", perr)
		}
		notifs.Sendf(ctx, notifications.Failed, "%s failed: %v", jobTitle, err)
		slog.ErrorContext(ctx, "run", "source", *source, "err", err)
		return
	}
	notifs.Sendf(ctx, notifications.Complete, "%s complete", jobTitle)
}

func titleFor(source string) string {
	switch source {
	case "listenbrainz":
		return "Downloading ListenBrainz Playlist"
	case "lastfm":
		return "Downloading Last.fm Playlist"
	case "llm":
		return "Downloading LLM Playlist"
	case "fresh-releases":
		return "Downloading Fresh Releases Albums"
	}
	return "Downloading Recommendations"
}

func run(
	ctx context.Context, cfg *recommand.Config,
	lb *listenbrainz.Client, lf *flags.LastFMClient, llmConf *flags.LLMConfig,
	source string, bypassCheck bool, lastfmLimit int, dryRun bool,
) error {
	jobTitle := titleFor(source)
	if err := cfg.Status.Publish(status.StatePending, "Download initiated.", jobTitle, 0, 0); err != nil {
		slog.WarnContext(ctx, "publish status", "err", err)
	}

	if source == "fresh-releases" {
		return runFreshReleases(ctx, cfg, lb, jobTitle)
	}

	var fetchers []recs.FetchFunc
	switch source {
	case "listenbrainz":
		if lb.User == "" {
			return fmt.Errorf("listenbrainz source needs a -listenbrainz-user")
		}
		fetchers = append(fetchers, fetchListenBrainz(lb, bypassCheck))
	case "lastfm":
		if lf.APIKey == "" {
			return fmt.Errorf("last.fm source needs a -lastfm-api-key")
		}
		fetchers = append(fetchers, fetchLastFM(lf, lastfmLimit))
	case "llm":
		if llmConf.Provider == "" {
			return fmt.Errorf("llm source needs a -llm-provider")
		}
		fetchers = append(fetchers, fetchLLM(llmConf, lb))
	case "all":
		if lb.User != "" {
			fetchers = append(fetchers, fetchListenBrainz(lb, bypassCheck))
		}
		if lf.APIKey != "" {
			fetchers = append(fetchers, fetchLastFM(lf, lastfmLimit))
		}
		if llmConf.Provider != "" {
			fetchers = append(fetchers, fetchLLM(llmConf, lb))
		}
		if len(fetchers) == 0 {
			return errors.New("no recommendation sources configured")
		}
	default:
		return fmt.Errorf("unknown source %q", source)
	}

	items, err := recs.Gather(ctx, fetchers...)
	if err != nil {
		if len(items) == 0 {
			return fmt.Errorf("gather recommendations: %w", err)
		}
		slog.WarnContext(ctx, "some sources failed", "err", err)
	}

	if dryRun {
		t := table.NewStringWriter()
		for _, item := range items {
			fmt.Fprintf(t, "%s\t%s\t%s\t%s\n", item.Source, item.Artist, item.Title, item.Album)
		}
		for _, row := range strings.Split(strings.TrimRight(t.String(), "\n"), "\n") {
			fmt.Println(row)
		}
		return nil
	}

	if _, err := recommand.ProcessRecommendations(ctx, cfg, jobTitle, items); err != nil {
		return err
	}
	return nil
}

func runFreshReleases(ctx context.Context, cfg *recommand.Config, lb *listenbrainz.Client, jobTitle string) error {
	if lb.User == "" {
		return fmt.Errorf("fresh releases need a -listenbrainz-user")
	}
	releases, err := lb.FreshReleases(ctx)
	if err != nil {
		return fmt.Errorf("fetch fresh releases: %w", err)
	}
	if len(releases) == 0 {
		if err := cfg.Status.Publish(status.StateCompleted, "No fresh releases found.", jobTitle, 0, 0); err != nil {
			slog.WarnContext(ctx, "publish status", "err", err)
		}
		return nil
	}

	items := make([]recs.Item, 0, len(releases))
	for _, r := range releases {
		items = append(items, recs.Item{
			Artist:      r.Artist,
			Title:       r.Album,
			Album:       r.Album,
			ReleaseDate: r.ReleaseDate,
			AlbumArt:    r.CoverURL(),
			Source:      recs.SourceFreshReleases,
		})
	}
	if _, err := recommand.ProcessAlbums(ctx, cfg, jobTitle, items); err != nil {
		return err
	}
	return nil
}

func fetchListenBrainz(lb *listenbrainz.Client, bypassCheck bool) recs.FetchFunc {
	return func(ctx context.Context) ([]recs.Item, error) {
		playlist, err := lb.RecommendationPlaylist(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch recommendation playlist: %w", err)
		}
		if playlist == nil {
			return nil, nil
		}
		if !bypassCheck {
			changed, err := lb.HasPlaylistChanged(ctx, playlist)
			if err != nil {
				return nil, fmt.Errorf("check playlist identity: %w", err)
			}
			if !changed {
				slog.InfoContext(ctx, "playlist unchanged, skipping", "playlist", playlist.Title)
				return nil, nil
			}
		}

		var items []recs.Item
		for _, t := range playlist.Tracks {
			items = append(items, recs.Item{
				Artist:        t.Artist,
				Title:         t.Title,
				RecordingMBID: t.RecordingMBID,
				Source:        recs.SourceListenBrainz,
			})
		}
		return items, nil
	}
}

func fetchLastFM(lf *flags.LastFMClient, limit int) recs.FetchFunc {
	return func(ctx context.Context) ([]recs.Item, error) {
		if _, err := lf.Session(ctx); err != nil {
			return nil, err
		}
		tracks, err := lf.Recommendations(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("fetch station recommendations: %w", err)
		}
		var items []recs.Item
		for _, t := range tracks {
			items = append(items, recs.Item{Artist: t.Artist, Title: t.Title, Source: recs.SourceLastFM})
		}
		return items, nil
	}
}

func fetchLLM(llmConf *flags.LLMConfig, lb *listenbrainz.Client) recs.FetchFunc {
	return func(ctx context.Context) ([]recs.Item, error) {
		provider, err := llmConf.Client(ctx)
		if err != nil {
			return nil, fmt.Errorf("build llm provider: %w", err)
		}
		if provider == nil {
			return nil, nil
		}
		if lb.User == "" {
			return nil, errors.New("llm source needs listenbrainz scrobbles, set -listenbrainz-user")
		}

		scrobbles, err := lb.WeeklyScrobbles(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch weekly scrobbles: %w", err)
		}
		history := make([]llm.Scrobble, 0, len(scrobbles))
		for _, s := range scrobbles {
			history = append(history, llm.Scrobble{Artist: s.Artist, Title: s.Title})
		}

		recommendations, err := llm.Recommend(ctx, provider, history)
		if err != nil {
			return nil, fmt.Errorf("generate recommendations: %w", err)
		}

		var items []recs.Item
		for _, r := range recommendations {
			item := recs.Item{Artist: r.Artist, Title: r.Title, Album: r.Album, Source: recs.SourceLLM}
			// Best effort enrichment so feedback can find the recording
			// later, and so the canonical album wins over the model's guess.
			if mbid, err := lb.LookupRecording(ctx, r.Artist, r.Title); err == nil && mbid != "" {
				item.RecordingMBID = mbid
				if meta, err := lb.LookupRecordingMetadata(ctx, mbid); err == nil && meta != nil {
					if meta.Album != "" {
						item.Album = meta.Album
					}
					if art := meta.CoverURL(); art != "" {
						item.AlbumArt = art
					}
				}
			}
			items = append(items, item)
		}
		return items, nil
	}
}
