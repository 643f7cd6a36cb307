package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/google/shlex"
	"github.com/google/uuid"
	"github.com/r3labs/sse/v2"
	"golang.org/x/sync/errgroup"

	"go.curlew.xyz/recommand/cmd/internal/flags"
	"go.curlew.xyz/recommand/deezer"
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
		dz        = flags.Deezer()
		lb        = flags.ListenBrainz()
		lf        = flags.LastFM()
		notifs    = flags.Notifications()
		statusDir = flags.StatusDir()

		listenAddr    = flag.String("listen-addr", ":8090", "listen addr")
		apiKey        = flag.String("api-key", "", "api key for http requests")
		workerCommand = flag.String("worker-command", "recommand", "command used to spawn the download worker")
	)
	flags.Parse()

	if *apiKey == "" {
		slog.Error("need an -api-key")
		return
	}
	workerArgs, err := shlex.Split(*workerCommand)
	if err != nil || len(workerArgs) == 0 {
		slog.Error("parse worker command", "err", err)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sseServ := sse.New()
	sseServ.AutoStream = true
	sseServ.AutoReplay = false
	defer sseServ.Close()
	sseServ.CreateStream("jobs")

	emit := func(job status.Job) {
		data, err := json.Marshal(jobJSON(job))
		if err != nil {
			return
		}
		sseServ.Publish("jobs", &sse.Event{Event: []byte("job"), Data: data})
	}

	var notifiedMu sync.Mutex
	notified := map[string]struct{}{}
	notifyTerminal := func(job status.Job) {
		notifiedMu.Lock()
		_, seen := notified[job.ID]
		notified[job.ID] = struct{}{}
		notifiedMu.Unlock()
		if seen {
			return
		}
		switch job.Status {
		case status.StateCompleted:
			notifs.Sendf(ctx, notifications.Complete, "%s: %s", job.Title, job.Message)
		case status.StateFailed:
			notifs.Sendf(ctx, notifications.Failed, "%s: %s", job.Title, job.Message)
		}
	}

	store := status.NewStore(*statusDir)
	store.OnChange = func(job status.Job) {
		emit(job)
		if job.Status.Terminal() {
			notifyTerminal(job)
		}
	}

	availability := deezer.NewAvailabilityCache(dz)

	spawnWorker := func(source string, extraArgs ...string) (string, error) {
		jobID := uuid.NewString()
		args := append([]string{}, workerArgs[1:]...)
		args = append(args, "-download-id", jobID, "-source", source, "-status-dir", *statusDir)
		args = append(args, extraArgs...)

		cmd := exec.Command(workerArgs[0], args...)
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return "", fmt.Errorf("start worker: %w", err)
		}
		go func() {
			if err := cmd.Wait(); err != nil {
				slog.Error("worker exited", "job", jobID, "source", source, "err", err)
			}
		}()
		return jobID, nil
	}

	respJSON := func(w http.ResponseWriter, code int, data any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encode response", "err", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("GET /events", sseServ)

	mux.HandleFunc("GET /api/queue", func(w http.ResponseWriter, r *http.Request) {
		jobs := store.Jobs()
		out := make([]map[string]any, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, jobJSON(j))
		}
		respJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("GET /api/track-preview", func(w http.ResponseWriter, r *http.Request) {
		artist, title := r.FormValue("artist"), r.FormValue("title")
		if artist == "" || title == "" {
			http.Error(w, "artist and title are required", http.StatusBadRequest)
			return
		}
		preview, err := dz.TrackPreview(r.Context(), artist, title)
		switch {
		case errors.Is(err, deezer.ErrNoResults):
			http.Error(w, "preview not found for this track", http.StatusNotFound)
			return
		case err != nil:
			http.Error(w, fmt.Sprintf("get track preview: %v", err), http.StatusBadGateway)
			return
		}
		respJSON(w, http.StatusOK, map[string]string{"preview_url": preview})
	})

	mux.HandleFunc("GET /api/album-art", func(w http.ResponseWriter, r *http.Request) {
		artist, album := r.FormValue("artist"), r.FormValue("album")
		if artist == "" || album == "" {
			http.Error(w, "artist and album are required", http.StatusBadRequest)
			return
		}
		found, err := dz.AlbumArt(r.Context(), artist, album)
		switch {
		case errors.Is(err, deezer.ErrNoResults):
			http.Error(w, "album art not found", http.StatusNotFound)
			return
		case err != nil:
			http.Error(w, fmt.Sprintf("get album art: %v", err), http.StatusBadGateway)
			return
		}
		if found.CoverURL() == "" {
			http.Error(w, "album art not found", http.StatusNotFound)
			return
		}
		respJSON(w, http.StatusOK, map[string]string{
			"album_art_url": found.CoverURL(),
			"release_date":  found.ReleaseDate,
		})
	})

	mux.HandleFunc("POST /api/download/{source}", func(w http.ResponseWriter, r *http.Request) {
		source := r.PathValue("source")
		switch source {
		case "all", "listenbrainz", "lastfm", "llm", "fresh-releases":
		default:
			http.Error(w, fmt.Sprintf("invalid source %q", source), http.StatusBadRequest)
			return
		}
		var extra []string
		if bypass, _ := strconv.ParseBool(r.FormValue("bypass_playlist_check")); bypass {
			extra = append(extra, "-bypass-playlist-check")
		}
		jobID, err := spawnWorker(source, extra...)
		if err != nil {
			http.Error(w, fmt.Sprintf("spawn worker: %v", err), http.StatusInternalServerError)
			return
		}
		respJSON(w, http.StatusAccepted, map[string]string{"id": jobID})
	})

	mux.HandleFunc("GET /api/fresh-releases", func(w http.ResponseWriter, r *http.Request) {
		releases, err := lb.FreshReleases(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("fetch fresh releases: %v", err), http.StatusBadGateway)
			return
		}

		type release struct {
			Artist      string `json:"artist"`
			Album       string `json:"album"`
			ReleaseDate string `json:"release_date"`
			CoverURL    string `json:"cover_url,omitempty"`
			Available   bool   `json:"available"`
		}
		out := make([]release, len(releases))

		var g errgroup.Group
		g.SetLimit(4)
		for i, rel := range releases {
			g.Go(func() error {
				out[i] = release{
					Artist:      rel.Artist,
					Album:       rel.Album,
					ReleaseDate: rel.ReleaseDate,
					CoverURL:    rel.CoverURL(),
					Available:   availability.IsAvailable(r.Context(), rel.Artist, rel.Album),
				}
				return nil
			})
		}
		_ = g.Wait()

		respJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("POST /api/feedback", func(w http.ResponseWriter, r *http.Request) {
		source, ok := recs.SourceForMarker(r.FormValue("marker"))
		if !ok {
			source = recs.Source(r.FormValue("source"))
		}
		rating, err := strconv.Atoi(r.FormValue("rating"))
		if err != nil || rating < 1 || rating > 5 {
			http.Error(w, "rating must be 1..5", http.StatusBadRequest)
			return
		}

		action, feedback := source.Retention(rating)
		if err := relayFeedback(r.Context(), lb, lf, source, feedback, r.FormValue("mbid"), r.FormValue("artist"), r.FormValue("title")); err != nil {
			slog.Error("relay feedback", "source", source, "err", err)
		}

		actionName := "keep"
		if action == recs.ActionDelete {
			actionName = "delete"
		}
		respJSON(w, http.StatusOK, map[string]string{"action": actionName})
	})

	server := &http.Server{
		Addr: *listenAddr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("WWW-Authenticate", "Basic")
			if _, key, _ := r.BasicAuth(); subtle.ConstantTimeCompare([]byte(key), []byte(*apiKey)) != 1 {
				http.Error(w, "unauthorised", http.StatusUnauthorized)
				return
			}
			mux.ServeHTTP(w, r)
		}),
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := store.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run status store: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("starting", "addr", *listenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		slog.Error("shutdown", "err", err)
	}
}

func jobJSON(job status.Job) map[string]any {
	return map[string]any{
		"id":                  job.ID,
		"status":              job.Record.Status,
		"message":             job.Message,
		"title":               job.Title,
		"current_track_count": job.CurrentTrackCount,
		"total_track_count":   job.TotalTrackCount,
		"timestamp":           job.Timestamp,
	}
}

func relayFeedback(
	ctx context.Context,
	lb feedbackSubmitter, lf *flags.LastFMClient,
	source recs.Source, feedback recs.Feedback, mbid, artist, title string,
) error {
	switch feedback {
	case recs.FeedbackNone:
		return nil
	case recs.FeedbackNegative:
		if mbid == "" {
			return errors.New("negative feedback needs a recording mbid")
		}
		return lb.SubmitFeedback(ctx, mbid, -1)
	}

	switch source {
	case recs.SourceListenBrainz:
		if mbid == "" {
			return errors.New("positive feedback needs a recording mbid")
		}
		return lb.SubmitFeedback(ctx, mbid, 1)
	case recs.SourceLastFM:
		if _, err := lf.Session(ctx); err != nil {
			return err
		}
		return lf.LoveTrack(ctx, artist, title)
	}
	return nil
}

type feedbackSubmitter interface {
	SubmitFeedback(ctx context.Context, recordingMBID string, score int) error
}
