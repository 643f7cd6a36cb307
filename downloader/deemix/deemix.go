// Package deemix drives the deemix command line tool.
package deemix

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/shlex"

	"go.curlew.xyz/recommand/downloader"
	"go.curlew.xyz/recommand/fileutil"
)

const DefaultCommand = "deemix"

const completedMarker = "Completed download of "

type Downloader struct {
	command string
	args    []string

	// ConfigHome overrides XDG_CONFIG_HOME for the subprocess so the tool
	// picks up the ARL credential from a known location.
	ConfigHome string
	UID, GID   int
	Logger     *slog.Logger
}

// New parses conf as a shell style command override. An empty conf uses the
// plain deemix binary from PATH.
func New(conf string) (*Downloader, error) {
	d := &Downloader{command: DefaultCommand, UID: downloader.DefaultUID, GID: downloader.DefaultGID}
	if conf == "" {
		return d, nil
	}
	parts, err := shlex.Split(conf)
	if err != nil {
		return nil, fmt.Errorf("split command: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no command provided")
	}
	d.command = parts[0]
	d.args = parts[1:]
	return d, nil
}

func (d *Downloader) String() string {
	return "deemix"
}

func (d *Downloader) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Downloader) run(ctx context.Context, dir, link string) (string, error) {
	args := append(slices.Clone(d.args), "-p", dir, link)
	cmd := exec.CommandContext(ctx, d.command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if d.ConfigHome != "" {
		cmd.Env = append(os.Environ(), "XDG_CONFIG_HOME="+d.ConfigHome)
	}

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run %s: %w: stderr: %q", d.command, err, stderr.String())
	}
	return stdout.String(), nil
}

// completedPath extracts the path reported on the tool's completion line.
// The tool prints it relative to the output directory, sometimes with a
// stray leading slash.
func completedPath(stdout, dir string) (string, bool) {
	for _, line := range strings.Split(stdout, "\n") {
		_, rest, ok := strings.Cut(line, completedMarker)
		if !ok {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimSpace(rest), "/")
		if rel == "" {
			continue
		}
		return filepath.Join(dir, rel), true
	}
	return "", false
}

func (d *Downloader) DownloadTrack(ctx context.Context, req downloader.Request, dir string) (string, error) {
	stdout, err := d.run(ctx, dir, req.Link)
	if err != nil {
		return "", err
	}

	path, ok := completedPath(stdout, dir)
	if ok {
		if _, err := os.Stat(path); err != nil {
			ok = false
		}
	}
	if !ok {
		d.logger().WarnContext(ctx, "no usable completion line, scanning output dir",
			"artist", req.Artist, "title", req.Title)
		path, ok = downloader.FindTrackFile(dir, req.Artist, req.Title)
	}
	if !ok {
		return "", downloader.ErrNoFiles
	}

	d.chown(ctx, filepath.Dir(path))
	return path, nil
}

func (d *Downloader) DownloadAlbum(ctx context.Context, req downloader.Request, dir string) ([]string, error) {
	stdout, err := d.run(ctx, dir, req.Link)
	if err != nil {
		return nil, err
	}

	albumDir, ok := completedPath(stdout, dir)
	if ok {
		if info, err := os.Stat(albumDir); err != nil || !info.IsDir() {
			ok = false
		}
	}
	if !ok {
		d.logger().WarnContext(ctx, "no usable completion line, scanning output dir",
			"artist", req.Artist, "album", req.Album)
		albumDir, ok = downloader.FindAlbumDir(dir, req.Artist, req.Album)
	}
	if !ok {
		return nil, downloader.ErrNoFiles
	}

	files, err := fileutil.FindAudio(albumDir)
	if err != nil {
		return nil, fmt.Errorf("scan album dir: %w", err)
	}
	if len(files) == 0 {
		return nil, downloader.ErrNoFiles
	}

	d.chown(ctx, albumDir)
	return files, nil
}

func (d *Downloader) chown(ctx context.Context, dir string) {
	if err := downloader.FixOwnership(dir, d.UID, d.GID); err != nil {
		d.logger().WarnContext(ctx, "fix ownership", "dir", dir, "err", err)
	}
}
