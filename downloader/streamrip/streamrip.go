// Package streamrip drives the streamrip "rip" command line tool.
//
// The tool records finished catalog ids in a sqlite database and silently
// skips anything it has seen before, so before each invocation the id being
// requested is cleared from that history.
package streamrip

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"path"
	"path/filepath"
	"slices"

	"github.com/google/shlex"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"go.curlew.xyz/recommand/downloader"
	"go.curlew.xyz/recommand/fileutil"
)

const DefaultCommand = "rip"

type Downloader struct {
	command string
	args    []string

	// DBPath points at the tool's downloads database. Empty disables the
	// history reset.
	DBPath   string
	UID, GID int
	Logger   *slog.Logger
}

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
	return "streamrip"
}

func (d *Downloader) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// linkID extracts the catalog's native id, the trailing path element of the
// link.
func linkID(link string) string {
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(link)
}

func (d *Downloader) resetHistory(ctx context.Context, link string) error {
	if d.DBPath == "" {
		return nil
	}
	db, err := sql.Open("sqlite3", "file:"+d.DBPath)
	if err != nil {
		return fmt.Errorf("open downloads db: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `create table if not exists downloads (id text unique not null)`); err != nil {
		return fmt.Errorf("ensure downloads table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `delete from downloads where id=?`, linkID(link)); err != nil {
		return fmt.Errorf("clear download history: %w", err)
	}
	return nil
}

func (d *Downloader) run(ctx context.Context, dir, link string) error {
	if err := d.resetHistory(ctx, link); err != nil {
		d.logger().WarnContext(ctx, "reset download history", "err", err)
	}

	args := append(slices.Clone(d.args), "--folder", dir, "url", link)
	cmd := exec.CommandContext(ctx, d.command, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s: %w: stderr: %q", d.command, err, stderr.String())
	}
	return nil
}

func (d *Downloader) DownloadTrack(ctx context.Context, req downloader.Request, dir string) (string, error) {
	if err := d.run(ctx, dir, req.Link); err != nil {
		return "", err
	}
	path, ok := downloader.FindTrackFile(dir, req.Artist, req.Title)
	if !ok {
		return "", downloader.ErrNoFiles
	}
	d.chown(ctx, filepath.Dir(path))
	return path, nil
}

func (d *Downloader) DownloadAlbum(ctx context.Context, req downloader.Request, dir string) ([]string, error) {
	if err := d.run(ctx, dir, req.Link); err != nil {
		return nil, err
	}
	albumDir, ok := downloader.FirstAudioDir(dir)
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
