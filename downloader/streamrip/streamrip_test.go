package streamrip

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "3129407", linkID("https://www.deezer.com/track/3129407"))
	assert.Equal(t, "302127", linkID("https://www.deezer.com/album/302127"))
	assert.Equal(t, "302127", linkID("302127"))
}

func TestResetHistory(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "downloads.db")
	d := &Downloader{DBPath: dbPath}

	// creates the table from scratch
	require.NoError(t, d.resetHistory(context.Background(), "https://www.deezer.com/track/123"))

	db, err := sql.Open("sqlite3", "file:"+dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`insert into downloads (id) values (?)`, "123")
	require.NoError(t, err)

	require.NoError(t, d.resetHistory(context.Background(), "https://www.deezer.com/track/123"))

	var n int
	require.NoError(t, db.QueryRow(`select count(1) from downloads`).Scan(&n))
	assert.Zero(t, n)
}

func TestResetHistoryDisabled(t *testing.T) {
	t.Parallel()

	d := &Downloader{}
	require.NoError(t, d.resetHistory(context.Background(), "https://www.deezer.com/track/123"))
}
