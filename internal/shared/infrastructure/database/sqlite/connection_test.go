package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "billcycle.db")

	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
	assert.FileExists(t, path)
}

func TestOpen_InMemory(t *testing.T) {
	db, err := Open(context.Background(), MemoryPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE probe (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}
