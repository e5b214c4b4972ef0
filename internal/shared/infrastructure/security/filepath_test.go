package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFilePath(t *testing.T) {
	t.Run("rejects empty path", func(t *testing.T) {
		_, err := ValidateFilePath("")
		assert.Error(t, err)
	})

	t.Run("rejects shell metacharacters", func(t *testing.T) {
		for _, path := range []string{"a;rm -rf", "a|b", "$(whoami)", "a`b`", "a>b"} {
			_, err := ValidateFilePath(path)
			assert.Error(t, err, path)
		}
	})

	t.Run("makes relative paths absolute", func(t *testing.T) {
		result, err := ValidateFilePath("receipt.png")
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(result))
	})

	t.Run("resolves symlinks", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "target.png")
		require.NoError(t, os.WriteFile(target, []byte("x"), 0600))
		link := filepath.Join(dir, "link.png")
		require.NoError(t, os.Symlink(target, link))

		result, err := ValidateFilePath(link)
		require.NoError(t, err)
		expected, err := filepath.EvalSymlinks(target)
		require.NoError(t, err)
		assert.Equal(t, expected, result)
	})
}

func TestReadFileLimited(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "receipt.png")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0600))

	t.Run("reads whole file under limit", func(t *testing.T) {
		data, err := ReadFileLimited(path, 100)
		require.NoError(t, err)
		assert.Equal(t, "0123456789", string(data))
	})

	t.Run("stops one byte past limit", func(t *testing.T) {
		data, err := ReadFileLimited(path, 4)
		require.NoError(t, err)
		assert.Len(t, data, 5)
	})

	t.Run("no limit", func(t *testing.T) {
		data, err := ReadFileLimited(path, 0)
		require.NoError(t, err)
		assert.Len(t, data, 10)
	})

	t.Run("rejects directories", func(t *testing.T) {
		_, err := ReadFileLimited(dir, 100)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadFileLimited(filepath.Join(dir, "missing.png"), 100)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
