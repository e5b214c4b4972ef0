// Package security provides path validation for files named by the user.
package security

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// dangerousChars contains shell metacharacters that have no business in a
// file name typed on the command line.
var dangerousChars = []string{";", "&", "|", "$", "`", "<", ">", "\n", "\r"}

// ValidateFilePath cleans path, makes it absolute and resolves symlinks.
// A path that does not exist yet is returned cleaned.
func ValidateFilePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("file path cannot be empty")
	}

	for _, char := range dangerousChars {
		if strings.Contains(path, char) {
			return "", fmt.Errorf("file path contains forbidden character %q: %s", char, path)
		}
	}

	cleanPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve file path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cleanPath, nil
		}
		return "", fmt.Errorf("failed to resolve file path: %w", err)
	}
	return resolvedPath, nil
}

// ReadFileLimited reads a regular file after validating its path. At most
// limit+1 bytes are read, so callers can tell an oversized file from one
// of exactly limit bytes without loading all of it. A limit <= 0 reads the
// whole file.
func ReadFileLimited(path string, limit int64) ([]byte, error) {
	cleanPath, err := ValidateFilePath(path)
	if err != nil {
		return nil, err
	}

	// #nosec G304 - path is validated above
	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}

	if limit <= 0 {
		return io.ReadAll(f)
	}
	return io.ReadAll(io.LimitReader(f, limit+1))
}
