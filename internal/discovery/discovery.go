// Package discovery enumerates the files a scan should analyze.
package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Extensions is the fixed set of file extensions a scan picks up.
var Extensions = []string{".jpg", ".jpeg", ".png", ".webp", ".txt"}

// InvalidRootError reports a scan root that is missing or not a directory.
type InvalidRootError struct {
	Root string
	Err  error
}

func (e *InvalidRootError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid scan root %q: %v", e.Root, e.Err)
	}
	return fmt.Sprintf("invalid scan root %q: not a directory", e.Root)
}

func (e *InvalidRootError) Unwrap() error { return e.Err }

// ValidateRoot checks that root exists and is a directory.
func ValidateRoot(root string) error {
	if strings.TrimSpace(root) == "" {
		return &InvalidRootError{Root: root, Err: errors.New("empty path")}
	}
	info, err := os.Stat(root)
	if err != nil {
		return &InvalidRootError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return &InvalidRootError{Root: root}
	}
	return nil
}

// Supported reports whether path has one of the scanned extensions (case-insensitive).
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Discover walks root recursively and returns the absolute paths of all
// supported files, sorted lexicographically. Subdirectories that cannot be
// read are skipped.
func Discover(root string) ([]string, error) {
	if err := ValidateRoot(root); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &InvalidRootError{Root: root, Err: err}
	}

	var files []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == abs {
				return walkErr
			}
			slog.Warn("skipping unreadable path", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Type().IsRegular() && Supported(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", abs, err)
	}

	sort.Strings(files)
	return files, nil
}
