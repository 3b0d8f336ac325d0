// Package storage owns the file tree uploads and exports live in, and the
// optional object-store mirror for export artifacts.
package storage

import (
	"fmt"
	"os"
	"path"
	"sort"
	"time"

	"github.com/spf13/afero"
	"github.com/zulandar/datayard/internal/models"
)

// Open returns a filesystem rooted at root, creating the root and the
// per-kind upload directories if needed. Paths handed to the returned Fs
// are relative to root and cannot escape it.
func Open(root string) (afero.Fs, error) {
	if root == "" {
		return nil, fmt.Errorf("storage: root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	fs := afero.NewBasePathFs(afero.NewOsFs(), root)
	if err := Prepare(fs); err != nil {
		return nil, err
	}
	return fs, nil
}

// Prepare creates the directory of every upload kind.
func Prepare(fs afero.Fs) error {
	for _, k := range []models.UploadKind{models.UploadData, models.UploadRelated, models.UploadExport} {
		if err := fs.MkdirAll(k.Dir(), 0o755); err != nil {
			return fmt.Errorf("storage: create %s: %w", k.Dir(), err)
		}
	}
	return nil
}

// Expired lists the regular files directly under dir last modified before
// cutoff, sorted by path.
func Expired(fs afero.Fs, dir string, cutoff time.Time) ([]string, error) {
	infos, err := afero.ReadDir(fs, dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", dir, err)
	}
	var out []string
	for _, fi := range infos {
		if fi.Mode().IsRegular() && fi.ModTime().Before(cutoff) {
			out = append(out, path.Join(dir, fi.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Remove deletes name. A file that is already gone is not an error.
func Remove(fs afero.Fs, name string) error {
	if err := fs.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: remove %s: %w", name, err)
	}
	return nil
}
