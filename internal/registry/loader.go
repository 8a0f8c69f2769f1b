// Package registry discovers TFLite model files on disk and exposes them
// as registry entries addressable by filename.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"microd/pkg/types"
)

// LoadDir scans a directory for *.tflite files and builds a registry from
// filenames. ID is the full filename (including extension); Name drops the
// extension; Path is the absolute file path. Entries come back sorted by ID
// so listings are stable across runs.
func LoadDir(dir string) ([]types.Model, error) {
	base, err := expandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".tflite") {
			continue
		}
		models = append(models, types.Model{
			ID:   name,
			Name: strings.TrimSuffix(name, filepath.Ext(name)),
			Path: filepath.Join(abs, name),
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// expandHome expands a leading '~' to the user's home directory.
func expandHome(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}
