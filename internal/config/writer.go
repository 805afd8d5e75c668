package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
)

// SaveConfig writes cfg to path as indented JSON. The file is replaced with a
// rename so a crash mid-write leaves the previous version in place.
func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to set config file mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// FileWriter persists route snapshots into the configuration file, keeping
// every other setting of its base config.
type FileWriter struct {
	Path string

	mu   sync.Mutex
	base *Config
}

func NewFileWriter(path string, base *Config) *FileWriter {
	return &FileWriter{Path: path, base: base}
}

// SetBase replaces the settings written alongside the routes, e.g. after the
// file was edited and reloaded.
func (w *FileWriter) SetBase(base *Config) {
	w.mu.Lock()
	w.base = base
	w.mu.Unlock()
}

func (w *FileWriter) WriteRoutes(_ context.Context, routes map[string]netip.AddrPort) error {
	w.mu.Lock()
	base := w.base
	w.mu.Unlock()
	return SaveConfig(w.Path, base.WithRoutes(routes))
}

func (w *FileWriter) String() string {
	return "config file " + w.Path
}
