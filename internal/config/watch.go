package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the config file at path whenever it changes on disk and
// hands the parsed result to onChange. The parent directory is watched as
// well so editors and SaveConfig, which replace the file by rename, are
// noticed. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	// Start from the current content so an untouched file does not trigger a reload.
	lastHash, _ := hashFile(absPath)
	zap.S().Infof("Watching %s for route changes", absPath)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			hash, err := hashFile(absPath)
			if err != nil {
				// Renamed away or mid-replace; the Create that follows will retry.
				continue
			}
			if hash == lastHash {
				continue
			}
			lastHash = hash

			cfg, err := LoadConfig(absPath)
			if err != nil {
				zap.S().Errorf("Ignoring unreadable config change in %s: %v", absPath, err)
				continue
			}
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			zap.S().Warnf("Config watcher error: %v", err)
		}
	}
}

func hashFile(path string) ([sha256.Size]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(data), nil
}
