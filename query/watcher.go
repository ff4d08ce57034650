package query

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadDelay is how long after the last artifact change the model is
// reloaded. Changes inside the window replace the pending reload.
const ReloadDelay = time.Second

// ErrWatchRemoteArtifact is returned by Watch when the model is fetched
// from a remote location; the local copy is written by the service itself.
var ErrWatchRemoteArtifact = errors.New("artifact watching requires a local model")

// Watch reloads the model whenever the local artifact is written or
// replaced. It blocks until ctx is cancelled.
func (s *Service) Watch(ctx context.Context) error {
	if s.cfg.ModelURL != "" {
		return ErrWatchRemoteArtifact
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory so atomic renames onto the artifact are seen.
	dir := filepath.Dir(s.cfg.ModelPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.cfg.ModelPath)
	s.logger.Info("Watching model artifact", "node", NodeName, "path", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			s.logger.Info("Model artifact changed", "node", NodeName, "op", event.Op.String())
			if err := s.Reinitialize(ReloadDelay); err != nil {
				s.logger.Warn("Failed to schedule model reload", "node", NodeName, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Artifact watcher error", "node", NodeName, "error", err)
		}
	}
}
