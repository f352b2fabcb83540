package config

import (
	"context"
	"crypto/sha256"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// SpacesWatcher polls spaces.yaml and hands every new valid version to Apply.
// Versions are told apart by content, so an edit is seen even when the file
// keeps its modification time.
type SpacesWatcher struct {
	Path     string
	Interval time.Duration
	Logger   zerolog.Logger
	// Apply stores a loaded config. On error the version stays unapplied and
	// the next tick tries again.
	Apply func(context.Context, *SpacesConfig) error

	applied  [sha256.Size]byte
	rejected [sha256.Size]byte
}

// Start applies the current file and then polls it until ctx ends. A missing
// or invalid file at start is returned; later failures are logged and the
// last applied version stays in effect.
func (w *SpacesWatcher) Start(ctx context.Context) error {
	if w.Path == "" {
		w.Path = "configs/spaces.yaml"
	}
	if w.Interval <= 0 {
		w.Interval = 30 * time.Second
	}
	if w.Apply == nil {
		return errors.New("spaces watcher: nil apply")
	}
	if _, err := w.check(ctx); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				changed, err := w.check(ctx)
				if err == nil && changed {
					w.Logger.Info().Str("path", w.Path).Msg("spaces config reloaded")
				}
			}
		}
	}()
	return nil
}

// check applies the file if its content differs from the applied version.
func (w *SpacesWatcher) check(ctx context.Context) (bool, error) {
	data, err := os.ReadFile(w.Path)
	if err != nil {
		w.Logger.Warn().Err(err).Str("path", w.Path).Msg("spaces config unreadable")
		return false, err
	}
	sum := sha256.Sum256(data)
	if sum == w.applied {
		return false, nil
	}

	cfg, err := ParseSpacesConfig(data)
	if err != nil {
		// Logged once per bad version.
		if sum != w.rejected {
			w.rejected = sum
			w.Logger.Error().Err(err).Str("path", w.Path).Msg("spaces config rejected, keeping previous")
		}
		return false, err
	}
	if err := w.Apply(ctx, cfg); err != nil {
		w.Logger.Error().Err(err).Str("path", w.Path).Msg("spaces config not applied")
		return false, err
	}
	w.applied = sum
	return true, nil
}
