package config

import (
	"os"
	"path/filepath"

	"tts-batch/internal/domain"
)

const (
	// DefaultAPIBaseURL points at a locally running synthesis backend.
	DefaultAPIBaseURL = "http://127.0.0.1:8000"
	// DefaultPollIntervalMS is the scheduler tick and backoff base.
	DefaultPollIntervalMS = 2000
	// SnapshotName is the well-known key of the persisted batch.
	SnapshotName = "synthesisTasks"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		APIBaseURL:     DefaultAPIBaseURL,
		OutputDir:      filepath.Join(homeDir, "Documents", "TTS Results"),
		MaxRetries:     domain.DefaultMaxRetries,
		PollIntervalMS: DefaultPollIntervalMS,
		SnapshotPath:   filepath.Join(AppDir(homeDir), SnapshotName+".json"),
	}
}

// AppDir returns the per-user directory holding settings and snapshots.
func AppDir(homeDir string) string {
	return filepath.Join(homeDir, ".tts-batch")
}

// Normalize fills zero or invalid fields from defaults.
func Normalize(settings domain.Settings) domain.Settings {
	defaults := DefaultSettings()
	if settings.APIBaseURL == "" {
		settings.APIBaseURL = defaults.APIBaseURL
	}
	if settings.OutputDir == "" {
		settings.OutputDir = defaults.OutputDir
	}
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = defaults.MaxRetries
	}
	if settings.PollIntervalMS <= 0 {
		settings.PollIntervalMS = defaults.PollIntervalMS
	}
	if settings.SnapshotPath == "" {
		settings.SnapshotPath = defaults.SnapshotPath
	}
	return settings
}
