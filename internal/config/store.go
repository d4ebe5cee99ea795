package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"tts-batch/internal/domain"
)

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// SettingsError reports a settings field that cannot be saved.
type SettingsError struct {
	Field   string
	Message string
}

func (e *SettingsError) Error() string {
	return fmt.Sprintf("settings %s: %s", e.Field, e.Message)
}

// JSONStore keeps settings in one JSON file next to the batch snapshot.
type JSONStore struct {
	path string
}

// NewJSONStore creates a JSON-backed settings store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Load reads settings from disk or returns defaults when missing. The file
// is decoded over the defaults, so fields an older version never wrote keep
// their default value. An unusable API URL is loaded as is so diagnostics
// can report and fix it.
func (s *JSONStore) Load() (domain.Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return domain.Settings{}, err
	}

	cfg := DefaultSettings()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.Settings{}, fmt.Errorf("parse %s: %w", s.path, err)
	}

	return Normalize(Clean(cfg)), nil
}

// Save validates settings and replaces the file through a temporary copy.
func (s *JSONStore) Save(cfg domain.Settings) error {
	cfg = Clean(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Clean trims whitespace from every text field and the trailing slash of
// the API URL.
func Clean(cfg domain.Settings) domain.Settings {
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.OutputDir = strings.TrimSpace(cfg.OutputDir)
	cfg.SnapshotPath = strings.TrimSpace(cfg.SnapshotPath)
	return cfg
}

// ValidAPIBaseURL reports whether raw is an absolute http(s) URL.
func ValidAPIBaseURL(raw string) bool {
	parsed, err := url.Parse(raw)
	return err == nil && (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// Validate rejects settings the batch runner cannot work with.
func Validate(cfg domain.Settings) error {
	if !ValidAPIBaseURL(cfg.APIBaseURL) {
		return &SettingsError{Field: "apiBaseUrl", Message: fmt.Sprintf("%q is not an http(s) URL", cfg.APIBaseURL)}
	}
	if cfg.MaxRetries < 0 {
		return &SettingsError{Field: "maxRetries", Message: "must not be negative"}
	}
	if cfg.PollIntervalMS <= 0 {
		return &SettingsError{Field: "pollIntervalMs", Message: "must be positive"}
	}
	if cfg.SnapshotPath == "" {
		return &SettingsError{Field: "snapshotPath", Message: "must not be empty"}
	}
	if filepath.Clean(cfg.SnapshotPath) == filepath.Clean(cfg.OutputDir) {
		return &SettingsError{Field: "snapshotPath", Message: "must not be the output directory"}
	}
	return nil
}
