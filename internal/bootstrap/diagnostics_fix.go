package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tts-batch/internal/config"
	"tts-batch/internal/domain"
)

// FixDiagnostic applies the remediation for one failed diagnostic item and
// returns the refreshed report.
func (a *App) FixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	settingsChanged := false
	var fixErr error

	switch id {
	case "tts_api":
		settings, settingsChanged = fixAPIBaseURL(settings)
	case "output_dir":
		settings, settingsChanged, fixErr = fixOutputDir(settings)
	case "snapshot_dir":
		settings, settingsChanged, fixErr = fixSnapshotDir(settings)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	if settingsChanged {
		if saveErr := a.Store.Save(settings); saveErr != nil {
			report := a.refreshDiagnosticsFromSettings(settings)
			return report, fmt.Errorf("save settings after fix: %w", saveErr)
		}
		client := newSynthClient(settings)
		a.Batches.Configure(managerOptions(settings, client))
		a.mu.Lock()
		a.Catalog = client
		a.groups = nil
		a.mu.Unlock()
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	if fixErr != nil {
		return report, fixErr
	}
	return report, nil
}

// fixAPIBaseURL resets a malformed base URL to the local default. A
// well-formed but unreachable URL is left for the user to correct.
func fixAPIBaseURL(settings domain.Settings) (domain.Settings, bool) {
	if config.ValidAPIBaseURL(settings.APIBaseURL) {
		return settings, false
	}
	settings.APIBaseURL = config.DefaultAPIBaseURL
	return settings, true
}

func fixOutputDir(settings domain.Settings) (domain.Settings, bool, error) {
	outputDir := strings.TrimSpace(settings.OutputDir)
	changed := false
	if outputDir == "" {
		outputDir = config.DefaultSettings().OutputDir
		settings.OutputDir = outputDir
		changed = true
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return settings, changed, fmt.Errorf("create output directory %s: %w", outputDir, err)
	}

	return settings, changed, nil
}

func fixSnapshotDir(settings domain.Settings) (domain.Settings, bool, error) {
	snapshotPath := strings.TrimSpace(settings.SnapshotPath)
	changed := false
	if snapshotPath == "" {
		snapshotPath = config.DefaultSettings().SnapshotPath
		settings.SnapshotPath = snapshotPath
		changed = true
	}

	dir := filepath.Dir(snapshotPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return settings, changed, fmt.Errorf("create snapshot directory %s: %w", dir, err)
	}

	return settings, changed, nil
}
