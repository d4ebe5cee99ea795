package diagnostics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tts-batch/internal/domain"
	"tts-batch/internal/synth"
)

const apiCheckTimeout = 5 * time.Second

// Checker validates the synthesis API and required filesystem paths.
type Checker struct {
	fetchModels func(ctx context.Context, baseURL string) ([]domain.ModelGroup, error)
	mkdirAll    func(string, os.FileMode) error
	createTemp  func(string, string) (*os.File, error)
	remove      func(string) error
}

// NewChecker builds a checker using the real API client and OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		fetchModels: fetchModels,
		mkdirAll:    os.MkdirAll,
		createTemp:  os.CreateTemp,
		remove:      os.Remove,
	}
}

func fetchModels(ctx context.Context, baseURL string) ([]domain.ModelGroup, error) {
	client := synth.NewClient(baseURL, &http.Client{Timeout: apiCheckTimeout}, 0)
	return client.ListModels(ctx)
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkAPI(settings.APIBaseURL),
		c.checkWritableDir("output_dir", "Output directory", settings.OutputDir,
			"Choose a writable directory for exported audio."),
		c.checkWritableDir("snapshot_dir", "Batch snapshot location", snapshotDir(settings.SnapshotPath),
			"Choose a writable location so an interrupted batch can be resumed."),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkAPI verifies the synthesis API answers with a model catalog.
func (c *Checker) checkAPI(baseURL string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "tts_api",
		Name: "Synthesis API",
	}

	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Invalid API base URL: %q", baseURL)
		item.Hint = "Set an http or https URL such as http://127.0.0.1:8000."
		return item
	}

	ctx, cancel := context.WithTimeout(context.Background(), apiCheckTimeout)
	defer cancel()

	groups, err := c.fetchModels(ctx, baseURL)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot load models from %s: %v", baseURL, err)
		item.Hint = "Start the synthesis server or correct the API base URL in settings."
		return item
	}

	models := 0
	for _, group := range groups {
		models += len(group.Models)
	}
	if models == 0 {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("API at %s lists no models.", baseURL)
		item.Hint = "Load at least one model on the synthesis server before submitting a batch."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("%d models in %d groups at %s", models, len(groups), baseURL)
	return item
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(id string, name string, dir string, hint string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   id,
		Name: name,
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s is empty.", name)
		item.Hint = hint
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = hint
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

func snapshotDir(snapshotPath string) string {
	if strings.TrimSpace(snapshotPath) == "" {
		return ""
	}
	return filepath.Dir(snapshotPath)
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	fetchModels func(ctx context.Context, baseURL string) ([]domain.ModelGroup, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		fetchModels: fetchModels,
		mkdirAll:    mkdirAll,
		createTemp:  createTemp,
		remove:      remove,
	}
}
