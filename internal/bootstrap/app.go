package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"tts-batch/internal/batch"
	"tts-batch/internal/config"
	"tts-batch/internal/diagnostics"
	"tts-batch/internal/domain"
	"tts-batch/internal/export"
	"tts-batch/internal/snapshot"
	"tts-batch/internal/synth"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

const (
	batchEventName  = "batch:event"
	eventBufferSize = 64
	maxRefAudioSize = 50 << 20
)

var audioDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Audio files",
		Pattern:     "*.wav;*.mp3;*.flac;*.ogg;*.m4a;*.aac;*.webm",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// App wires configuration, the batch manager, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Batches     *batch.Manager
	Catalog     modelLister
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	now         func() time.Time
	emit        func(ctx context.Context, name string, data ...interface{})

	mu          sync.Mutex
	runtimeCtx  context.Context
	groups      []domain.ModelGroup
	unsubscribe func()
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(config.AppDir(homeDir), "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)
	client := newSynthClient(settings)

	return &App{
		Settings:    settings,
		Store:       store,
		Batches:     batch.NewManager(managerOptions(settings, client), batch.NewEventBus(1000)),
		Catalog:     client,
		Diagnostics: report,
		assets:      assets,
		checker:     checker,
	}, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "TTS Batch",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores the Wails runtime context, starts forwarding batch events
// and resumes a persisted batch.
func (a *App) Startup(ctx context.Context) {
	bus := a.Batches.Events()
	last := bus.LastSeq()
	events, cancel := bus.Subscribe(eventBufferSize)

	a.mu.Lock()
	a.runtimeCtx = ctx
	a.unsubscribe = cancel
	a.mu.Unlock()

	go a.forwardEvents(bus, events, last)

	state, resumed, err := a.Batches.Resume()
	if err != nil {
		log.Printf("[BATCH] resume failed: %v", err)
		return
	}
	if resumed {
		log.Printf("[BATCH] resumed batch %s with %d tasks", state.ID, len(state.Tasks))
	}
}

// Shutdown stops the running batch and event forwarding. The snapshot is kept.
func (a *App) Shutdown(ctx context.Context) {
	a.Batches.Close()

	a.mu.Lock()
	cancel := a.unsubscribe
	a.unsubscribe = nil
	a.runtimeCtx = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then reconfigures the
// synthesis client for the next batch and refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	client := newSynthClient(normalized)
	a.Batches.Configure(managerOptions(normalized, client))

	a.mu.Lock()
	a.Settings = normalized
	a.Catalog = client
	a.groups = nil
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns the checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	return a.refreshDiagnosticsFromSettings(settings), nil
}

// PickReferenceAudio opens a native file dialog and returns the chosen
// recording as a data URI. An empty string means the dialog was cancelled.
func (a *App) PickReferenceAudio() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select reference audio",
		Filters: audioDialogFilter,
	})
	if err != nil {
		return "", err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	return readReferenceAudio(path)
}

// PickOutputDirectory opens a native directory picker for audio exports.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select output directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		target = a.currentSettings().OutputDir
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// StartBatch validates the form and replaces the current batch with a new one.
func (a *App) StartBatch(sub batch.Submission) (batch.State, error) {
	return a.Batches.Submit(sub)
}

// RetryTask manually retries a permanently failed task.
func (a *App) RetryTask(index int) (batch.State, error) {
	if err := a.Batches.Retry(index); err != nil {
		return batch.State{}, err
	}
	return a.Batches.Current()
}

// CurrentBatch returns the current batch, or an empty state when there is none.
func (a *App) CurrentBatch() batch.State {
	state, err := a.Batches.Current()
	if err != nil {
		return batch.State{}
	}
	return state
}

// BatchEvents returns all events with sequence greater than sinceSeq.
func (a *App) BatchEvents(sinceSeq int64) []batch.Event {
	return a.Batches.Events().Since(sinceSeq)
}

// ClearBatch stops the current batch and discards its snapshot.
func (a *App) ClearBatch() error {
	return a.Batches.Clear()
}

// ExportTask writes the audio of one completed task into the output directory
// and returns the written path.
func (a *App) ExportTask(index int) (string, error) {
	task, err := a.Batches.Audio(index)
	if err != nil {
		return "", err
	}

	name := export.FileName(task.ModelKey, task.ResultType, a.clock())
	sink := export.NewLocalSink(a.currentSettings().OutputDir)
	return sink.Put(context.Background(), name, task.ResultType, task.ResultAudio)
}

// ExportAll writes a zip of every completed task into the output directory.
// It is only available once no task is queued or processing.
func (a *App) ExportAll() (string, error) {
	state, err := a.Batches.Current()
	if err != nil {
		return "", err
	}
	if !state.BulkDownloadReady {
		if state.Counts.Active() > 0 {
			return "", batch.ErrBatchActive
		}
		return "", export.ErrNothingToExport
	}

	tasks, err := a.Batches.Completed()
	if err != nil {
		return "", err
	}

	ts := a.clock()
	var buf bytes.Buffer
	if _, err := export.BuildArchive(&buf, tasks, ts); err != nil {
		return "", err
	}

	sink := export.NewLocalSink(a.currentSettings().OutputDir)
	return sink.Put(context.Background(), export.ArchiveName(ts), "application/zip", buf.Bytes())
}

// forwardEvents pushes bus events to the frontend until the subscription
// ends. last is the newest sequence the frontend already has; events the bus
// dropped for this subscriber are re-read from its history.
func (a *App) forwardEvents(bus *batch.EventBus, events <-chan batch.Event, last int64) {
	for event := range events {
		a.mu.Lock()
		ctx := a.runtimeCtx
		emit := a.emit
		a.mu.Unlock()

		if emit == nil {
			emit = wailsruntime.EventsEmit
		}
		for _, pending := range bus.Catchup(last, event) {
			if ctx != nil {
				emit(ctx, batchEventName, pending)
			}
			last = pending.Seq
		}
	}
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings)
	}
	return a.Diagnostics
}

func (a *App) currentSettings() domain.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Settings
}

func (a *App) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// newSynthClient builds the API client for the configured base URL.
func newSynthClient(settings domain.Settings) *synth.Client {
	return synth.NewClient(settings.APIBaseURL, nil, time.Duration(settings.PollIntervalMS)*time.Millisecond)
}

// managerOptions maps settings onto batch manager options.
func managerOptions(settings domain.Settings, client batch.Submitter) batch.ManagerOptions {
	return batch.ManagerOptions{
		Client:       client,
		Snapshots:    snapshot.NewJSONFile(settings.SnapshotPath),
		PollInterval: time.Duration(settings.PollIntervalMS) * time.Millisecond,
		MaxRetries:   settings.MaxRetries,
	}
}

// readReferenceAudio loads a recording from disk as a data URI.
func readReferenceAudio(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("read reference audio: %w", err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("reference audio %s is empty", filepath.Base(path))
	}
	if info.Size() > maxRefAudioSize {
		return "", fmt.Errorf("reference audio %s exceeds %d MB", filepath.Base(path), maxRefAudioSize>>20)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read reference audio: %w", err)
	}
	return synth.EncodeDataURI(data), nil
}

// normalizeSettings trims user inputs and fills missing values from defaults.
func normalizeSettings(settings domain.Settings) domain.Settings {
	return config.Normalize(config.Clean(settings))
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
