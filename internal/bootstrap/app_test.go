package bootstrap

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"tts-batch/internal/batch"
	"tts-batch/internal/domain"
	"tts-batch/internal/export"
	"tts-batch/internal/snapshot"
	"tts-batch/internal/synth"
)

const testRefAudio = "data:audio/wav;base64,UklGRiQAAABXQVZF"

// fakeStore returns deterministic settings for App tests.
type fakeStore struct {
	mu       sync.Mutex
	settings domain.Settings
	saved    []domain.Settings
	saveErr  error
}

// Load returns preconfigured settings.
func (s *fakeStore) Load() (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

// Save records settings and replaces the loaded value.
func (s *fakeStore) Save(settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.settings = settings
	s.saved = append(s.saved, settings)
	return nil
}

// fakeSubmitter answers synthesis calls through an injected function.
type fakeSubmitter struct {
	submit func(ctx context.Context, req synth.Request) (domain.Audio, error)
}

// Submit delegates to the injected function or returns a short wav.
func (f *fakeSubmitter) Submit(ctx context.Context, req synth.Request) (domain.Audio, error) {
	if f.submit == nil {
		return domain.Audio{Data: []byte("RIFF" + req.Task.ModelKey), ContentType: "audio/wav"}, nil
	}
	return f.submit(ctx, req)
}

func newTestApp(t *testing.T, submitter batch.Submitter) (*App, *fakeStore) {
	t.Helper()
	root := t.TempDir()
	store := &fakeStore{settings: domain.Settings{
		APIBaseURL:     "http://127.0.0.1:8000",
		OutputDir:      filepath.Join(root, "out"),
		MaxRetries:     3,
		PollIntervalMS: 10,
		SnapshotPath:   filepath.Join(root, "snapshot.json"),
	}}

	app := &App{
		Settings: store.settings,
		Store:    store,
		Batches: batch.NewManager(batch.ManagerOptions{
			Client:       submitter,
			Snapshots:    snapshot.NewMemory(),
			PollInterval: 10 * time.Millisecond,
			MaxRetries:   3,
		}, batch.NewEventBus(100)),
		now: func() time.Time { return time.UnixMilli(1700000000000) },
	}
	t.Cleanup(app.Batches.Close)
	return app, store
}

func testSubmission() batch.Submission {
	return batch.Submission{
		Selections: []domain.Selection{
			{GroupName: "f5", ModelName: "base"},
			{GroupName: "xtts", ModelName: "v2"},
		},
		RefAudio: testRefAudio,
		RefText:  "reference",
		GenText:  "hello there",
	}
}

// waitForSettled polls the current batch until no task is active.
func waitForSettled(t *testing.T, app *App) batch.State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		state := app.CurrentBatch()
		if state.ID != "" && state.Counts.Active() == 0 {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for batch to settle: %+v", app.CurrentBatch().Counts)
	return batch.State{}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

// TestStartBatchRunsToCompletion checks that a submitted batch settles and publishes events.
func TestStartBatchRunsToCompletion(t *testing.T) {
	app, _ := newTestApp(t, &fakeSubmitter{})

	state, err := app.StartBatch(testSubmission())
	if err != nil {
		t.Fatalf("start batch: %v", err)
	}
	if len(state.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(state.Tasks))
	}

	settled := waitForSettled(t, app)
	if settled.Counts.Completed != 2 {
		t.Fatalf("completed = %d, want 2", settled.Counts.Completed)
	}
	if !settled.BulkDownloadReady {
		t.Fatal("expected bulk download to be ready")
	}

	var sawSettled bool
	for _, event := range app.BatchEvents(0) {
		if event.Type == batch.EventTypeSettled {
			sawSettled = true
		}
	}
	if !sawSettled {
		t.Fatal("expected a settled event")
	}
}

// TestStartBatchRejectsInvalidSubmission ensures validation errors surface unchanged.
func TestStartBatchRejectsInvalidSubmission(t *testing.T) {
	app, _ := newTestApp(t, &fakeSubmitter{})

	sub := testSubmission()
	sub.GenText = "  "
	_, err := app.StartBatch(sub)

	var validationErr *batch.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if validationErr.Field != "genText" {
		t.Fatalf("field = %s, want genText", validationErr.Field)
	}
	if state := app.CurrentBatch(); state.ID != "" {
		t.Fatalf("expected no batch, got %s", state.ID)
	}
}

// TestExportTaskWritesAudioFile checks single-task export naming and content.
func TestExportTaskWritesAudioFile(t *testing.T) {
	app, store := newTestApp(t, &fakeSubmitter{})

	if _, err := app.StartBatch(testSubmission()); err != nil {
		t.Fatalf("start batch: %v", err)
	}
	waitForSettled(t, app)

	path, err := app.ExportTask(0)
	if err != nil {
		t.Fatalf("export task: %v", err)
	}
	want := filepath.Join(store.settings.OutputDir, "f5_base_1700000000000.wav")
	if path != want {
		t.Fatalf("path = %s, want %s", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if string(data) != "RIFFf5/base" {
		t.Fatalf("data = %q, want RIFFf5/base", data)
	}
}

// TestExportAllWritesArchive checks the bulk zip holds every completed task.
func TestExportAllWritesArchive(t *testing.T) {
	app, _ := newTestApp(t, &fakeSubmitter{})

	if _, err := app.StartBatch(testSubmission()); err != nil {
		t.Fatalf("start batch: %v", err)
	}
	waitForSettled(t, app)

	path, err := app.ExportAll()
	if err != nil {
		t.Fatalf("export all: %v", err)
	}
	if filepath.Base(path) != "tts_results_1700000000000.zip" {
		t.Fatalf("archive = %s", filepath.Base(path))
	}

	reader, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer reader.Close()
	if len(reader.File) != 2 {
		t.Fatalf("entries = %d, want 2", len(reader.File))
	}
}

// TestExportAllRejectsActiveBatch ensures bulk export waits for the batch to settle.
func TestExportAllRejectsActiveBatch(t *testing.T) {
	release := make(chan struct{})
	app, _ := newTestApp(t, &fakeSubmitter{submit: func(ctx context.Context, req synth.Request) (domain.Audio, error) {
		select {
		case <-release:
			return domain.Audio{Data: []byte("RIFF"), ContentType: "audio/wav"}, nil
		case <-ctx.Done():
			return domain.Audio{}, ctx.Err()
		}
	}})
	defer close(release)

	if _, err := app.StartBatch(testSubmission()); err != nil {
		t.Fatalf("start batch: %v", err)
	}
	if _, err := app.ExportAll(); !errors.Is(err, batch.ErrBatchActive) {
		t.Fatalf("error = %v, want %v", err, batch.ErrBatchActive)
	}
}

// TestExportAllWithoutCompletedAudio reports nothing to export once every task failed.
func TestExportAllWithoutCompletedAudio(t *testing.T) {
	app, _ := newTestApp(t, &fakeSubmitter{submit: func(context.Context, synth.Request) (domain.Audio, error) {
		return domain.Audio{}, synth.ErrRequestExpired
	}})

	if _, err := app.StartBatch(testSubmission()); err != nil {
		t.Fatalf("start batch: %v", err)
	}
	state := waitForSettled(t, app)
	if state.Counts.PermanentlyFailed != 2 {
		t.Fatalf("permanently failed = %d, want 2", state.Counts.PermanentlyFailed)
	}

	if _, err := app.ExportAll(); !errors.Is(err, export.ErrNothingToExport) {
		t.Fatalf("error = %v, want %v", err, export.ErrNothingToExport)
	}
}

// TestRetryTaskRequeuesPermanentFailure checks manual retry through the App.
func TestRetryTaskRequeuesPermanentFailure(t *testing.T) {
	var mu sync.Mutex
	fail := true
	app, _ := newTestApp(t, &fakeSubmitter{submit: func(context.Context, synth.Request) (domain.Audio, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return domain.Audio{}, synth.ErrRequestExpired
		}
		return domain.Audio{Data: []byte("RIFF"), ContentType: "audio/wav"}, nil
	}})

	if _, err := app.StartBatch(testSubmission()); err != nil {
		t.Fatalf("start batch: %v", err)
	}
	waitForSettled(t, app)

	mu.Lock()
	fail = false
	mu.Unlock()

	if _, err := app.RetryTask(1); err != nil {
		t.Fatalf("retry: %v", err)
	}
	state := waitForSettled(t, app)
	if state.Tasks[1].Status != domain.TaskStatusCompleted {
		t.Fatalf("task 1 = %s, want completed", state.Tasks[1].Status)
	}
	if state.Tasks[0].Status != domain.TaskStatusPermanentlyFailed {
		t.Fatalf("task 0 = %s, want permanently_failed", state.Tasks[0].Status)
	}

	if _, err := app.RetryTask(1); !errors.Is(err, batch.ErrNotRetryable) {
		t.Fatalf("second retry error = %v, want %v", err, batch.ErrNotRetryable)
	}
}

// TestClearBatchDropsCurrentBatch ensures clear leaves no batch behind.
func TestClearBatchDropsCurrentBatch(t *testing.T) {
	app, _ := newTestApp(t, &fakeSubmitter{})

	if _, err := app.StartBatch(testSubmission()); err != nil {
		t.Fatalf("start batch: %v", err)
	}
	if err := app.ClearBatch(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if state := app.CurrentBatch(); state.ID != "" {
		t.Fatalf("expected no batch, got %s", state.ID)
	}
	if err := app.ClearBatch(); !errors.Is(err, batch.ErrNoBatch) {
		t.Fatalf("second clear error = %v, want %v", err, batch.ErrNoBatch)
	}
}

// TestSaveSettingsNormalizesAndReconfigures checks trimming, defaults and catalog reset.
func TestSaveSettingsNormalizesAndReconfigures(t *testing.T) {
	app, store := newTestApp(t, &fakeSubmitter{})
	app.groups = []domain.ModelGroup{{Name: "stale"}}

	saved, err := app.SaveSettings(domain.Settings{
		APIBaseURL: " http://tts.local:9000/ ",
		OutputDir:  "  " + t.TempDir() + "  ",
	})
	if err != nil {
		t.Fatalf("save settings: %v", err)
	}
	if saved.APIBaseURL != "http://tts.local:9000" {
		t.Fatalf("APIBaseURL = %q", saved.APIBaseURL)
	}
	if saved.MaxRetries != domain.DefaultMaxRetries {
		t.Fatalf("MaxRetries = %d, want %d", saved.MaxRetries, domain.DefaultMaxRetries)
	}
	if saved.PollIntervalMS <= 0 || saved.SnapshotPath == "" {
		t.Fatalf("expected defaults to be filled, got %+v", saved)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saves = %d, want 1", len(store.saved))
	}
	if app.groups != nil {
		t.Fatal("expected model catalog cache to be reset")
	}
	client, ok := app.Catalog.(*synth.Client)
	if !ok || client.BaseURL() != "http://tts.local:9000" {
		t.Fatalf("catalog client not reconfigured: %#v", app.Catalog)
	}
}

// TestForwardEventsEmitsToRuntime checks bus events reach the runtime emitter.
func TestForwardEventsEmitsToRuntime(t *testing.T) {
	app, _ := newTestApp(t, &fakeSubmitter{})

	var mu sync.Mutex
	var names []string
	app.runtimeCtx = context.Background()
	app.emit = func(_ context.Context, name string, _ ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, name)
	}

	bus := app.Batches.Events()
	last := bus.LastSeq()
	events, cancel := bus.Subscribe(8)
	done := make(chan struct{})
	go func() {
		app.forwardEvents(bus, events, last)
		close(done)
	}()

	app.Batches.Events().Publish(batch.Event{Type: batch.EventTypeBatch, Message: "hello"})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(names)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(names) != 1 || names[0] != batchEventName {
		t.Fatalf("emitted = %v, want [%s]", names, batchEventName)
	}
}

// TestForwardEventsRecoversDroppedEvents checks events dropped for a full
// subscription are emitted from history in order.
func TestForwardEventsRecoversDroppedEvents(t *testing.T) {
	app, _ := newTestApp(t, &fakeSubmitter{})

	var mu sync.Mutex
	var seqs []int64
	app.runtimeCtx = context.Background()
	app.emit = func(_ context.Context, _ string, data ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		seqs = append(seqs, data[0].(batch.Event).Seq)
	}

	bus := batch.NewEventBus(100)
	events, cancel := bus.Subscribe(1)
	for i := 0; i < 3; i++ {
		bus.Publish(batch.Event{Type: batch.EventTypeStatus})
	}

	done := make(chan struct{})
	go func() {
		app.forwardEvents(bus, events, 0)
		close(done)
	}()

	emitted := func() []int64 {
		mu.Lock()
		defer mu.Unlock()
		return append([]int64(nil), seqs...)
	}
	waitUntil(t, func() bool { return len(emitted()) == 3 })
	bus.Publish(batch.Event{Type: batch.EventTypeSettled})
	waitUntil(t, func() bool { return len(emitted()) == 4 })

	cancel()
	<-done

	if got, want := emitted(), []int64{1, 2, 3, 4}; !reflect.DeepEqual(got, want) {
		t.Fatalf("emitted seqs = %v, want %v", got, want)
	}
}

// TestReadReferenceAudioEncodesDataURI checks picked files become data URIs.
func TestReadReferenceAudioEncodesDataURI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.wav")
	wav := []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00")
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		t.Fatalf("write ref: %v", err)
	}

	uri, err := readReferenceAudio(path)
	if err != nil {
		t.Fatalf("read ref: %v", err)
	}
	contentType, data, err := synth.DecodeDataURI(uri)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if contentType != "audio/wav" {
		t.Fatalf("content type = %s, want audio/wav", contentType)
	}
	if string(data) != string(wav) {
		t.Fatal("decoded data does not match file")
	}
}

// TestReadReferenceAudioRejectsEmptyFile ensures empty recordings are refused.
func TestReadReferenceAudioRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write ref: %v", err)
	}
	if _, err := readReferenceAudio(path); err == nil {
		t.Fatal("expected error for empty reference audio")
	}
}

// TestRuntimeContextRequiresStartup ensures dialogs fail before Wails startup.
func TestRuntimeContextRequiresStartup(t *testing.T) {
	app := &App{}
	if _, err := app.PickOutputDirectory(); err == nil {
		t.Fatal("expected runtime context error")
	}
	if _, err := app.PickReferenceAudio(); err == nil {
		t.Fatal("expected runtime context error")
	}
}
