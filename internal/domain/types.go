package domain

import "strings"

// TaskStatus tracks one model's synthesis request through its retry lifecycle.
type TaskStatus string

const (
	TaskStatusQueued            TaskStatus = "queued"
	TaskStatusProcessing        TaskStatus = "processing"
	TaskStatusCompleted         TaskStatus = "completed"
	TaskStatusFailed            TaskStatus = "failed"
	TaskStatusPermanentlyFailed TaskStatus = "permanently_failed"
)

// DefaultMaxRetries is the automatic retry budget of a task.
const DefaultMaxRetries = 3

// Voice is an extra named reference voice forwarded with a synthesis request.
type Voice struct {
	RefAudio string `json:"refAudio"`
	RefText  string `json:"refText,omitempty"`
}

// Task is one per-model synthesis request of a batch.
type Task struct {
	ModelKey   string           `json:"modelKey" bson:"modelKey"`
	GroupName  string           `json:"groupName" bson:"groupName"`
	ModelName  string           `json:"modelName" bson:"modelName"`
	RefAudio   string           `json:"refAudio" bson:"refAudio"`
	RefText    string           `json:"refText" bson:"refText"`
	GenText    string           `json:"genText" bson:"genText"`
	Language   string           `json:"language,omitempty" bson:"language,omitempty"`
	Voices     map[string]Voice `json:"voices,omitempty" bson:"voices,omitempty"`
	Status     TaskStatus       `json:"status" bson:"status"`
	RequestID  string           `json:"requestId,omitempty" bson:"requestId,omitempty"`
	RetryCount int              `json:"retryCount" bson:"retryCount"`
	MaxRetries int              `json:"maxRetries" bson:"maxRetries"`
	LastError  string           `json:"lastError,omitempty" bson:"lastError,omitempty"`

	// ResultAudio is transient and never part of a persisted snapshot.
	ResultAudio []byte `json:"-" bson:"-"`
	ResultType  string `json:"-" bson:"-"`
}

// HasAudio reports whether the task holds a downloadable result.
func (t Task) HasAudio() bool {
	return t.Status == TaskStatusCompleted && len(t.ResultAudio) > 0
}

// IsActive reports whether the task can still change without user action.
func (t Task) IsActive() bool {
	switch t.Status {
	case TaskStatusQueued, TaskStatusProcessing, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// WithoutAudio returns a copy safe to persist or hand to the UI.
func (t Task) WithoutAudio() Task {
	t.ResultAudio = nil
	t.ResultType = ""
	return t
}

// Selection names one backend model chosen by the user.
type Selection struct {
	GroupName string `json:"groupName"`
	ModelName string `json:"modelName"`
}

// Key returns the composite "{group}/{model}" identifier.
func (s Selection) Key() string {
	return ModelKey(s.GroupName, s.ModelName)
}

// ModelKey joins group and model names into a task identifier.
func ModelKey(group, model string) string {
	return strings.TrimSpace(group) + "/" + strings.TrimSpace(model)
}

// ModelGroup is one backend model family as listed by the remote API.
type ModelGroup struct {
	Name     string   `json:"name"`
	Language []string `json:"language"`
	Models   []string `json:"models"`
}

// Audio is a synthesized audio payload and its content type.
type Audio struct {
	Data        []byte
	ContentType string
}

// Counts summarises a batch by task status.
type Counts struct {
	Total             int `json:"total"`
	Queued            int `json:"queued"`
	Processing        int `json:"processing"`
	Completed         int `json:"completed"`
	Failed            int `json:"failed"`
	PermanentlyFailed int `json:"permanentlyFailed"`
}

// Active returns the number of tasks still moving on their own.
func (c Counts) Active() int {
	return c.Queued + c.Processing + c.Failed
}

// Settled reports whether no task can change without manual intervention.
func (c Counts) Settled() bool {
	return c.Total > 0 && c.Active() == 0
}

// BulkDownloadReady reports whether the batch settled with completed tasks.
// It cannot see whether those tasks still hold audio.
func (c Counts) BulkDownloadReady() bool {
	return c.Completed > 0 && c.Active() == 0
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	APIBaseURL     string `json:"apiBaseUrl"`
	OutputDir      string `json:"outputDir"`
	MaxRetries     int    `json:"maxRetries"`
	PollIntervalMS int    `json:"pollIntervalMs"`
	SnapshotPath   string `json:"snapshotPath"`
}
