package batch

import (
	"fmt"
	"strings"

	"tts-batch/internal/domain"
	"tts-batch/internal/synth"
)

// Submission is one user request to synthesize the same text with several models.
type Submission struct {
	Selections []domain.Selection      `json:"selections"`
	RefAudio   string                  `json:"refAudio"`
	RefText    string                  `json:"refText"`
	GenText    string                  `json:"genText"`
	Language   string                  `json:"language,omitempty"`
	Voices     map[string]domain.Voice `json:"voices,omitempty"`
}

// ValidationError rejects a submission before any task is created.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error formats the offending field with its message.
func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the submission without touching any batch state.
func (s Submission) Validate() error {
	if len(s.Selections) == 0 {
		return &ValidationError{Field: "selections", Message: "select at least one model"}
	}

	seen := make(map[string]struct{}, len(s.Selections))
	for _, sel := range s.Selections {
		if strings.TrimSpace(sel.GroupName) == "" || strings.TrimSpace(sel.ModelName) == "" {
			return &ValidationError{Field: "selections", Message: "group and model names are required"}
		}
		key := sel.Key()
		if _, ok := seen[key]; ok {
			return &ValidationError{Field: "selections", Message: "duplicate model " + key}
		}
		seen[key] = struct{}{}
	}

	if strings.TrimSpace(s.GenText) == "" {
		return &ValidationError{Field: "genText", Message: "generation text is required"}
	}

	if err := validateAudio(s.RefAudio); err != nil {
		return &ValidationError{Field: "refAudio", Message: err.Error()}
	}
	for name, voice := range s.Voices {
		if strings.TrimSpace(name) == "" {
			return &ValidationError{Field: "voices", Message: "voice name is required"}
		}
		if err := validateAudio(voice.RefAudio); err != nil {
			return &ValidationError{Field: "voices", Message: fmt.Sprintf("voice %s: %v", name, err)}
		}
	}
	return nil
}

func validateAudio(uri string) error {
	if strings.TrimSpace(uri) == "" {
		return fmt.Errorf("reference audio is required")
	}
	_, data, err := synth.DecodeDataURI(uri)
	if err != nil {
		return fmt.Errorf("reference audio must be a base64 data uri")
	}
	if len(data) == 0 {
		return fmt.Errorf("reference audio is empty")
	}
	return nil
}

// CreateBatch builds one queued task per selection, in selection order.
// A maxRetries of zero disables automatic retries; a negative value takes
// the default budget.
func CreateBatch(sub Submission, maxRetries int) ([]domain.Task, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	if maxRetries < 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	tasks := make([]domain.Task, 0, len(sub.Selections))
	for _, sel := range sub.Selections {
		tasks = append(tasks, domain.Task{
			ModelKey:   sel.Key(),
			GroupName:  strings.TrimSpace(sel.GroupName),
			ModelName:  strings.TrimSpace(sel.ModelName),
			RefAudio:   sub.RefAudio,
			RefText:    sub.RefText,
			GenText:    sub.GenText,
			Language:   sub.Language,
			Voices:     sub.Voices,
			Status:     domain.TaskStatusQueued,
			MaxRetries: maxRetries,
		})
	}
	return tasks, nil
}
