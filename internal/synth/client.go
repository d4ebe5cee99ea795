package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tts-batch/internal/domain"
)

const (
	// DefaultStatusInterval is how often a pending request is polled.
	DefaultStatusInterval = 2 * time.Second
	defaultHTTPTimeout    = 5 * time.Minute
)

// Pending describes an accepted asynchronous request that has not produced audio yet.
type Pending struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	Position  int    `json:"position,omitempty"`
}

// Request is one synthesis call.
type Request struct {
	Task      domain.Task
	OnPending func(Pending)
}

// Client talks to the remote synthesis API.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	statusInterval time.Duration
	wait           func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client for baseURL. A nil httpClient uses a client with a long timeout.
func NewClient(baseURL string, httpClient *http.Client, statusInterval time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if statusInterval <= 0 {
		statusInterval = DefaultStatusInterval
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     httpClient,
		statusInterval: statusInterval,
		wait:           waitContext,
	}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type submissionKind int

const (
	kindImmediate submissionKind = iota
	kindPending
)

// submission is a decoded response: either audio or a pending envelope.
type submission struct {
	kind    submissionKind
	audio   domain.Audio
	pending Pending
}

type synthesizeBody struct {
	GroupName string               `json:"group_name"`
	ModelName string               `json:"model_name"`
	RefAudio  string               `json:"ref_audio"`
	RefText   string               `json:"ref_text"`
	GenText   string               `json:"gen_text"`
	Language  string               `json:"language,omitempty"`
	Voices    map[string]voiceBody `json:"voices,omitempty"`
}

type voiceBody struct {
	RefAudio string `json:"ref_audio"`
	RefText  string `json:"ref_text"`
}

type envelope struct {
	RequestID *string  `json:"request_id"`
	Status    string   `json:"status"`
	Position  *float64 `json:"position"`
}

func newSynthesizeBody(task domain.Task) synthesizeBody {
	body := synthesizeBody{
		GroupName: task.GroupName,
		ModelName: task.ModelName,
		RefAudio:  task.RefAudio,
		RefText:   task.RefText,
		GenText:   task.GenText,
		Language:  task.Language,
	}
	if len(task.Voices) > 0 {
		body.Voices = make(map[string]voiceBody, len(task.Voices))
		for name, voice := range task.Voices {
			body.Voices[name] = voiceBody{RefAudio: voice.RefAudio, RefText: voice.RefText}
		}
	}
	return body
}

// Submit synthesizes one task and returns its audio, following a pending
// request through the status endpoint until it resolves.
func (c *Client) Submit(ctx context.Context, req Request) (domain.Audio, error) {
	payload, err := json.Marshal(newSynthesizeBody(req.Task))
	if err != nil {
		return domain.Audio{}, fmt.Errorf("encode synthesis request: %w", err)
	}

	sub, err := c.fetch(ctx, http.MethodPost, c.baseURL+"/tts/synthesize", payload)
	if err != nil {
		return domain.Audio{}, err
	}

	switch sub.kind {
	case kindImmediate:
		return sub.audio, nil
	case kindPending:
		if sub.pending.RequestID == "" {
			return domain.Audio{}, &ProtocolError{Message: "pending response without request_id"}
		}
		notifyPending(req.OnPending, sub.pending)
		return c.await(ctx, sub.pending.RequestID, req.OnPending)
	default:
		return domain.Audio{}, &ProtocolError{Message: "unknown submission kind"}
	}
}

// await polls the status endpoint until audio is returned.
func (c *Client) await(ctx context.Context, requestID string, onPending func(Pending)) (domain.Audio, error) {
	statusURL := c.baseURL + "/tts/status/" + url.PathEscape(requestID)
	refetched := false

	for {
		sub, err := c.fetch(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
				return domain.Audio{}, fmt.Errorf("%w: %w", ErrRequestExpired, httpErr)
			}
			return domain.Audio{}, err
		}

		if sub.kind == kindImmediate {
			return sub.audio, nil
		}

		if sub.pending.Status == "completed" {
			if refetched {
				return domain.Audio{}, &ProtocolError{Message: "status completed but no audio returned"}
			}
			refetched = true
			logf("request %s completed, fetching audio", requestID)
			continue
		}

		if sub.pending.RequestID == "" {
			sub.pending.RequestID = requestID
		}
		notifyPending(onPending, sub.pending)

		if err := c.wait(ctx, c.statusInterval); err != nil {
			return domain.Audio{}, err
		}
	}
}

// fetch performs one request and decodes the response into a submission.
func (c *Client) fetch(ctx context.Context, method string, target string, payload []byte) (submission, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return submission{}, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "audio/*, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return submission{}, &NetworkError{Op: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return submission{}, &NetworkError{Op: "read " + method, URL: target, Err: err}
	}

	return decodeSubmission(resp.StatusCode, resp.Header.Get("Content-Type"), data)
}

// decodeSubmission turns a raw response into exactly one submission kind.
func decodeSubmission(status int, contentType string, data []byte) (submission, error) {
	if status < 200 || status > 299 {
		return submission{}, newHTTPError(status, data)
	}

	if !isJSON(contentType) {
		if len(data) == 0 {
			return submission{}, &ProtocolError{Message: "empty audio response"}
		}
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return submission{kind: kindImmediate, audio: domain.Audio{Data: data, ContentType: contentType}}, nil
	}

	if err := validateJSON(envelopeSchema, data); err != nil {
		return submission{}, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return submission{}, &ProtocolError{Message: fmt.Sprintf("decode envelope: %v", err), Body: truncate(string(data))}
	}

	pending := Pending{Status: env.Status}
	if env.RequestID != nil {
		pending.RequestID = *env.RequestID
	}
	if env.Position != nil {
		pending.Position = int(*env.Position)
	}
	return submission{kind: kindPending, pending: pending}, nil
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func notifyPending(onPending func(Pending), pending Pending) {
	if onPending == nil {
		return
	}
	onPending(pending)
}

// waitContext sleeps for d unless ctx ends first.
func waitContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func logf(format string, args ...any) {
	log.Printf("[SYNTH] "+format, args...)
}
