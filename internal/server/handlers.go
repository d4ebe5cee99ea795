package server

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tts-batch/internal/batch"
	"tts-batch/internal/export"
)

// Handlers contains the batch HTTP handlers.
type Handlers struct {
	batches *batch.Manager
	sink    export.Sink
	now     func() time.Time
}

// NewHandlers creates handlers over the batch manager. Archive uploads go to sink.
func NewHandlers(batches *batch.Manager, sink export.Sink) *Handlers {
	return &Handlers{
		batches: batches,
		sink:    sink,
		now:     time.Now,
	}
}

// SubmitBatch handles POST /api/batches
func (h *Handlers) SubmitBatch(c *gin.Context) {
	var sub batch.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := h.batches.Submit(sub)
	if err != nil {
		var validationErr *batch.ValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message, "field": validationErr.Field})
			return
		}
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, state)
}

// GetBatch handles GET /api/batch
func (h *Handlers) GetBatch(c *gin.Context) {
	state, err := h.batches.Current()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// ClearBatch handles DELETE /api/batch
func (h *Handlers) ClearBatch(c *gin.Context) {
	if err := h.batches.Clear(); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RetryTask handles POST /api/batch/tasks/:index/retry
func (h *Handlers) RetryTask(c *gin.Context) {
	index, ok := taskIndex(c)
	if !ok {
		return
	}

	if err := h.batches.Retry(index); err != nil {
		h.fail(c, err)
		return
	}

	state, err := h.batches.Current()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// TaskAudio handles GET /api/batch/tasks/:index/audio
func (h *Handlers) TaskAudio(c *gin.Context) {
	index, ok := taskIndex(c)
	if !ok {
		return
	}

	task, err := h.batches.Audio(index)
	if err != nil {
		h.fail(c, err)
		return
	}

	name := export.FileName(task.ModelKey, task.ResultType, h.now())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, task.ResultType, task.ResultAudio)
}

// Archive handles GET /api/batch/archive
func (h *Handlers) Archive(c *gin.Context) {
	data, name, _, err := h.buildArchive()
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, "application/zip", data)
}

// UploadArchive handles POST /api/batch/archive/upload
func (h *Handlers) UploadArchive(c *gin.Context) {
	if h.sink == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no export sink configured"})
		return
	}

	data, name, files, err := h.buildArchive()
	if err != nil {
		h.fail(c, err)
		return
	}

	location, err := h.sink.Put(c.Request.Context(), name, "application/zip", data)
	if err != nil {
		log.Printf("[SERVER] archive upload failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"location": location, "name": name, "files": files})
}

// Events handles GET /api/batch/events?since=N
func (h *Handlers) Events(c *gin.Context) {
	since, ok := sinceParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.batches.Events().Since(since))
}

// buildArchive zips every completed task once the batch has settled.
func (h *Handlers) buildArchive() ([]byte, string, []string, error) {
	state, err := h.batches.Current()
	if err != nil {
		return nil, "", nil, err
	}
	if !state.BulkDownloadReady {
		if state.Counts.Active() > 0 {
			return nil, "", nil, batch.ErrBatchActive
		}
		return nil, "", nil, export.ErrNothingToExport
	}

	tasks, err := h.batches.Completed()
	if err != nil {
		return nil, "", nil, err
	}

	ts := h.now()
	var buf bytes.Buffer
	files, err := export.BuildArchive(&buf, tasks, ts)
	if err != nil {
		return nil, "", nil, err
	}
	return buf.Bytes(), export.ArchiveName(ts), files, nil
}

// fail maps batch errors onto HTTP statuses.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, batch.ErrNoBatch), errors.Is(err, batch.ErrTaskIndex):
		status = http.StatusNotFound
	case errors.Is(err, batch.ErrNotRetryable),
		errors.Is(err, batch.ErrNoAudio),
		errors.Is(err, batch.ErrBatchActive),
		errors.Is(err, export.ErrNothingToExport):
		status = http.StatusConflict
	default:
		log.Printf("[SERVER] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func taskIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task index must be an integer"})
		return 0, false
	}
	return index, true
}

func sinceParam(c *gin.Context) (int64, bool) {
	raw := c.Query("since")
	if raw == "" {
		return 0, true
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an integer"})
		return 0, false
	}
	return since, true
}
