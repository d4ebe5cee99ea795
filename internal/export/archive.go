package export

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"tts-batch/internal/domain"
)

// ErrNothingToExport is returned when no completed task holds audio.
var ErrNothingToExport = errors.New("no completed audio to export")

const defaultExtension = ".wav"

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// FileName returns "{modelKey with non-alphanumerics as _}_{unixMillis}{ext}".
func FileName(modelKey string, contentType string, ts time.Time) string {
	return fmt.Sprintf("%s_%d%s", unsafeChars.ReplaceAllString(modelKey, "_"), ts.UnixMilli(), Extension(contentType))
}

// ArchiveName returns the zip name for a bulk download at ts.
func ArchiveName(ts time.Time) string {
	return fmt.Sprintf("tts_results_%d.zip", ts.UnixMilli())
}

// Extension maps an audio content type to a file extension, defaulting to .wav.
func Extension(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		return defaultExtension
	}

	mt := mimetype.Lookup(mediaType)
	if mt == nil || mt.Extension() == "" {
		return defaultExtension
	}
	return mt.Extension()
}

// BuildArchive writes every completed task with audio into a zip on w and
// returns the entry names in batch order.
func BuildArchive(w io.Writer, tasks []domain.Task, ts time.Time) ([]string, error) {
	completed := make([]domain.Task, 0, len(tasks))
	for _, task := range tasks {
		if task.HasAudio() {
			completed = append(completed, task)
		}
	}
	if len(completed) == 0 {
		return nil, ErrNothingToExport
	}

	zw := zip.NewWriter(w)
	names := make([]string, 0, len(completed))
	used := make(map[string]int, len(completed))

	for _, task := range completed {
		name := uniqueName(FileName(task.ModelKey, task.ResultType, ts), used)
		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: ts,
		})
		if err != nil {
			return nil, fmt.Errorf("create zip entry %s: %w", name, err)
		}
		if _, err := entry.Write(task.ResultAudio); err != nil {
			return nil, fmt.Errorf("write zip entry %s: %w", name, err)
		}
		names = append(names, name)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize zip: %w", err)
	}
	return names, nil
}

// uniqueName suffixes names that sanitise to the same file.
func uniqueName(name string, used map[string]int) string {
	count := used[name]
	used[name] = count + 1
	if count == 0 {
		return name
	}

	dot := strings.LastIndex(name, ".")
	return fmt.Sprintf("%s_%d%s", name[:dot], count+1, name[dot:])
}
