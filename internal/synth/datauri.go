package synth

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrMalformedDataURI is returned for reference audio that is not a base64 data URI.
var ErrMalformedDataURI = errors.New("malformed data uri")

// EncodeDataURI wraps raw audio bytes as a self-describing base64 data URI.
func EncodeDataURI(data []byte) string {
	contentType := mediaType(mimetype.Detect(data).String())
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI splits a base64 data URI into content type and payload.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "data:")
	if !ok {
		return "", nil, ErrMalformedDataURI
	}

	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrMalformedDataURI
	}

	contentType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return "", nil, ErrMalformedDataURI
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, errors.Join(ErrMalformedDataURI, err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return contentType, data, nil
}

// mediaType drops parameters such as charset from a MIME string.
func mediaType(raw string) string {
	value, _, _ := strings.Cut(raw, ";")
	return strings.TrimSpace(value)
}
