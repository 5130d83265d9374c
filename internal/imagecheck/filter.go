package imagecheck

import (
	"fmt"
	"net/http"
	"strings"
)

// Filter screens supplied reference images by size and format before any of
// them are persisted or sent downstream.
type Filter struct {
	minBytes int
	maxBytes int
}

type Result struct {
	Index  int
	OK     bool
	Reason string
}

const (
	defaultMinBytes = 10 * 1024
	defaultMaxBytes = 15 * 1024 * 1024
)

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

func NewFilter(minBytes, maxBytes int) *Filter {
	if minBytes <= 0 {
		minBytes = defaultMinBytes
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Filter{minBytes: minBytes, maxBytes: maxBytes}
}

// Check validates one image payload. The content type is sniffed from the
// bytes; the declared type is only a fallback for short payloads.
func (f *Filter) Check(index int, data []byte, declaredType string) Result {
	if len(data) == 0 {
		return Result{Index: index, Reason: "empty image payload"}
	}
	if len(data) < f.minBytes {
		return Result{Index: index, Reason: fmt.Sprintf("image too small: %d bytes (min %d)", len(data), f.minBytes)}
	}
	if len(data) > f.maxBytes {
		return Result{Index: index, Reason: fmt.Sprintf("image too large: %d bytes (max %d)", len(data), f.maxBytes)}
	}

	contentType := strings.ToLower(strings.TrimSpace(http.DetectContentType(data)))
	if contentType == "application/octet-stream" && declaredType != "" {
		contentType = strings.ToLower(strings.TrimSpace(declaredType))
	}
	if !allowedTypes[contentType] {
		return Result{Index: index, Reason: fmt.Sprintf("unsupported format: %s", contentType)}
	}

	return Result{Index: index, OK: true}
}
