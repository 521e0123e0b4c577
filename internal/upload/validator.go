package upload

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/docstore/pkg/errors"
)

const maxFileNameLength = 255

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

// Unwrap makes validation failures match apperrors.ErrInvalidInput.
func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

// ValidateFileName rejects names that are empty, too long, or that would
// escape the upload root.
func ValidateFileName(name string) error {
	if msg := fileNameProblem(name); msg != "" {
		return &ValidationError{Fields: map[string]string{"fileName": msg}}
	}
	return nil
}

func fileNameProblem(name string) string {
	switch {
	case strings.TrimSpace(name) == "":
		return "file name is required"
	case len(name) > maxFileNameLength:
		return fmt.Sprintf("file name must be at most %d bytes", maxFileNameLength)
	case name == "." || name == "..":
		return "file name must not be a directory reference"
	case strings.ContainsAny(name, `/\`):
		return "file name must not contain path separators"
	case strings.ContainsRune(name, 0):
		return "file name must not contain NUL"
	case strings.HasPrefix(name, "."):
		return "file name must not start with a dot"
	case stem(name) == "":
		return "file name must have a non-empty stem"
	}
	return ""
}

// ValidateChunk checks the chunk header fields: 1 <= Index <= Total.
func ValidateChunk(req ChunkRequest) error {
	errs := make(map[string]string)
	if msg := fileNameProblem(req.FileName); msg != "" {
		errs["fileName"] = msg
	}
	if req.Total < 1 {
		errs["totalChunks"] = "total chunks must be at least 1"
	}
	if req.Index < 1 {
		errs["chunkNumber"] = "chunk number must be at least 1"
	} else if req.Total >= 1 && req.Index > req.Total {
		errs["chunkNumber"] = fmt.Sprintf("chunk number %d exceeds total %d", req.Index, req.Total)
	}
	if req.Payload == nil {
		errs["chunk"] = "chunk payload is required"
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
