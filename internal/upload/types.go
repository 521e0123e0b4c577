// Package upload accepts chunked and single-shot file uploads, stages chunks
// on disk, and reassembles each logical file exactly once when its last
// chunk arrives.
package upload

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Chunk submission outcomes reported to the client.
const (
	StatusReceived   = "received"
	StatusAssembling = "assembling"
)

// ChunkRequest is one piece of a logical file. Index is 1-based.
type ChunkRequest struct {
	FileName string
	Index    int
	Total    int
	Payload  io.Reader
}

// ChunkResponse is returned to the caller once a chunk is staged.
type ChunkResponse struct {
	Status   string `json:"status"`
	FileName string `json:"fileName"`
	Received int    `json:"received"`
	Total    int    `json:"total"`
}

// Job is a completed logical file waiting to be concatenated.
type Job struct {
	FileName   string
	Total      int
	StagingDir string
	RequestID  string
}

// stem is the file name without its final extension; it names the staging
// directory.
func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// partName is the staged file name for a 1-based chunk index.
func partName(index int) string {
	return fmt.Sprintf("%04d.part", index)
}
