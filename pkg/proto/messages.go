// Package proto defines the message types exchanged over docstore's
// JSON-over-TCP command port (see pkg/rpc). The HTTP API uses the same JSON
// shapes for list and search results.
package proto

// Document is one catalog entry.
type Document struct {
	ID        int64  `json:"id"`
	FileName  string `json:"fileName"`
	FilePath  string `json:"filePath"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}

// ListRequest is the input to DocStore.List.
type ListRequest struct{}

// ListResponse is the output of DocStore.List.
type ListResponse struct {
	Documents []Document `json:"documents"`
}

// SearchRequest is the input to DocStore.Search.
type SearchRequest struct {
	Query string `json:"query"`
}

// Occurrence is a single match of the pattern inside a file. Start and End
// are byte offsets; End is exclusive.
type Occurrence struct {
	Start   int64  `json:"start"`
	End     int64  `json:"end"`
	Context string `json:"context"`
}

// FileMatch groups the occurrences found in one file.
type FileMatch struct {
	FileName    string       `json:"fileName"`
	FilePath    string       `json:"filePath"`
	Occurrences []Occurrence `json:"occurrences"`
}

// SearchResponse is the output of DocStore.Search.
type SearchResponse struct {
	Query     string      `json:"query"`
	Results   []FileMatch `json:"results"`
	LatencyMs int64       `json:"latencyMs"`
}

// DeleteRequest is the input to DocStore.Delete.
type DeleteRequest struct {
	FileName string `json:"fileName"`
}

// DeleteResponse confirms the deletion.
type DeleteResponse struct {
	Deleted bool   `json:"deleted"`
	Message string `json:"message"`
}

// StatRequest is the input to DocStore.Stat.
type StatRequest struct {
	FileName string `json:"fileName"`
}

// StatResponse describes a stored file.
type StatResponse struct {
	Document
	SizeBytes  int64 `json:"sizeBytes"`
	ModifiedAt int64 `json:"modifiedAt"`
}

// Streaming search events sent over the progress channel. Type is one of
// the Event* constants; only the fields relevant to the type are set.
const (
	EventProgress   = "search_progress"
	EventResult     = "result"
	EventOccurrence = "occurrence"
	EventDone       = "done"
	EventError      = "error"
)

// StreamRequest is the first message a client sends on the search socket.
type StreamRequest struct {
	Query string `json:"query"`
}

// StreamEvent is one message on the search socket.
type StreamEvent struct {
	Type       string      `json:"type"`
	SessionID  string      `json:"sessionId,omitempty"`
	Scanned    int64       `json:"scanned"`
	Total      int64       `json:"total"`
	Percent    float64     `json:"percent,omitempty"`
	FileName   string      `json:"fileName,omitempty"`
	FilePath   string      `json:"filePath,omitempty"`
	Occurrence *Occurrence `json:"occurrence,omitempty"`
	Message    string      `json:"message,omitempty"`
}
