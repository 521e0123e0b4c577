package analytics

import "time"

type EventType string

const (
	EventSearch  EventType = "search"
	EventCatalog EventType = "catalog"
)

// SearchEvent is published after every batch or streaming search.
type SearchEvent struct {
	Type         EventType `json:"type"`
	Mode         string    `json:"mode"`
	Query        string    `json:"query"`
	Files        int       `json:"files"`
	MatchedFiles int       `json:"matched_files"`
	Occurrences  int       `json:"occurrences"`
	BytesScanned int64     `json:"bytes_scanned"`
	Pruned       int       `json:"pruned"`
	LatencyMs    int64     `json:"latency_ms"`
	Failed       bool      `json:"failed"`
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id,omitempty"`
}

// CatalogEvent is published for every catalog mutation.
type CatalogEvent struct {
	Type      EventType `json:"type"`
	Op        string    `json:"op"`
	FileName  string    `json:"file_name"`
	Pruned    bool      `json:"pruned,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}
