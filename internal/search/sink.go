package search

import (
	"context"
	"sync"
)

// Sink receives the events of a streaming search in order. A non-nil error
// from any method aborts the scan.
type Sink interface {
	Progress(scanned, total int64) error
	FileResult(name, path string) error
	Occurrence(name string, occ Occurrence) error
	Done() error
}

// EventKind identifies a streaming search event.
type EventKind int

const (
	EventProgress EventKind = iota
	EventFileResult
	EventOccurrence
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventFileResult:
		return "file_result"
	case EventOccurrence:
		return "occurrence"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one streaming search event. Only the fields for Kind are set.
type Event struct {
	Kind       EventKind
	Scanned    int64
	Total      int64
	FileName   string
	FilePath   string
	Occurrence Occurrence
}

// ChanSink is a Sink that forwards events over a buffered channel, letting
// the scanning goroutine run ahead of a slower consumer. Sends block when
// the buffer is full and fail once ctx is done.
type ChanSink struct {
	ctx    context.Context
	events chan Event

	once sync.Once
	mu   sync.Mutex
	err  error
}

// NewChanSink creates a ChanSink with the given buffer size.
func NewChanSink(ctx context.Context, buffer int) *ChanSink {
	if buffer < 0 {
		buffer = 0
	}
	return &ChanSink{ctx: ctx, events: make(chan Event, buffer)}
}

// Events returns the receive side. It is closed by Close.
func (s *ChanSink) Events() <-chan Event {
	return s.events
}

// Close records the producer's final error and closes the channel. Only the
// producer may call it, once its last send has returned.
func (s *ChanSink) Close(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.events)
	})
}

// Err returns the error passed to Close.
func (s *ChanSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ChanSink) send(ev Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *ChanSink) Progress(scanned, total int64) error {
	return s.send(Event{Kind: EventProgress, Scanned: scanned, Total: total})
}

func (s *ChanSink) FileResult(name, path string) error {
	return s.send(Event{Kind: EventFileResult, FileName: name, FilePath: path})
}

func (s *ChanSink) Occurrence(name string, occ Occurrence) error {
	return s.send(Event{Kind: EventOccurrence, FileName: name, Occurrence: occ})
}

func (s *ChanSink) Done() error {
	return s.send(Event{Kind: EventDone})
}
