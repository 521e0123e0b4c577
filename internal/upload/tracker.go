package upload

import (
	"net/http"
	"sync"

	"github.com/im7mortal/kmutex"

	apperrors "github.com/Adithya-Monish-Kumar-K/docstore/pkg/errors"
)

// fileState is the progress of one logical file. It is guarded by the
// file's keyed lock, not by Tracker.mu.
type fileState struct {
	total      int
	stem       string
	stagingDir string
	received   map[int]struct{}
}

// Tracker records which chunks of each logical file have been staged.
//
// Callers hold the file's keyed lock (Lock/Unlock) for the whole
// check-then-act sequence; Tracker.mu only guards the maps and is never held
// across I/O. A staging directory (the file's stem) stays reserved from the
// first chunk until its assembly finishes, so two logical files sharing a
// stem never write into the same directory.
type Tracker struct {
	locks *kmutex.Kmutex

	mu      sync.Mutex
	files   map[string]*fileState
	stems   map[string]string
	pending map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		locks:   kmutex.New(),
		files:   make(map[string]*fileState),
		stems:   make(map[string]string),
		pending: make(map[string]struct{}),
	}
}

// Lock acquires the per-file lock for name.
func (t *Tracker) Lock(name string) { t.locks.Lock(name) }

// Unlock releases the per-file lock for name.
func (t *Tracker) Unlock(name string) { t.locks.Unlock(name) }

// acquire returns the state for name, creating it with total on first use.
func (t *Tracker) acquire(name string, total int) (*fileState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, busy := t.pending[name]; busy {
		return nil, apperrors.Newf(apperrors.ErrUploadConflict, http.StatusConflict,
			"%s is being assembled; retry when it completes", name)
	}
	if st, ok := t.files[name]; ok {
		if st.total != total {
			return nil, apperrors.Invalid("totalChunks %d does not match %d recorded for %s", total, st.total, name)
		}
		return st, nil
	}

	s := stem(name)
	if owner, taken := t.stems[s]; taken && owner != name {
		return nil, apperrors.Newf(apperrors.ErrUploadConflict, http.StatusConflict,
			"staging directory %q is in use by %s", s, owner)
	}
	st := &fileState{total: total, stem: s, received: make(map[int]struct{})}
	t.files[name] = st
	t.stems[s] = name
	return st, nil
}

// markPending clears the chunk state for name once its assembly has been
// enqueued, keeping its stem reserved.
func (t *Tracker) markPending(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, name)
	t.pending[name] = struct{}{}
}

// finish releases the stem reservation after assembly, successful or not.
func (t *Tracker) finish(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, name)
	if t.stems[stem(name)] == name {
		delete(t.stems, stem(name))
	}
}

// drop forgets name entirely, used when its first chunk could not be staged.
func (t *Tracker) drop(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.files[name]; ok && len(st.received) == 0 {
		delete(t.files, name)
		if t.stems[st.stem] == name {
			delete(t.stems, st.stem)
		}
	}
}

// Active returns the number of logical files with staged chunks.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}

// Received returns how many distinct chunks of name are staged.
func (t *Tracker) Received(name string) int {
	t.Lock(name)
	defer t.Unlock(name)
	t.mu.Lock()
	st, ok := t.files[name]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	return len(st.received)
}
