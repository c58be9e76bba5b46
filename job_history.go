package runbus

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// HistorySink observes completed job records. Sinks run on the job's
// worker goroutine after the completion event; panics are contained by
// the manager.
type HistorySink interface {
	OnJobCompleted(rec JobRecord)
}

// HistorySinkFunc is an Adapter that lets a plain function satisfy
// HistorySink.
type HistorySinkFunc func(rec JobRecord)

func (f HistorySinkFunc) OnJobCompleted(rec JobRecord) { f(rec) }

// JSONLinesSink appends completed job records to a local file, one
// JSON object per line. Best-effort: write failures are reported
// through the error callback, if any, and otherwise dropped.
type JSONLinesSink struct {
	mu    sync.Mutex
	path  string
	onErr func(error)
}

// NewJSONLinesSink creates a sink writing to path, creating parent
// directories on first write.
func NewJSONLinesSink(path string, onErr func(error)) *JSONLinesSink {
	return &JSONLinesSink{path: path, onErr: onErr}
}

func (s *JSONLinesSink) OnJobCompleted(rec JobRecord) {
	line, err := json.Marshal(rec)
	if err != nil {
		s.fail(err)
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.fail(err)
			return
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.fail(err)
		return
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		s.fail(err)
	}
}

func (s *JSONLinesSink) fail(err error) {
	if s.onErr != nil {
		s.onErr(err)
	}
}
