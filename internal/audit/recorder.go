package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

// writeTimeout bounds a single put log insert.
const writeTimeout = 2 * time.Second

// Logger is the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder stores dispatched writes in a Repository.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder. logger may be nil.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger}
}

// ObservePut implements pv.PutObserver. A failed insert is logged; it never
// affects the write itself.
func (r *Recorder) ObservePut(ctx context.Context, rec pv.PutRecord) {
	value, err := json.Marshal(pv.JSONValue(rec.Value))
	if err != nil {
		value = []byte("null")
	}

	e := &Entry{
		PV:        rec.Name,
		Value:     string(value),
		Source:    rec.Source,
		Outcome:   rec.Outcome(),
		Duration:  rec.Duration,
		CreatedAt: rec.At,
	}
	if rec.Err != nil {
		e.Error = rec.Err.Error()
	}

	// The put's own context may already be done (e.g. a client that
	// disconnected after writing); the entry is still recorded.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Warn("recording put failed", "pv", rec.Name, "error", err)
	}
}
