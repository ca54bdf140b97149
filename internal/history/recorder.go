package history

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

// Defaults.
const (
	DefaultBufferSize = 1024

	// maxVectorFields caps the per-element fields written for a vector.
	// Longer vectors are truncated; "len" still carries the full length.
	maxVectorFields = 64
)

// Writer stores one PV sample. Satisfied by *influxdb.Client.
type Writer interface {
	WritePVSample(name, typeName string, fields map[string]any, ts time.Time)
}

// Logger is the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// Options configures a Recorder.
type Options struct {
	BufferSize int
	Logger     Logger
}

// Recorder writes PV updates to a Writer.
type Recorder struct {
	w       Writer
	logger  Logger
	updates chan pv.Update

	written atomic.Uint64
	dropped atomic.Uint64
}

// New creates a recorder writing to w.
func New(w Writer, opts Options) *Recorder {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Recorder{
		w:       w,
		logger:  opts.Logger,
		updates: make(chan pv.Update, opts.BufferSize),
	}
}

// Run records every PV's current sample, then every update, until ctx is
// cancelled.
func (r *Recorder) Run(ctx context.Context, svc *pv.Service) {
	types := make(map[string]pv.Type)
	for _, v := range svc.List() {
		types[v.Name()] = v.Type()
	}

	cancel := svc.Subscribe(r.enqueue)
	defer cancel()

	for _, v := range svc.List() {
		r.record(pv.Update{Name: v.Name(), Sample: v.Get()}, v.Type())
	}
	r.logger.Info("PV history recording started", "pvs", len(types))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("PV history recording stopped",
				"written", r.written.Load(),
				"dropped", r.dropped.Load())
			return
		case u := <-r.updates:
			t, ok := types[u.Name]
			if !ok {
				continue
			}
			r.record(u, t)
		}
	}
}

// Written returns the number of samples handed to the writer.
func (r *Recorder) Written() uint64 {
	return r.written.Load()
}

// Dropped returns the number of updates discarded because the recorder
// was behind.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) enqueue(u pv.Update) {
	select {
	case r.updates <- u:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) record(u pv.Update, t pv.Type) {
	fields := Fields(u.Sample.Value)
	if len(fields) == 0 {
		r.logger.Debug("PV sample has no recordable fields", "pv", u.Name)
		return
	}
	r.w.WritePVSample(u.Name, t.String(), fields, u.Sample.Timestamp)
	r.written.Add(1)
}

// Fields converts a PV value into point fields.
func Fields(v pv.Value) map[string]any {
	switch val := v.(type) {
	case pv.Enum:
		return map[string]any{
			"value":  int64(val.Index),
			"choice": val.Choice(),
		}
	case pv.Scalar:
		if s, ok := val.V.(string); ok {
			return map[string]any{"text": s}
		}
		if f, ok := pv.Float(val); ok {
			return map[string]any{"value": f}
		}
	case pv.Vector:
		return vectorFields(val)
	}
	return nil
}

func vectorFields(v pv.Vector) map[string]any {
	n := v.Len()
	fields := map[string]any{"len": int64(n)}
	if n == 0 {
		return fields
	}
	rv := reflect.ValueOf(v.V)
	for i := 0; i < n && i < maxVectorFields; i++ {
		el := rv.Index(i).Interface()
		if s, ok := el.(string); ok {
			fields[fmt.Sprintf("v%d", i)] = s
			continue
		}
		if f, ok := pv.Float(pv.Scalar{V: el}); ok {
			fields[fmt.Sprintf("v%d", i)] = f
		}
	}
	return fields
}
