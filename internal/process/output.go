package process

import (
	"bytes"
	"sync"
)

// maxLineLength bounds a buffered partial line; longer output is flushed
// as is.
const maxLineLength = 4096

// lineWriter logs everything written to it, one log record per line.
type lineWriter struct {
	logger Logger
	name   string
	stream string

	mu  sync.Mutex
	buf []byte
}

func newLineWriter(logger Logger, name, stream string) *lineWriter {
	return &lineWriter{logger: logger, name: name, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) >= maxLineLength {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.logger.Debug("process output", "name", w.name, "stream", w.stream, "line", string(line))
}
