package pv

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// PutRecord describes one dispatched write, for observers such as the
// audit trail and metrics.
type PutRecord struct {
	Name   string
	Source string
	Value  Value
	// Err is the put callback's failure, if any. The write was still accepted.
	Err      error
	Duration time.Duration
	At       time.Time
}

// Put outcomes reported to observers.
const (
	PutOK            = "ok"
	PutCallbackError = "callback_error"
)

// Outcome returns PutOK or PutCallbackError.
func (r PutRecord) Outcome() string {
	if r.Err != nil {
		return PutCallbackError
	}
	return PutOK
}

// Transport returns the part of Source before the first ':' ("http",
// "mqtt"), which is bounded and suitable as a metric label.
func (r PutRecord) Transport() string {
	if i := strings.IndexByte(r.Source, ':'); i >= 0 {
		return r.Source[:i]
	}
	return r.Source
}

// PutObserver is notified after each dispatched write has been published.
type PutObserver interface {
	ObservePut(ctx context.Context, rec PutRecord)
}

// Dispatcher is the single write path for writable PVs. Access and type
// checks happen before Dispatch is called (see Service.Put).
type Dispatcher struct {
	logger    Logger
	now       func() time.Time
	observers []PutObserver

	dispatched      atomic.Uint64
	callbackFailure atomic.Uint64
}

// NewDispatcher creates a dispatcher. Observers are called in order after
// every write.
func NewDispatcher(logger Logger, observers ...PutObserver) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		logger:    logger,
		now:       time.Now,
		observers: observers,
	}
}

// Dispatch applies an accepted write:
//  1. unwrap the value (choice index for enums)
//  2. run the PV's put callback, if any; failures and panics are logged,
//     never returned, and the write stays accepted
//  3. publish the value with the current time
//  4. notify observers
//
// The returned sample is already visible to readers and subscribers.
func (d *Dispatcher) Dispatch(ctx context.Context, v *Variable, value Value, source string) Sample {
	start := d.now()
	raw := value.Raw()

	var cbErr error
	if v.onPut != nil {
		cbErr = d.runCallback(ctx, v, raw)
		if cbErr != nil {
			d.callbackFailure.Add(1)
			d.logger.Warn("PV put callback failed", "pv", v.name, "source", source, "error", cbErr)
		}
	}

	s := Sample{Value: value, Timestamp: d.now()}
	v.publish(s)
	d.dispatched.Add(1)

	d.logger.Debug("PV put dispatched", "pv", v.name, "source", source, "value", raw)

	rec := PutRecord{
		Name:     v.name,
		Source:   source,
		Value:    value,
		Err:      cbErr,
		Duration: d.now().Sub(start),
		At:       s.Timestamp,
	}
	for _, o := range d.observers {
		o.ObservePut(ctx, rec)
	}
	return s
}

// runCallback invokes the put callback, converting panics into errors.
func (d *Dispatcher) runCallback(ctx context.Context, v *Variable, raw any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", ErrCallbackFailed, rec)
		}
	}()
	if cbErr := v.onPut(ctx, raw); cbErr != nil {
		return fmt.Errorf("%w: %w", ErrCallbackFailed, cbErr)
	}
	return nil
}

// Dispatched returns the number of writes dispatched.
func (d *Dispatcher) Dispatched() uint64 {
	return d.dispatched.Load()
}

// CallbackFailures returns the number of put callbacks that failed or panicked.
func (d *Dispatcher) CallbackFailures() uint64 {
	return d.callbackFailure.Load()
}
