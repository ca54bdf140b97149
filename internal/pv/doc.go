// Package pv holds the process-variable core of the IOC: the type mapper,
// the typed value variants, the registry of variables and the write
// dispatcher.
//
// A Registry is built once at startup from fixed control definitions and
// definitions discovered from the plant. After that its membership never
// changes. Values change only through Registry.Publish, Variable.Post or
// Dispatcher.Dispatch, each of which stores a new Sample atomically and
// notifies subscribers in publish order.
//
// Client writes enter through Service.Put:
//
//	svc := pv.NewService(reg, pv.NewDispatcher(logger))
//	sample, err := svc.Put(ctx, "p2p:Run", "Stop", "http:10.0.0.5")
//	if errors.Is(err, pv.ErrReadOnly) {
//	    // reject
//	}
//
// Backend types map onto element codes as follows; a trailing "*" on the
// type name selects a vector:
//
//	int8 b   uint8 B   int16 h   uint16 H
//	int32 i  uint32 I  int64 l   uint64 L   char s
package pv
