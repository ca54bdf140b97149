package pv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu   sync.Mutex
	recs []PutRecord
}

func (o *recordingObserver) ObservePut(_ context.Context, rec PutRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recs = append(o.recs, rec)
}

func newService(t *testing.T, defs []Definition, observers ...PutObserver) (*Service, *Dispatcher, *MockLogger) {
	t.Helper()
	logger := &MockLogger{}
	reg, err := NewRegistry(Options{Prefix: "p2p:", Logger: logger}, fixedDefs(), defs)
	require.NoError(t, err)
	disp := NewDispatcher(logger, observers...)
	return NewService(reg, disp), disp, logger
}

func TestService_PutVisibleBeforeReturn(t *testing.T) {
	svc, disp, _ := newService(t, []Definition{
		{Name: "setpoint", Type: ScalarOf(Int16), Flags: "RW"},
	})

	s, err := svc.Put(context.Background(), "p2p:setpoint", float64(-12), "test")
	require.NoError(t, err)
	assert.Equal(t, int16(-12), s.Value.Raw())

	v, err := svc.Get("p2p:setpoint")
	require.NoError(t, err)
	assert.Equal(t, int16(-12), v.Get().Value.Raw())
	assert.Equal(t, s.Timestamp, v.Get().Timestamp)
	assert.Equal(t, uint64(1), disp.Dispatched())
}

func TestService_PutRejections(t *testing.T) {
	svc, disp, _ := newService(t, []Definition{
		{Name: "setpoint", Type: ScalarOf(Uint8), Flags: "RW"},
	})
	ctx := context.Background()

	_, err := svc.Put(ctx, "p2p:nope", 1, "test")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Put(ctx, "p2p:cycle", 1, "test")
	assert.ErrorIs(t, err, ErrReadOnly)

	_, err = svc.Put(ctx, "p2p:setpoint", 256, "test")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	assert.Zero(t, disp.Dispatched())
}

func TestDispatch_CallbackReceivesUnwrappedValue(t *testing.T) {
	var got any
	svc, _, _ := newService(t, []Definition{
		{
			Name:  "mode",
			Type:  EnumOf("Auto", "Manual"),
			Flags: "RW",
			OnPut: func(_ context.Context, raw any) error {
				got = raw
				return nil
			},
		},
	})

	_, err := svc.Put(context.Background(), "p2p:mode", "Manual", "test")
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestDispatch_CallbackFailureStillAccepted(t *testing.T) {
	obs := &recordingObserver{}
	svc, disp, logger := newService(t, []Definition{
		{
			Name:  "fails",
			Type:  ScalarOf(Int32),
			Flags: "RW",
			OnPut: func(context.Context, any) error { return errors.New("backend refused") },
		},
		{
			Name:  "panics",
			Type:  ScalarOf(Int32),
			Flags: "RW",
			OnPut: func(context.Context, any) error { panic("oops") },
		},
	}, obs)
	ctx := context.Background()

	s, err := svc.Put(ctx, "p2p:fails", 7, "test")
	require.NoError(t, err)
	assert.Equal(t, int32(7), s.Value.Raw())

	s, err = svc.Put(ctx, "p2p:panics", 8, "test")
	require.NoError(t, err)
	assert.Equal(t, int32(8), s.Value.Raw())

	assert.Equal(t, uint64(2), disp.CallbackFailures())
	assert.Equal(t, 2, logger.warnCount())

	require.Len(t, obs.recs, 2)
	assert.ErrorIs(t, obs.recs[0].Err, ErrCallbackFailed)
	assert.ErrorIs(t, obs.recs[1].Err, ErrCallbackFailed)
	assert.Equal(t, "test", obs.recs[0].Source)
	assert.Equal(t, "p2p:fails", obs.recs[0].Name)
}

func TestDispatch_SubscriberSeesValueBeforeAck(t *testing.T) {
	svc, _, _ := newService(t, []Definition{
		{Name: "sp", Type: ScalarOf(Int32), Flags: "RW"},
	})

	notified := make(chan Update, 1)
	svc.Subscribe(func(u Update) {
		if u.Name == "p2p:sp" {
			notified <- u
		}
	})

	_, err := svc.Put(context.Background(), "p2p:sp", 3, "test")
	require.NoError(t, err)

	select {
	case u := <-notified:
		assert.Equal(t, int32(3), u.Sample.Value.Raw())
	default:
		t.Fatal("subscriber not notified before Put returned")
	}
}

func TestDispatch_TimestampsAdvance(t *testing.T) {
	svc, disp, _ := newService(t, []Definition{
		{Name: "sp", Type: ScalarOf(Int32), Flags: "RW"},
	})
	tick := startup
	disp.now = func() time.Time {
		tick = tick.Add(time.Millisecond)
		return tick
	}

	first, err := svc.Put(context.Background(), "p2p:sp", 1, "test")
	require.NoError(t, err)
	second, err := svc.Put(context.Background(), "p2p:sp", 2, "test")
	require.NoError(t, err)
	assert.True(t, second.Timestamp.After(first.Timestamp))
}

func TestPutRecord_OutcomeAndTransport(t *testing.T) {
	ok := PutRecord{Source: "http:console-1@10.0.0.5"}
	assert.Equal(t, PutOK, ok.Outcome())
	assert.Equal(t, "http", ok.Transport())

	failed := PutRecord{Source: "control", Err: errors.New("boom")}
	assert.Equal(t, PutCallbackError, failed.Outcome())
	assert.Equal(t, "control", failed.Transport())
}
