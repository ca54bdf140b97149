package plant

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer serves backend on a loopback listener and returns its URL.
func startServer(t *testing.T, backend Connector) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(backend, nil).Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		<-done
	})
	return "tcp://" + ln.Addr().String()
}

func dialTest(t *testing.T, url string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), Config{
		Connection:     url,
		ConnectTimeout: time.Second,
		RequestTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestParseTCPAddress(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "host and port", url: "tcp://plant.local:50001", want: "plant.local:50001"},
		{name: "default port", url: "tcp://plant.local", want: "plant.local:50000"},
		{name: "ip", url: "tcp://10.0.0.5:6000", want: "10.0.0.5:6000"},
		{name: "wrong scheme", url: "unix:///run/plant", wantErr: true},
		{name: "missing host", url: "tcp://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTCPAddress(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, request(cmdGet, []string{"temp"})))

	assert.Equal(t, uint32(buf.Len()-frameHeaderSize), binary.BigEndian.Uint32(buf.Bytes()[:4]))

	body, err := readFrame(&buf)
	require.NoError(t, err)
	assert.JSONEq(t, `["get",["temp"]]`, string(body))
}

func TestReadFrame_Oversized(t *testing.T) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], maxFrameSize+1)
	_, err := readFrame(bytes.NewReader(hdr[:]))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestReadFrame_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, map[string]int{"v": 1}))
	truncated := buf.Bytes()[:buf.Len()-2]

	_, err := readFrame(bytes.NewReader(truncated))
	assert.Error(t, err)
}

func TestRemoteError(t *testing.T) {
	assert.ErrorIs(t, remoteError([]byte(`{"ERR":"no such register"}`)), ErrRemote)
	assert.Contains(t, remoteError([]byte(`{"ERR":"no such register"}`)).Error(), "no such register")
	assert.NoError(t, remoteError([]byte(`{"temp":{"v":1}}`)))
	assert.NoError(t, remoteError([]byte(`[1,2]`)))
}

func TestDescriptor_JSON(t *testing.T) {
	in := `{"type":"int16","desc":"Setpoint","fbits":"RW","limitLow":0,"limitHigh":400,"units":"dC","other":true}`

	var d Descriptor
	require.NoError(t, json.Unmarshal([]byte(in), &d))
	assert.Equal(t, "int16", d.Type)
	assert.Equal(t, "Setpoint", d.Desc)
	assert.Equal(t, "RW", d.Fbits)
	assert.Equal(t, json.Number("0"), d.Display[KeyLimitLow])
	assert.Equal(t, json.Number("400"), d.Display[KeyLimitHigh])
	assert.Equal(t, "dC", d.Display[KeyUnits])
	assert.NotContains(t, d.Display, "other")
	assert.NotContains(t, d.Display, KeyFormat)

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"int16","desc":"Setpoint","fbits":"RW","limitLow":0,"limitHigh":400,"units":"dC"}`, string(out))
}

func TestDescriptor_MissingType(t *testing.T) {
	var d Descriptor
	require.NoError(t, json.Unmarshal([]byte(`{"type":7,"desc":"no type"}`), &d))
	assert.Empty(t, d.Type)
	assert.Equal(t, "no type", d.Desc)
}

// serveOnce answers every request on the first connection with body.
func serveOnce(t *testing.T, body string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, err := readFrame(conn); err != nil {
				return
			}
			if err := writeFrame(conn, json.RawMessage(body)); err != nil {
				return
			}
		}
	}()
	return "tcp://" + ln.Addr().String()
}

func TestClient_InfoKeepsGoodDescriptors(t *testing.T) {
	c := dialTest(t, serveOnce(t, `{
		"temp": {"type": "int32", "desc": "Temperature", "fbits": "R"},
		"notype": {"desc": "no type", "fbits": "R"},
		"garbage": 42
	}`))

	info, err := c.Info(context.Background())
	require.NoError(t, err)
	require.Len(t, info, 3)
	assert.Equal(t, "int32", info["temp"].Type)
	assert.Empty(t, info["notype"].Type)
	assert.Empty(t, info["garbage"].Type)
}

func TestClient_InfoGetSet(t *testing.T) {
	mem := NewMemory(DemoCatalog())
	c := dialTest(t, startServer(t, mem))
	ctx := context.Background()

	info, err := c.Info(ctx)
	require.NoError(t, err)
	require.Contains(t, info, "temp")
	assert.Equal(t, "int32", info["temp"].Type)
	assert.Equal(t, "Temperature", info["temp"].Desc)
	assert.Equal(t, "dC", info["temp"].Display[KeyUnits])

	got, err := c.Get(ctx, "temp", "waveform", "matrix")
	require.NoError(t, err)
	assert.Equal(t, json.Number("215"), got["temp"].V)
	assert.Equal(t, []int{1}, got["temp"].Dims())
	assert.Equal(t, []any{json.Number("0"), json.Number("512"), json.Number("1023"), json.Number("512")}, got["waveform"].V)
	assert.Equal(t, []int{4}, got["waveform"].Dims())
	assert.Equal(t, []int{2, 2}, got["matrix"].Dims())

	require.NoError(t, c.Set(ctx, "setpoint", 250))
	got, err = c.Get(ctx, "setpoint")
	require.NoError(t, err)
	assert.Equal(t, json.Number("250"), got["setpoint"].V)

	stats := c.Stats()
	assert.Equal(t, uint64(4), stats.Requests)
	assert.Zero(t, stats.Errors)
	assert.True(t, stats.Connected)
}

func TestClient_RemoteErrors(t *testing.T) {
	c := dialTest(t, startServer(t, NewMemory(DemoCatalog())))
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRemote)

	err = c.Set(ctx, "temp", 1)
	assert.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "read-only")

	// Remote errors leave the connection usable.
	assert.True(t, c.IsConnected())
	_, err = c.Info(ctx)
	assert.NoError(t, err)
}

func TestClient_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), Config{Connection: "tcp://" + addr, ConnectTimeout: time.Second})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	c := dialTest(t, startServer(t, NewMemory(DemoCatalog())))
	ctx := context.Background()

	// Simulate a broken stream.
	c.mu.Lock()
	c.conn.Close()
	c.mu.Unlock()

	_, err := c.Info(ctx)
	require.ErrorIs(t, err, ErrBackendUnavailable)
	assert.False(t, c.IsConnected())

	_, err = c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Stats().Reconnects)
	assert.True(t, c.IsConnected())
}

func TestClient_ContextCancelUnblocks(t *testing.T) {
	// A backend that accepts but never answers.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	c, err := Dial(context.Background(), Config{
		Connection:     "tcp://" + ln.Addr().String(),
		RequestTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.Info(ctx)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClient_ClosedRejects(t *testing.T) {
	c := dialTest(t, startServer(t, NewMemory(DemoCatalog())))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Info(context.Background())
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestServer_RejectsMalformed(t *testing.T) {
	s := NewServer(NewMemory(nil), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		body string
	}{
		{name: "not an array", body: `{"cmd":"info"}`},
		{name: "wrong arity", body: `["info"]`},
		{name: "unknown command", body: `["reboot",[]]`},
		{name: "bad get args", body: `["get","temp"]`},
		{name: "bad set pair", body: `["set",[["temp"]]]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.dispatch(ctx, []byte(tt.body))
			out, err := json.Marshal(resp)
			require.NoError(t, err)
			assert.ErrorIs(t, remoteError(out), ErrRemote)
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	conn, err := Open(ctx, Config{Connection: "mem://demo"})
	require.NoError(t, err)
	info, err := conn.Info(ctx)
	require.NoError(t, err)
	assert.Contains(t, info, "temp")

	conn, err = Open(ctx, Config{Connection: "mem://"})
	require.NoError(t, err)
	info, err = conn.Info(ctx)
	require.NoError(t, err)
	assert.Empty(t, info)

	_, err = Open(ctx, Config{Connection: "udp://plant:1"})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}
