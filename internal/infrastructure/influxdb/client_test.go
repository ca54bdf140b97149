package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/config"
	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "p2plant",
		Bucket:        "pvs",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	assert.True(t, errors.Is(err, influxdb.ErrDisabled))
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := influxdb.Connect(ctx, testConfig("http://127.0.0.1:1"))
	assert.True(t, errors.Is(err, influxdb.ErrConnectionFailed))
}

func TestClient_WritePVSample(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)
	require.True(t, client.IsConnected())
	require.NoError(t, client.HealthCheck(context.Background()))

	ts := time.Unix(1700000000, 0)
	client.WritePVSample("p2p:temp", "int16", map[string]any{"value": int64(215)}, ts)
	client.WritePVSample("p2p:empty", "int16", nil, ts)
	client.Flush()

	lines := fake.written()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "pv_sample,pv=p2p:temp,type=int16 value=215i")
	assert.Equal(t, uint64(1), client.Stats().Points)

	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())
	assert.True(t, errors.Is(client.HealthCheck(context.Background()), influxdb.ErrNotConnected))

	// Writes after close are dropped silently.
	client.WritePVSample("p2p:temp", "int16", map[string]any{"value": int64(1)}, ts)
	client.Flush()
	assert.Len(t, fake.written(), 1)
}

func TestClient_RejectedBatchReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"invalid","message":"bad field type"}`))
	}))
	defer srv.Close()

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)
	defer client.Close()

	reported := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case reported <- err:
		default:
		}
	})

	client.WritePVSample("p2p:temp", "int16", map[string]any{"value": int64(1)}, time.Now())
	client.Flush()

	select {
	case err := <-reported:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("write failure was not reported")
	}
	assert.Eventually(t, func() bool { return client.Stats().Failed == 1 }, time.Second, 10*time.Millisecond)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(&fakeInflux{})
	defer srv.Close()

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	client.Flush()
}
