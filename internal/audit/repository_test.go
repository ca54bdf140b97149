package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/config"
	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/database"
	"github.com/nerrad567/p2plant-ioc/internal/pv"
	"github.com/nerrad567/p2plant-ioc/migrations"
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx, migrations.Source()))
	return NewSQLiteRepository(db.DB)
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo *SQLiteRepository) {
	t.Helper()
	entries := []Entry{
		{PV: "p2p:Run", Value: "1", Source: "http:console-1@10.0.0.5", Outcome: pv.PutOK},
		{PV: "p2p:setpoint", Value: "250", Source: "mqtt:lab/pv/p2p:setpoint/put", Outcome: pv.PutOK},
		{PV: "p2p:setpoint", Value: "260", Source: "http:10.0.0.6", Outcome: pv.PutCallbackError, Error: "plant: backend unavailable"},
		{PV: "p2p:Run", Value: "0", Source: "http_x:oddball", Outcome: pv.PutOK},
	}
	for i := range entries {
		entries[i].CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Create(context.Background(), &entries[i]))
	}
}

func TestCreate_GeneratesIDAndTimestamp(t *testing.T) {
	repo := openTestRepo(t)
	e := &Entry{PV: "p2p:Run", Value: "1", Source: "control", Outcome: pv.PutOK, Duration: 1500 * time.Microsecond}
	require.NoError(t, repo.Create(context.Background(), e))

	assert.Contains(t, e.ID, "put-")
	assert.False(t, e.CreatedAt.IsZero())

	res, err := repo.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	got := res.Entries[0]
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, 1500*time.Microsecond, got.Duration)
	assert.Empty(t, got.Error)
	assert.True(t, e.CreatedAt.Equal(got.CreatedAt))
}

func TestList_Filters(t *testing.T) {
	repo := openTestRepo(t)
	seed(t, repo)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Filter
		want   []string // values, newest first
	}{
		{name: "all", filter: Filter{}, want: []string{"0", "260", "250", "1"}},
		{name: "by pv", filter: Filter{PV: "p2p:setpoint"}, want: []string{"260", "250"}},
		{name: "by transport", filter: Filter{Source: "http:"}, want: []string{"260", "1"}},
		{name: "underscore is literal", filter: Filter{Source: "http_"}, want: []string{"0"}},
		{name: "by outcome", filter: Filter{Outcome: pv.PutCallbackError}, want: []string{"260"}},
		{name: "combined", filter: Filter{PV: "p2p:Run", Source: "http"}, want: []string{"0", "1"}},
		{name: "page", filter: Filter{Limit: 2, Offset: 1}, want: []string{"260", "250"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)
			got := make([]string, len(res.Entries))
			for i, e := range res.Entries {
				got[i] = e.Value
			}
			assert.Equal(t, tt.want, got)
		})
	}

	res, err := repo.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 1, res.Limit)
}

func TestList_ClampsLimit(t *testing.T) {
	repo := openTestRepo(t)
	res, err := repo.List(context.Background(), Filter{Limit: 10000, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, maxLimit, res.Limit)
	assert.Equal(t, 0, res.Offset)
	assert.NotNil(t, res.Entries)
	assert.Empty(t, res.Entries)
}

func TestRecorder_ObservePut(t *testing.T) {
	repo := openTestRepo(t)
	rec := NewRecorder(repo, nil)

	// A cancelled put context must not prevent recording.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec.ObservePut(ctx, pv.PutRecord{
		Name:     "p2p:waveform",
		Source:   "http:10.0.0.5",
		Value:    pv.Vector{V: []uint8{1, 2}},
		Err:      errors.New("plant: backend unavailable"),
		Duration: 3 * time.Millisecond,
		At:       base,
	})

	res, err := repo.List(context.Background(), Filter{PV: "p2p:waveform"})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	e := res.Entries[0]
	assert.Equal(t, "[1,2]", e.Value)
	assert.Equal(t, pv.PutCallbackError, e.Outcome)
	assert.Equal(t, "plant: backend unavailable", e.Error)
	assert.Equal(t, 3*time.Millisecond, e.Duration)
	assert.True(t, base.Equal(e.CreatedAt))
}

type failingRepo struct{}

func (failingRepo) Create(context.Context, *Entry) error {
	return errors.New("disk full")
}

func (failingRepo) List(context.Context, Filter) (*ListResult, error) {
	return nil, errors.New("disk full")
}

type warnCounter struct{ n int }

func (w *warnCounter) Warn(string, ...any) { w.n++ }

func TestRecorder_LogsInsertFailure(t *testing.T) {
	logger := &warnCounter{}
	rec := NewRecorder(failingRepo{}, logger)
	rec.ObservePut(context.Background(), pv.PutRecord{Name: "p2p:Run", Value: pv.Enum{Index: 1}})
	assert.Equal(t, 1, logger.n)
}
