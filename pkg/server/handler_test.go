package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dbtuneai/powa-agent/pkg/events"
	"github.com/dbtuneai/powa-agent/pkg/extract"
	"github.com/dbtuneai/powa-agent/pkg/metrics"
	"github.com/dbtuneai/powa-agent/pkg/pgstat"
	"github.com/dbtuneai/powa-agent/pkg/scheduler"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	ownDB   pgstat.Oid = 1
	otherDB pgstat.Oid = 16384
)

type mockStatus struct{ mock.Mock }

func (m *mockStatus) Status() scheduler.Status {
	args := m.Called()
	return args.Get(0).(scheduler.Status)
}

type mockPinger struct{ mock.Mock }

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type brokenSource struct{}

func (brokenSource) LoadDatabase(context.Context, pgstat.Oid, bool) (*pgstat.DatabaseEntry, error) {
	return nil, errors.New("stats collector unavailable")
}

func init() {
	gin.SetMode(gin.TestMode)
}

func seed() *pgstat.MemorySource {
	mem := pgstat.NewMemorySource()
	mem.RecordRelation(ownDB, pgstat.RelationCounters{RelationID: 1259})
	mem.RecordRelation(otherDB, pgstat.RelationCounters{
		RelationID:    16400,
		NumScans:      7,
		BlocksFetched: 100,
		BlocksHit:     90,
		LastVacuum:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	mem.RecordFunction(otherDB, pgstat.FunctionCounters{FunctionID: 17000, Calls: 5, TotalTime: 1500, SelfTime: 250})
	return mem
}

func newServer(t *testing.T, source pgstat.Source, status StatusProvider, pinger Pinger) *httptest.Server {
	t.Helper()
	return newServerWithMetrics(t, source, status, nil, pinger)
}

func newServerWithMetrics(t *testing.T, source pgstat.Source, status StatusProvider, m MetricsProvider, pinger Pinger) *httptest.Server {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)

	h := NewHandler(source, ownDB, extract.New(logger), status, m, pinger)
	srv := httptest.NewServer(NewRouter(h, logger))
	t.Cleanup(srv.Close)
	return srv
}

func doGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

type statsResponse struct {
	DatabaseID uint32           `json:"database_id"`
	Kind       string           `json:"kind"`
	Columns    []map[string]any `json:"columns"`
	Rows       []map[string]any `json:"rows"`
}

func TestHTTP_RelationStats(t *testing.T) {
	srv := newServer(t, seed(), &mockStatus{}, nil)

	resp, body := doGet(t, srv.URL+"/databases/16384/relations")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got statsResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, uint32(otherDB), got.DatabaseID)
	assert.Equal(t, "relation", got.Kind)
	assert.Len(t, got.Columns, 21)
	require.Len(t, got.Rows, 1)

	row := got.Rows[0]
	assert.Equal(t, float64(16400), row["relid"])
	assert.Equal(t, float64(7), row["numscan"])
	assert.Equal(t, float64(10), row["blks_read"])
	assert.Equal(t, float64(90), row["blks_hit"])
	assert.Equal(t, "2024-05-01T12:00:00Z", row["last_vacuum"])
	assert.Nil(t, row["last_autovacuum"])
}

func TestHTTP_FunctionStats(t *testing.T) {
	srv := newServer(t, seed(), &mockStatus{}, nil)

	resp, body := doGet(t, srv.URL+"/databases/16384/functions")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got statsResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "function", got.Kind)
	assert.Len(t, got.Columns, 4)
	require.Len(t, got.Rows, 1)
	assert.Equal(t, float64(17000), got.Rows[0]["funcid"])
	assert.Equal(t, float64(5), got.Rows[0]["calls"])
	assert.Equal(t, 1.5, got.Rows[0]["total_time"])
	assert.Equal(t, 0.25, got.Rows[0]["self_time"])
}

func TestHTTP_StatsErrors(t *testing.T) {
	tests := []struct {
		name     string
		source   pgstat.Source
		path     string
		wantCode int
		wantRows int
	}{
		{name: "unknown database is empty", source: seed(), path: "/databases/99999/relations", wantCode: http.StatusOK},
		{name: "bad oid", source: seed(), path: "/databases/abc/functions", wantCode: http.StatusBadRequest},
		{name: "oid out of range", source: seed(), path: "/databases/4294967296/functions", wantCode: http.StatusBadRequest},
		{name: "source failure", source: brokenSource{}, path: "/databases/16384/relations", wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.source, &mockStatus{}, nil)
			resp, body := doGet(t, srv.URL+tt.path)
			assert.Equal(t, tt.wantCode, resp.StatusCode, string(body))
			if tt.wantCode == http.StatusOK {
				var got statsResponse
				require.NoError(t, json.Unmarshal(body, &got))
				assert.Len(t, got.Rows, tt.wantRows)
			}
		})
	}
}

func TestHTTP_Status(t *testing.T) {
	status := &mockStatus{}
	lastTick := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	status.On("Status").Return(scheduler.Status{
		State:    scheduler.StateSleeping,
		Activity: "-- sleeping for 295 seconds",
		Ticks:    3,
		LastTick: lastTick,
	})
	srv := newServer(t, seed(), status, nil)

	resp, body := doGet(t, srv.URL+"/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "sleeping", got["state"])
	assert.Equal(t, "-- sleeping for 295 seconds", got["activity"])
	assert.Equal(t, float64(3), got["ticks"])
	status.AssertExpectations(t)
}

func TestHTTP_Metrics(t *testing.T) {
	stats := metrics.NewTickStats()
	stats.Observe(events.NewTickEvent(time.Now(), 1234567*time.Microsecond, time.Second, nil))
	srv := newServerWithMetrics(t, seed(), &mockStatus{}, stats, nil)

	resp, body := doGet(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got metrics.FormattedMetrics
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, float64(1), got.Metrics[metrics.TicksTotal.Key].Value)
	assert.Equal(t, 1234.567, got.Metrics[metrics.TickLastElapsed.Key].Value)
	assert.Equal(t, "duration", got.Metrics[metrics.TickLastElapsed.Key].Type)

	// Without counters the endpoint is absent.
	srv = newServer(t, seed(), &mockStatus{}, nil)
	resp, _ = doGet(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTP_Ping(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		pinger := &mockPinger{}
		pinger.On("Ping", mock.Anything).Return(nil)
		srv := newServer(t, seed(), &mockStatus{}, pinger)

		resp, body := doGet(t, srv.URL+"/ping")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", string(body))
		pinger.AssertExpectations(t)
	})

	t.Run("db down", func(t *testing.T) {
		pinger := &mockPinger{}
		pinger.On("Ping", mock.Anything).Return(errors.New("connection refused"))
		srv := newServer(t, seed(), &mockStatus{}, pinger)

		resp, body := doGet(t, srv.URL+"/ping")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Contains(t, string(body), "connection refused")
	})

	t.Run("no pinger", func(t *testing.T) {
		srv := newServer(t, seed(), &mockStatus{}, nil)
		resp, _ := doGet(t, srv.URL+"/ping")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestHTTP_MethodNotAllowed(t *testing.T) {
	srv := newServer(t, seed(), &mockStatus{}, nil)

	resp, err := http.Post(srv.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRun_ShutsDownWithContext(t *testing.T) {
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Config{ListenAddress: "127.0.0.1:0"}, http.NotFoundHandler(), logger)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRun_ListenError(t *testing.T) {
	err := Run(context.Background(), Config{ListenAddress: "127.0.0.1:-1"}, http.NotFoundHandler(), log.New())
	assert.Error(t, err)
}
