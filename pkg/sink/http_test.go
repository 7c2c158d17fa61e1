package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dbtuneai/powa-agent/pkg/events"
	"github.com/dbtuneai/powa-agent/pkg/internal/utils"
	"github.com/dbtuneai/powa-agent/pkg/version"
	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu       sync.Mutex
	bodies   []map[string]interface{}
	agents   []string
	status   int
	requests int
}

func (c *collector) handler(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	c.agents = append(c.agents, r.Header.Get("User-Agent"))

	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		c.bodies = append(c.bodies, body)
	}
	w.WriteHeader(c.status)
}

func createTestHTTPSink(t *testing.T, status int) (*HTTPSink, *collector) {
	t.Helper()
	c := &collector{status: status}
	server := httptest.NewServer(http.HandlerFunc(c.handler))
	t.Cleanup(server.Close)

	logger := log.New()
	logger.SetLevel(log.ErrorLevel)

	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.RetryWaitMin = time.Millisecond
	client.RetryWaitMax = time.Millisecond
	client.Logger = &utils.LeveledLogrus{Logger: logger}

	return NewHTTPSink(client, server.URL, logger), c
}

func TestHTTPSink_BatchesTicks(t *testing.T) {
	sink, c := createTestHTTPSink(t, http.StatusNoContent)
	ctx := context.Background()

	assert.Equal(t, "http", sink.Name())
	require.NoError(t, sink.Process(ctx, events.NewTickEvent(time.Now(), time.Second, 4*time.Second, nil)))
	require.NoError(t, sink.Process(ctx, events.NewTickEvent(time.Now(), time.Second, 4*time.Second, nil)))
	assert.Equal(t, 0, c.requests, "ticks are buffered until flushed")

	require.NoError(t, sink.Flush(ctx))
	require.Len(t, c.bodies, 1)
	batch, ok := c.bodies[0]["events"].([]interface{})
	require.True(t, ok)
	assert.Len(t, batch, 2)

	// An empty buffer sends nothing.
	require.NoError(t, sink.Flush(ctx))
	assert.Equal(t, 1, c.requests)
}

func TestHTTPSink_StateIsSentImmediately(t *testing.T) {
	sink, c := createTestHTTPSink(t, http.StatusOK)

	require.NoError(t, sink.Process(context.Background(), events.NewStateEvent("terminating", nil)))
	require.Len(t, c.bodies, 1)
	assert.Equal(t, "state", c.bodies[0]["type"])
	assert.Equal(t, "terminating", c.bodies[0]["state"])
	assert.Equal(t, []string{version.UserAgent()}, c.agents)
}

func TestHTTPSink_ErrorStatus(t *testing.T) {
	sink, _ := createTestHTTPSink(t, http.StatusBadRequest)

	err := sink.Process(context.Background(), events.NewStateEvent("terminating", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code: 400")
}

func TestHTTPSink_CloseFlushes(t *testing.T) {
	sink, c := createTestHTTPSink(t, http.StatusAccepted)

	require.NoError(t, sink.Process(context.Background(), events.NewTickEvent(time.Now(), time.Second, 0, nil)))
	require.NoError(t, sink.Close())
	assert.Equal(t, 1, c.requests)
}

func TestHTTPSink_UnknownEvent(t *testing.T) {
	sink, c := createTestHTTPSink(t, http.StatusOK)
	require.NoError(t, sink.Process(context.Background(), unknownEvent{}))
	require.NoError(t, sink.Flush(context.Background()))
	assert.Equal(t, 0, c.requests)
}
