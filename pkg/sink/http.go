package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dbtuneai/powa-agent/pkg/events"
	"github.com/dbtuneai/powa-agent/pkg/version"
	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
)

// HTTPSink forwards events to a collector endpoint. Tick events are batched
// until the next flush; state events are sent immediately.
type HTTPSink struct {
	client *retryablehttp.Client
	url    string
	logger *log.Logger

	ticks    []map[string]interface{}
	bufferMu sync.Mutex
}

// NewHTTPSink creates a sink posting JSON to url
func NewHTTPSink(client *retryablehttp.Client, url string, logger *log.Logger) *HTTPSink {
	return &HTTPSink{
		client: client,
		url:    url,
		logger: logger,
		ticks:  make([]map[string]interface{}, 0),
	}
}

// Name returns the sink name
func (s *HTTPSink) Name() string {
	return "http"
}

// Process handles an incoming event
func (s *HTTPSink) Process(ctx context.Context, event events.Event) error {
	payload := events.Payload(event)
	if payload == nil {
		s.logger.Warnf("[http] unknown event type: %v", event.Type())
		return nil
	}

	switch event.Type() {
	case events.EventTypeTick:
		s.bufferMu.Lock()
		s.ticks = append(s.ticks, payload)
		s.bufferMu.Unlock()
		return nil
	default:
		return s.post(ctx, payload)
	}
}

// Flush sends all buffered tick events as one batch
func (s *HTTPSink) Flush(ctx context.Context) error {
	s.bufferMu.Lock()
	if len(s.ticks) == 0 {
		s.bufferMu.Unlock()
		return nil
	}
	batch := s.ticks
	s.ticks = make([]map[string]interface{}, 0)
	s.bufferMu.Unlock()

	s.logger.Debugf("[http] sending %d tick events to %s", len(batch), s.url)
	return s.post(ctx, map[string]interface{}{"events": batch})
}

func (s *HTTPSink) post(ctx context.Context, body interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return err
	}

	// Add a timeout context to avoid hanging
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, s.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return nil
	default:
		respBody, _ := io.ReadAll(resp.Body)
		s.logger.Errorf("[http] failed to send events. Response body: %s", string(respBody))
		return fmt.Errorf("failed to send events, code: %d", resp.StatusCode)
	}
}

// Close flushes any remaining tick events
func (s *HTTPSink) Close() error {
	return s.Flush(context.Background())
}
