package audit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/kms-token-provider/internal/config"
)

// mockWriter is a thread-safe mock writer.
type mockWriter struct {
	mu     sync.Mutex
	events []*Event
}

func (w *mockWriter) WriteEvent(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
	return nil
}

func (w *mockWriter) WriteBatch(events []*Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, events...)
	return nil
}

func TestBatchSink(t *testing.T) {
	mock := &mockWriter{}
	sink := NewBatchSink(mock, 5, 100*time.Millisecond, 0, 0)

	for i := 0; i < 3; i++ {
		sink.WriteEvent(&Event{Mechanism: fmt.Sprintf("op-%d", i)})
	}

	time.Sleep(10 * time.Millisecond)
	mock.mu.Lock()
	assert.Len(t, mock.events, 0)
	mock.mu.Unlock()

	time.Sleep(150 * time.Millisecond)
	mock.mu.Lock()
	assert.Len(t, mock.events, 3)
	mock.mu.Unlock()

	for i := 0; i < 5; i++ {
		sink.WriteEvent(&Event{Mechanism: fmt.Sprintf("op-batch-%d", i)})
	}

	time.Sleep(50 * time.Millisecond)
	mock.mu.Lock()
	assert.Len(t, mock.events, 8) // 3 + 5
	mock.mu.Unlock()

	sink.Close()
}

func TestHTTPSink(t *testing.T) {
	var capturedEvents []*Event
	var mu sync.Mutex

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		r.Body.Close()

		var events []*Event
		if err := json.Unmarshal(body, &events); err != nil {
			var event Event
			if err2 := json.Unmarshal(body, &event); err2 == nil {
				events = []*Event{&event}
			} else {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}

		capturedEvents = append(capturedEvents, events...)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := NewHTTPSink(ts.URL, map[string]string{"X-Test": "true"})

	event := &Event{Mechanism: "test-http"}
	err := sink.WriteEvent(event)
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, capturedEvents, 1)
	assert.Equal(t, "test-http", capturedEvents[0].Mechanism)
	mu.Unlock()
}

func TestFileSink(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "audit-log-*.json")
	require.NoError(t, err)
	path := tmpfile.Name()
	tmpfile.Close()
	defer os.Remove(path)

	sink := NewFileSink(path)
	event := &Event{Mechanism: "test-file"}
	err = sink.WriteEvent(event)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded Event
	err = json.Unmarshal(content, &loaded)
	require.NoError(t, err)
	assert.Equal(t, "test-file", loaded.Mechanism)
}

func TestNewLoggerFromConfig(t *testing.T) {
	cfg := config.AuditConfig{
		Enabled: true,
		Sink: config.AuditSinkConfig{
			Type:      "http",
			Endpoint:  "http://localhost:1234",
			BatchSize: 10,
		},
	}

	logger, err := NewLoggerFromConfig(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)

	if l, ok := logger.(interface{ Close() error }); ok {
		l.Close()
	}
}

func TestNewLoggerFromConfig_Disabled(t *testing.T) {
	cfg := config.AuditConfig{Enabled: false}

	logger, err := NewLoggerFromConfig(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger.LogSession(EventTypeLogin, "slot-0", 0, true, nil)
	assert.Len(t, logger.GetEvents(), 1)
}

func TestNewLoggerFromConfig_UnknownSinkType(t *testing.T) {
	cfg := config.AuditConfig{
		Enabled: true,
		Sink:    config.AuditSinkConfig{Type: "carrier-pigeon"},
	}

	_, err := NewLoggerFromConfig(cfg)
	require.Error(t, err)
}
