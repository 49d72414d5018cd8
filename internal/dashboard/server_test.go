package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukehenning/shepherd/internal/commlog"
	"github.com/lukehenning/shepherd/internal/config"
	"github.com/lukehenning/shepherd/internal/orchestrator"
	"github.com/lukehenning/shepherd/internal/remote"
	"github.com/lukehenning/shepherd/internal/trace"
)

type stubSources struct {
	sources []remote.Source
}

func (s *stubSources) ListSources(context.Context) ([]remote.Source, error) {
	return s.sources, nil
}

func newTestServer(t *testing.T) (*Server, *orchestrator.SharedState, *trace.Buffer) {
	t.Helper()
	shared := orchestrator.NewSharedState()
	tr := trace.NewBuffer(100)
	messages, err := commlog.Open(filepath.Join(t.TempDir(), "comm.jsonl"))
	require.NoError(t, err)

	server := New(Options{
		Config:            config.DashboardConfig{Host: "127.0.0.1", Port: 0, HeartbeatSeconds: 1},
		Shared:            shared,
		Project:           orchestrator.NewProjectState(),
		Trace:             tr,
		Messages:          messages,
		Sources:           &stubSources{sources: []remote.Source{{Name: "sources/mine", ID: "src-1"}}},
		SystemMessagePath: filepath.Join(t.TempDir(), "system_message.txt"),
	})
	return server, shared, tr
}

func TestStateEndpoint(t *testing.T) {
	server, shared, _ := newTestServer(t)
	shared.SetSystemMessage("supervise the build")
	shared.SetSelectedSource("sources/mine")

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "supervise the build", payload["system_message"])
	assert.Equal(t, "sources/mine", payload["selected_source"])
	assert.Equal(t, "unknown", payload["agent_status"])
}

func TestInterruptEndpoint(t *testing.T) {
	server, shared, _ := newTestServer(t)

	body := strings.NewReader(`{"message": "look at the failing CI job"}`)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/interrupt", body))

	require.Equal(t, http.StatusOK, rec.Code)
	interrupts := shared.Interrupts()
	require.Len(t, interrupts, 1)
	assert.Equal(t, "look at the failing CI job", interrupts[0])
	assert.False(t, shared.StopRequested())
}

func TestStopEndpoint(t *testing.T) {
	server, shared, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stop", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, shared.StopRequested())
}

func TestSystemMessageLocked(t *testing.T) {
	server, shared, _ := newTestServer(t)
	shared.SetSystemMessage("original")
	shared.LockSystemMessage(true)

	body := strings.NewReader(`{"content": "replacement"}`)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/system-message", body))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "original", shared.SystemMessage())
}

func TestSystemMessageRoundTrip(t *testing.T) {
	server, shared, _ := newTestServer(t)

	body := strings.NewReader(`{"content": "keep the dependencies current"}`)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/system-message", body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "keep the dependencies current", shared.SystemMessage())

	rec = httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/system-message", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "keep the dependencies current", payload["content"])
}

func TestSelectSourceEndpoint(t *testing.T) {
	server, shared, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/select-source",
		strings.NewReader(`{"source": "sources/mine"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sources/mine", shared.SelectedSource())

	rec = httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/select-source", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSourcesEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sources", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Sources []remote.Source `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Sources, 1)
	assert.Equal(t, "src-1", payload.Sources[0].ID)
}

func TestEventsSnapshot(t *testing.T) {
	server, _, tr := newTestServer(t)
	tr.Record(trace.KindCycleStart, "Cycle started", nil)
	tr.Record(trace.KindAgentStatus, "Status received", map[string]any{"status": "inProcess"})

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Events []trace.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Events, 2)
	assert.Equal(t, trace.KindCycleStart, payload.Events[0].Kind)
}

func TestEventStreamDeliversEvents(t *testing.T) {
	server, _, tr := newTestServer(t)

	httpServer := httptest.NewServer(server.Router())
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL+"/events/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(100 * time.Millisecond)
	tr.Record(trace.KindAgentTurn, "Agent turn produced", nil)

	reader := bufio.NewReader(resp.Body)
	deadline := time.After(4 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("no event arrived on the stream")
		default:
		}
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event trace.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		assert.Equal(t, trace.KindAgentTurn, event.Kind)
		return
	}
}

func TestRecentMessagesEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	_, err := server.messages.Append(commlog.SourceUser, "user", "status update please", commlog.AppendOptions{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/recent", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Messages []commlog.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Messages, 1)
	assert.Equal(t, "status update please", payload.Messages[0].Content)
}
