// Package internal contains cross-package tests that verify the observer
// surfaces work together: the trace buffer fanning events out to
// subscribers, the dashboard mutating shared supervision state, and the
// communication log persisting across reopens.
package internal

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/lukehenning/shepherd/internal/commlog"
	"github.com/lukehenning/shepherd/internal/config"
	"github.com/lukehenning/shepherd/internal/dashboard"
	"github.com/lukehenning/shepherd/internal/orchestrator"
	"github.com/lukehenning/shepherd/internal/trace"
)

func TestTraceFanOutToSubscribers(t *testing.T) {
	buffer := trace.NewBuffer(50)

	first, cancelFirst := buffer.Subscribe()
	second, cancelSecond := buffer.Subscribe()
	defer cancelFirst()
	defer cancelSecond()

	var hooked []trace.Event
	buffer.SetHook(func(e trace.Event) {
		hooked = append(hooked, e)
	})

	buffer.Record(trace.KindCycleStart, "cycle 1 started", map[string]any{"cycle": 1})
	buffer.Record(trace.KindAgentStatus, "agent status inProcess", nil)

	for name, ch := range map[string]<-chan trace.Event{"first": first, "second": second} {
		for _, wantKind := range []string{trace.KindCycleStart, trace.KindAgentStatus} {
			select {
			case event := <-ch:
				if event.Kind != wantKind {
					t.Errorf("subscriber %s: got kind %q, want %q", name, event.Kind, wantKind)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("subscriber %s: no event of kind %q", name, wantKind)
			}
		}
	}

	if len(hooked) != 2 {
		t.Errorf("hook saw %d events, want 2", len(hooked))
	}
	if buffer.Len() != 2 {
		t.Errorf("buffer holds %d events, want 2", buffer.Len())
	}
}

func TestTraceCancelledSubscriberDoesNotBlockRecording(t *testing.T) {
	buffer := trace.NewBuffer(10)
	_, cancel := buffer.Subscribe()
	cancel()

	// A cancelled subscriber must not stall the recorder.
	for i := 0; i < 20; i++ {
		buffer.Record(trace.KindHeartbeat, "tick", nil)
	}
	if buffer.Len() != 10 {
		t.Errorf("buffer holds %d events, want the 10 most recent", buffer.Len())
	}
}

func newObserverStack(t *testing.T) (*dashboard.Server, *orchestrator.SharedState, *commlog.Log, string) {
	t.Helper()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "comm_log.jsonl")
	messages, err := commlog.Open(logPath)
	if err != nil {
		t.Fatalf("open comm log: %v", err)
	}

	shared := orchestrator.NewSharedState()
	server := dashboard.New(dashboard.Options{
		Config:            config.DashboardConfig{Host: "127.0.0.1", Port: 0, HeartbeatSeconds: 1},
		Shared:            shared,
		Project:           orchestrator.NewProjectState(),
		Trace:             trace.NewBuffer(50),
		Messages:          messages,
		SystemMessagePath: filepath.Join(dir, "system_message.txt"),
	})
	return server, shared, messages, logPath
}

func TestDashboardInterruptReachesStateAndLog(t *testing.T) {
	server, shared, messages, _ := newObserverStack(t)
	router := server.Router()

	body, _ := json.Marshal(map[string]string{"message": "focus on the login bug"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/interrupt", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("interrupt returned %d: %s", rec.Code, rec.Body.String())
	}

	interrupts := shared.Interrupts()
	if len(interrupts) != 1 || interrupts[0] != "focus on the login bug" {
		t.Fatalf("interrupts = %v, want the submitted message", interrupts)
	}
	if shared.StopRequested() {
		t.Error("plain interrupt must not request a stop")
	}

	logged := messages.Messages()
	if len(logged) != 1 || logged[0].Source != commlog.SourceLocal {
		t.Fatalf("comm log = %+v, want one supervisor-sourced message", logged)
	}

	// The submitted interrupt shows up in the observable state.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	var state struct {
		PendingInterrupts []string `json:"pending_interrupts"`
		StopRequested     bool     `json:"stop_requested"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if len(state.PendingInterrupts) != 1 {
		t.Errorf("state shows %d pending interrupts, want 1", len(state.PendingInterrupts))
	}
	if state.StopRequested {
		t.Error("state reports a stop that was never requested")
	}
}

func TestDashboardStopFlagsSharedState(t *testing.T) {
	server, shared, _, _ := newObserverStack(t)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stop", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stop returned %d", rec.Code)
	}
	if !shared.StopRequested() {
		t.Error("stop endpoint did not flag the shared state")
	}
}

func TestCommLogSurvivesReopen(t *testing.T) {
	_, _, messages, logPath := newObserverStack(t)

	if _, err := messages.Append(commlog.SourceUser, "user", "please add tests", commlog.AppendOptions{}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := messages.Append(commlog.SourceAgent, "agent", "working on it", commlog.AppendOptions{
		ExternalID: "act-1",
		SessionID:  "s-1",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	reopened, err := commlog.Open(logPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Len() != 2 {
		t.Fatalf("reopened log holds %d messages, want 2", reopened.Len())
	}

	// External IDs keep replayed agent activity out of the log.
	msg, err := reopened.Append(commlog.SourceAgent, "agent", "working on it", commlog.AppendOptions{
		ExternalID: "act-1",
		SessionID:  "s-1",
	})
	if err != nil {
		t.Fatalf("duplicate append: %v", err)
	}
	if msg != nil {
		t.Error("duplicate external ID was appended")
	}
	if reopened.Len() != 2 {
		t.Errorf("log holds %d messages after duplicate, want 2", reopened.Len())
	}
}
