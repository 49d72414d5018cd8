// Package dashboard exposes the supervision run to external observers
// over HTTP: current context-window state, the live event feed, message
// management, and the interrupt/stop/source controls.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lukehenning/shepherd/internal/commlog"
	"github.com/lukehenning/shepherd/internal/config"
	"github.com/lukehenning/shepherd/internal/logging"
	"github.com/lukehenning/shepherd/internal/orchestrator"
	"github.com/lukehenning/shepherd/internal/remote"
	"github.com/lukehenning/shepherd/internal/trace"
)

// SourceLister fetches the remote sources available for supervision.
type SourceLister interface {
	ListSources(ctx context.Context) ([]remote.Source, error)
}

// Options carries the collaborators the server exposes.
type Options struct {
	Config            config.DashboardConfig
	Shared            *orchestrator.SharedState
	Project           *orchestrator.ProjectState
	Trace             *trace.Buffer
	Messages          *commlog.Log
	Sources           SourceLister
	SystemMessagePath string
	Logger            *logging.Logger
}

// Server is the HTTP observer API.
type Server struct {
	cfg               config.DashboardConfig
	shared            *orchestrator.SharedState
	project           *orchestrator.ProjectState
	trace             *trace.Buffer
	messages          *commlog.Log
	sources           SourceLister
	systemMessagePath string
	logger            *logging.Logger

	httpServer *http.Server
}

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Server{
		cfg:               opts.Config,
		shared:            opts.Shared,
		project:           opts.Project,
		trace:             opts.Trace,
		messages:          opts.Messages,
		sources:           opts.Sources,
		systemMessagePath: opts.SystemMessagePath,
		logger:            logger.WithComponent("dashboard"),
	}
	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort(opts.Config.Host, strconv.Itoa(opts.Config.Port)),
		Handler: s.Router(),
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/state", s.handleState)
	r.Get("/events", s.handleEvents)
	r.Get("/events/stream", s.handleEventStream)
	r.Get("/sources", s.handleSources)
	r.Get("/system-message", s.handleGetSystemMessage)
	r.Get("/messages/recent", s.handleRecentMessages)

	r.Post("/interrupt", s.handleInterrupt)
	r.Post("/stop", s.handleStop)
	r.Post("/system-message", s.handleSetSystemMessage)
	r.Post("/select-source", s.handleSelectSource)
	r.Post("/messages/mark-read", s.handleMarkRead)
	r.Post("/messages/purge-user", s.handlePurgeUser)

	return r
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("dashboard: listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("dashboard listening", "addr", listener.Addr().String())
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("dashboard server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type okResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// stateResponse merges shared and project state for observers.
type stateResponse struct {
	orchestrator.Snapshot
	DocsSummary     string `json:"docs_summary"`
	CodebaseSummary string `json:"codebase_summary"`
	AgentStatus     string `json:"agent_status"`
	RequirementsMet bool   `json:"requirements_met"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	resp := stateResponse{
		Snapshot:        s.shared.Snapshot(),
		DocsSummary:     s.project.DocsSummary(),
		CodebaseSummary: s.project.CodebaseSummary(),
		AgentStatus:     string(s.project.LastAgentStatus()),
		RequirementsMet: s.project.RequirementsMet(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": s.trace.Snapshot()})
}

// handleEventStream serves the live event feed as SSE. Each subscriber
// gets its own queue; a comment line goes out on idle so proxies and
// clients can tell the stream is alive.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := s.trace.Subscribe()
	defer cancel()

	heartbeat := s.cfg.Heartbeat()
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	timer := time.NewTimer(heartbeat)
	defer timer.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(heartbeat)
		case <-timer.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
			timer.Reset(heartbeat)
		}
	}
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if s.sources == nil {
		writeJSON(w, http.StatusOK, map[string]any{"sources": []remote.Source{}})
		return
	}
	sources, err := s.sources.ListSources(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"sources": []remote.Source{}, "error": err.Error()})
		return
	}
	if sources == nil {
		sources = []remote.Source{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) handleGetSystemMessage(w http.ResponseWriter, _ *http.Request) {
	snap := s.shared.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"content": snap.SystemMessage,
		"locked":  snap.SystemMessageLocked,
	})
}

func (s *Server) handleRecentMessages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": s.messages.RecentFromRole(commlog.SourceUser, 3),
	})
}

// decodeText reads {"<field>": "..."} or falls back to the raw body.
func decodeText(r *http.Request, field string) string {
	var payload map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(&payload); err == nil {
		if v, ok := payload[field].(string); ok {
			return v
		}
		return ""
	}
	return ""
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	message := decodeText(r, "message")
	if message != "" {
		s.shared.AddInterrupt(message)
		if _, err := s.messages.Append(commlog.SourceLocal, "user", message, commlog.AppendOptions{}); err != nil {
			s.logger.Warn("failed to store interrupt", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.shared.AddInterrupt(orchestrator.StopSentinel)
	writeJSON(w, http.StatusOK, okResponse{OK: true, Message: "Stop requested; takes effect at the next cycle."})
}

func (s *Server) handleSetSystemMessage(w http.ResponseWriter, r *http.Request) {
	content := decodeText(r, "content")
	if content == "" {
		writeJSON(w, http.StatusBadRequest, okResponse{OK: false, Message: "Content is required."})
		return
	}
	if !s.shared.SetSystemMessage(content) {
		writeJSON(w, http.StatusForbidden, okResponse{OK: false, Message: "System message is locked."})
		return
	}
	if s.systemMessagePath != "" {
		if err := os.WriteFile(s.systemMessagePath, []byte(content), 0o644); err != nil {
			writeJSON(w, http.StatusInternalServerError, okResponse{OK: false, Message: err.Error()})
			return
		}
	}
	s.trace.Record(trace.KindContextSystem, "System message updated", map[string]any{"length": len(content)})
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleSelectSource(w http.ResponseWriter, r *http.Request) {
	source := decodeText(r, "source")
	if source == "" {
		writeJSON(w, http.StatusBadRequest, okResponse{OK: false, Message: "Source is required."})
		return
	}
	s.shared.SetSelectedSource(source)
	writeJSON(w, http.StatusOK, okResponse{OK: true, Message: "Source selected."})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || len(payload.IDs) == 0 {
		writeJSON(w, http.StatusOK, okResponse{OK: true})
		return
	}
	if err := s.messages.MarkRead(payload.IDs); err != nil {
		writeJSON(w, http.StatusInternalServerError, okResponse{OK: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handlePurgeUser(w http.ResponseWriter, _ *http.Request) {
	removed, err := s.messages.PurgeUserMessages()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, okResponse{OK: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true, Message: fmt.Sprintf("Purged %d user messages.", removed)})
}
