// Package remote is the REST client for the hosted coding-agent service.
//
// Two dialects exist. The Google-hosted dialect works in terms of
// sessions and activities; status is derived from session outputs and
// feedback travels as session messages. The plain dialect exposes flat
// /status, /request, /feedback, /pr, /start_session endpoints. The
// dialect is chosen from the base URL host and callers never see the
// difference.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lukehenning/shepherd/internal/config"
	"github.com/lukehenning/shepherd/internal/errors"
)

const requestTimeout = 30 * time.Second

// Request is a pending request from the agent awaiting supervisor action.
type Request struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// PullRequest describes the pull request produced by an agent session.
type PullRequest struct {
	ID          string `json:"id"`
	Branch      string `json:"branch"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Source is a remote repository the agent can work against.
type Source struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Activity is one entry of a session's recent history.
type Activity struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Client talks to the agent service over HTTP.
type Client struct {
	cfg       config.AgentConfig
	client    *http.Client
	googleAPI bool
}

// NewClient creates a Client for the configured service.
func NewClient(cfg config.AgentConfig) *Client {
	return &Client{
		cfg:       cfg,
		client:    &http.Client{Timeout: requestTimeout},
		googleAPI: strings.Contains(cfg.BaseURL, "jules.googleapis.com"),
	}
}

func (c *Client) url(path string, params url.Values) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.NewAgentError("encode request", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, params), body)
	if err != nil {
		return nil, errors.NewAgentError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		if c.googleAPI {
			req.Header.Set("X-Goog-Api-Key", c.cfg.APIKey)
		} else {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.NewAgentError(method+" "+path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewAgentError("read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.NewAgentError(
			fmt.Sprintf("%s %s returned %d", method, path, resp.StatusCode),
			errors.New(strings.TrimSpace(string(data))))
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, params, nil)
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, nil, payload)
}

// sessionEnvelope covers both session list entries and single sessions.
type sessionEnvelope struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SourceContext struct {
		Source string `json:"source"`
	} `json:"sourceContext"`
	Outputs []struct {
		PullRequest *PullRequest `json:"pullRequest"`
	} `json:"outputs"`
}

// sessionID returns the short id, preferring id over the trailing
// segment of the resource name.
func (s sessionEnvelope) sessionID() string {
	raw := s.ID
	if raw == "" {
		raw = s.Name
	}
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		raw = raw[i+1:]
	}
	return raw
}

func (s sessionEnvelope) pullRequest() *PullRequest {
	for _, out := range s.Outputs {
		if out.PullRequest != nil {
			return out.PullRequest
		}
	}
	return nil
}

// resolveSession finds a usable session id: explicit argument first,
// then the configured pin, then (Google dialect only) the most recent
// session on the service. Empty return means no session exists.
func (c *Client) resolveSession(ctx context.Context, sessionID string) (string, error) {
	if sessionID != "" {
		return sessionID, nil
	}
	if c.cfg.SessionID != "" {
		return c.cfg.SessionID, nil
	}
	if !c.googleAPI {
		return "", nil
	}
	data, err := c.get(ctx, "/sessions", url.Values{"pageSize": {"1"}})
	if err != nil {
		return "", err
	}
	var payload struct {
		Sessions []sessionEnvelope `json:"sessions"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", errors.NewAgentError("decode sessions", err)
	}
	if len(payload.Sessions) == 0 {
		return "", nil
	}
	return payload.Sessions[0].sessionID(), nil
}

// ResolveSessionForSource finds the most recent session bound to the
// given source. Only meaningful for the Google dialect.
func (c *Client) ResolveSessionForSource(ctx context.Context, source string) (string, error) {
	if !c.googleAPI || source == "" {
		return "", nil
	}
	data, err := c.get(ctx, "/sessions", url.Values{"pageSize": {"50"}})
	if err != nil {
		return "", err
	}
	var payload struct {
		Sessions []sessionEnvelope `json:"sessions"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", errors.NewAgentError("decode sessions", err)
	}
	for _, session := range payload.Sessions {
		if session.SourceContext.Source == source {
			return session.sessionID(), nil
		}
	}
	return "", nil
}

func (c *Client) getSession(ctx context.Context, sessionID string) (*sessionEnvelope, error) {
	data, err := c.get(ctx, "/sessions/"+sessionID, nil)
	if err != nil {
		return nil, err
	}
	var session sessionEnvelope
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, errors.NewAgentError("decode session", err).WithSession(sessionID)
	}
	return &session, nil
}

// Status reports the agent's current lifecycle state.
//
// The Google dialect has no status endpoint: a session with a pull
// request in its outputs is ready for review, any other session is in
// process, and no session at all is unknown. The plain dialect's
// /status string is parsed with an unknown fallback.
func (c *Client) Status(ctx context.Context, sessionID string) (Status, error) {
	if c.googleAPI {
		id, err := c.resolveSession(ctx, sessionID)
		if err != nil {
			return StatusUnknown, err
		}
		if id == "" {
			return StatusUnknown, nil
		}
		session, err := c.getSession(ctx, id)
		if err != nil {
			return StatusUnknown, err
		}
		if session.pullRequest() != nil {
			return StatusReadyForReview, nil
		}
		return StatusInProcess, nil
	}
	data, err := c.get(ctx, "/status", nil)
	if err != nil {
		return StatusUnknown, err
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return StatusUnknown, errors.NewAgentError("decode status", err)
	}
	return ParseStatus(payload.Status), nil
}

// PendingRequest returns the agent's outstanding request. The Google
// dialect has no request endpoint, so the session id stands in as the
// request id and the content is empty.
func (c *Client) PendingRequest(ctx context.Context, sessionID string) (*Request, error) {
	if c.googleAPI {
		id, err := c.resolveSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return &Request{ID: id}, nil
	}
	data, err := c.get(ctx, "/request", nil)
	if err != nil {
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.NewAgentError("decode request", err)
	}
	return &req, nil
}

// SendFeedback delivers supervisor feedback for a pending request.
func (c *Client) SendFeedback(ctx context.Context, requestID, feedback, sessionID string) error {
	if c.googleAPI {
		id, err := c.resolveSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if id == "" {
			return errors.NewAgentError("no session available for feedback", errors.ErrNoSession)
		}
		_, err = c.post(ctx, "/sessions/"+id+":sendMessage", map[string]string{"prompt": feedback})
		return err
	}
	_, err := c.post(ctx, "/feedback", map[string]string{"id": requestID, "feedback": feedback})
	return err
}

// PullRequestInfo returns the pull request the current session produced.
// Returns ErrNoPullRequest when the session has no PR output yet.
func (c *Client) PullRequestInfo(ctx context.Context, sessionID string) (*PullRequest, error) {
	if c.googleAPI {
		id, err := c.resolveSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if id == "" {
			return nil, errors.NewAgentError("no session available", errors.ErrNoSession)
		}
		session, err := c.getSession(ctx, id)
		if err != nil {
			return nil, err
		}
		pr := session.pullRequest()
		if pr == nil {
			return nil, errors.NewAgentError("session has no pull request output", errors.ErrNoPullRequest).WithSession(id)
		}
		return pr, nil
	}
	data, err := c.get(ctx, "/pr", nil)
	if err != nil {
		return nil, err
	}
	var pr PullRequest
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, errors.NewAgentError("decode pull request", err)
	}
	return &pr, nil
}

// StartOrContinueSession sends context to an existing session or creates
// a new one against the given source. Returns the session id in use
// (empty for the plain dialect, which is sessionless).
func (c *Client) StartOrContinueSession(ctx context.Context, contextText, sessionID, source string) (string, error) {
	if c.googleAPI {
		id, err := c.resolveSession(ctx, sessionID)
		if err != nil {
			return "", err
		}
		if id != "" {
			_, err := c.post(ctx, "/sessions/"+id+":sendMessage", map[string]string{"prompt": contextText})
			return id, err
		}
		sourceName := source
		if sourceName == "" {
			sourceName = c.cfg.Source
		}
		if sourceName == "" {
			return "", errors.NewAgentError("no source configured to create a session", errors.ErrNoSource)
		}
		title := c.cfg.SessionTitle
		if title == "" {
			title = "Shepherd Session"
		}
		payload := map[string]any{
			"prompt": contextText,
			"title":  title,
			"sourceContext": map[string]any{
				"source": sourceName,
				"githubRepoContext": map[string]string{
					"startingBranch": c.cfg.StartingBranch,
				},
			},
		}
		data, err := c.post(ctx, "/sessions", payload)
		if err != nil {
			return "", err
		}
		var created sessionEnvelope
		if err := json.Unmarshal(data, &created); err != nil {
			return "", errors.NewAgentError("decode created session", err)
		}
		return created.sessionID(), nil
	}
	_, err := c.post(ctx, "/start_session", map[string]string{"context": contextText})
	return "", err
}

// ListSources returns the sources available to the service. The plain
// dialect has no sources.
func (c *Client) ListSources(ctx context.Context) ([]Source, error) {
	if !c.googleAPI {
		return nil, nil
	}
	data, err := c.get(ctx, "/sources", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Sources []Source `json:"sources"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errors.NewAgentError("decode sources", err)
	}
	return payload.Sources, nil
}

// RecentActivities returns the latest session activities that carry
// human-readable content, newest first as the service reports them.
func (c *Client) RecentActivities(ctx context.Context, sessionID string, limit int) ([]Activity, error) {
	if !c.googleAPI {
		return nil, nil
	}
	id, err := c.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	if limit < 1 {
		limit = c.cfg.ActivityPageSize
	}
	data, err := c.get(ctx, "/sessions/"+id+"/activities", url.Values{"pageSize": {strconv.Itoa(limit)}})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Activities []map[string]any `json:"activities"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errors.NewAgentError("decode activities", err).WithSession(id)
	}
	var results []Activity
	for _, raw := range payload.Activities {
		content := extractActivityContent(raw)
		if content == "" {
			continue
		}
		activity := Activity{
			ID:      stringField(raw, "id"),
			Role:    "agent",
			Content: content,
		}
		if activity.ID == "" {
			activity.ID = stringField(raw, "name")
		}
		if role := stringField(raw, "originator"); role != "" {
			activity.Role = role
		}
		activity.Timestamp = stringField(raw, "createTime")
		results = append(results, activity)
	}
	return results, nil
}

// extractActivityContent pulls displayable text out of an activity.
// Activities are loosely shaped: content may sit at the top level or
// inside a typed container, and either place may use several keys.
func extractActivityContent(activity map[string]any) string {
	for _, key := range []string{"prompt", "message", "content", "text"} {
		if s := stringField(activity, key); s != "" {
			return s
		}
	}
	for _, containerKey := range []string{"messageSent", "userMessage", "assistantMessage", "progressUpdated"} {
		container, ok := activity[containerKey].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range []string{"prompt", "message", "content", "description", "title"} {
			if s := stringField(container, key); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
