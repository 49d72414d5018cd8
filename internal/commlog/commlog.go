// Package commlog provides the append-only communication log shared by the
// operator, the supervisor, and the remote agent. Messages are persisted as
// JSONL (one JSON object per line) and deduplicated by an externally
// supplied id, so re-syncing the same remote activities is a no-op.
package commlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Well-known message sources.
const (
	SourceUser  = "user"
	SourceAgent = "agent"
	SourceLocal = "supervisor"
)

// Message is one entry of the communication log.
type Message struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
	ExternalID string    `json:"external_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
}

// Log is a file-backed message log. It is safe for concurrent use.
type Log struct {
	path string

	mu          sync.Mutex
	messages    []Message
	externalIDs map[string]bool
}

// Open loads (or lazily creates) the log at path.
func Open(path string) (*Log, error) {
	l := &Log{
		path:        path,
		externalIDs: make(map[string]bool),
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) load() error {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("commlog: open %s: %w", l.path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			// Torn trailing line from an interrupted write; skip it.
			continue
		}
		if msg.ExternalID != "" {
			l.externalIDs[msg.ExternalID] = true
		}
		l.messages = append(l.messages, msg)
	}
	return scanner.Err()
}

// AppendOptions carries the optional fields of an append.
type AppendOptions struct {
	// ExternalID deduplicates messages pulled from the remote service.
	ExternalID string
	// SessionID scopes agent messages to one remote session.
	SessionID string
	// Timestamp overrides the default (now) when the source supplies one.
	Timestamp time.Time
	// Read marks the message as already seen.
	Read bool
}

// Append stores a message and returns it. If opts.ExternalID was seen
// before, the append is silently ignored and nil is returned.
func (l *Log) Append(source, role, content string, opts AppendOptions) (*Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if opts.ExternalID != "" && l.externalIDs[opts.ExternalID] {
		return nil, nil
	}

	ts := opts.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	msg := Message{
		ID:         uuid.NewString(),
		Source:     source,
		Role:       role,
		Content:    content,
		Timestamp:  ts,
		Read:       opts.Read,
		ExternalID: opts.ExternalID,
		SessionID:  opts.SessionID,
	}

	if err := l.appendLine(msg); err != nil {
		return nil, err
	}
	l.messages = append(l.messages, msg)
	if msg.ExternalID != "" {
		l.externalIDs[msg.ExternalID] = true
	}
	return &msg, nil
}

func (l *Log) appendLine(msg Message) error {
	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("commlog: create directory: %w", err)
		}
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("commlog: open for append: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("commlog: marshal message: %w", err)
	}
	data = append(data, '\n')
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("commlog: append: %w", err)
	}
	return nil
}

// rewrite persists the full in-memory state. Caller holds the mutex.
func (l *Log) rewrite() error {
	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("commlog: create directory: %w", err)
		}
	}
	var buf strings.Builder
	for _, msg := range l.messages {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("commlog: marshal message: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(l.path, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("commlog: rewrite: %w", err)
	}
	return nil
}

// Messages returns a copy of all messages, oldest first.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// UnreadFromRole returns all unread messages with the given role.
func (l *Log) UnreadFromRole(role string) []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Message
	for _, msg := range l.messages {
		if msg.Role == role && !msg.Read {
			out = append(out, msg)
		}
	}
	return out
}

// RecentFromRole returns the last limit messages with the given role.
func (l *Log) RecentFromRole(role string, limit int) []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	var matched []Message
	for _, msg := range l.messages {
		if msg.Role == role {
			matched = append(matched, msg)
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// MarkRead flags the given message ids as read.
func (l *Log) MarkRead(ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	updated := false
	for i := range l.messages {
		if want[l.messages[i].ID] && !l.messages[i].Read {
			l.messages[i].Read = true
			updated = true
		}
	}
	if !updated {
		return nil
	}
	return l.rewrite()
}

// HistoryAsText renders the log as a transcript. If sessionID is non-empty,
// agent messages belonging to other sessions are filtered out.
func (l *Log) HistoryAsText(sessionID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lines []string
	for _, msg := range l.messages {
		if sessionID != "" && msg.Source == SourceAgent && msg.SessionID != sessionID {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s [%s:%s] %s",
			msg.Timestamp.Format(time.RFC3339), msg.Source, msg.Role, msg.Content))
	}
	return strings.Join(lines, "\n")
}

// AgentMessages returns agent-sourced messages for the given session.
func (l *Log) AgentMessages(sessionID string) []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Message
	for _, msg := range l.messages {
		if msg.Source == SourceAgent && msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	return out
}

// PurgeUserMessages drops all user-role messages and returns how many were
// removed. Used by the dashboard's reset action.
func (l *Log) PurgeUserMessages() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.messages[:0:0]
	for _, msg := range l.messages {
		if msg.Role != "user" {
			kept = append(kept, msg)
		}
	}
	removed := len(l.messages) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	l.messages = kept
	l.externalIDs = make(map[string]bool)
	for _, msg := range l.messages {
		if msg.ExternalID != "" {
			l.externalIDs[msg.ExternalID] = true
		}
	}
	return removed, l.rewrite()
}

// Len returns the number of stored messages.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}
