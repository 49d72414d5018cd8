// Package errors provides centralized error definitions for the Shepherd
// codebase: sentinel errors, domain error types with context wrapping, and
// classification helpers.
//
// The loop's error policy is "log and continue": almost every error here is
// cycle-transient — it aborts or degrades the current supervision cycle and
// is recorded on the trace feed, but never stops the continuous loop. The
// classification helpers exist so callers can decide between retrying within
// a cycle and deferring to the next one.
//
// Creating errors:
//
//	err := errors.NewAgentError("status query failed", cause).WithSession("s-12")
//	err := errors.NewGitError("merge failed", cause).WithBranch("feature-x")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrNoSession) { ... }
//	var agentErr *errors.AgentError
//	if errors.As(err, &agentErr) { ... }
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience, so callers can
// import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Agent-service sentinel errors.
var (
	// ErrNoSession indicates that no agent session exists for the selected source.
	ErrNoSession = New("no agent session available")
	// ErrNoPullRequest indicates the session has no pull request output.
	ErrNoPullRequest = New("no pull request in session outputs")
	// ErrNoSource indicates that no source is configured or selected.
	ErrNoSource = New("no source selected")
)

// Generator sentinel errors.
var (
	// ErrGeneratorNotReady indicates the text generator did not pass its readiness probe.
	ErrGeneratorNotReady = New("generator not ready")
	// ErrEmptyCompletion indicates the generator returned no choices.
	ErrEmptyCompletion = New("empty completion")
)

// Git sentinel errors.
var (
	// ErrNotGitRepository indicates that the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrMergeConflict indicates that a merge conflict occurred.
	ErrMergeConflict = New("merge conflict")
)

// shepherdError provides common behavior for the domain error types.
type shepherdError struct {
	message   string
	cause     error
	retryable bool
}

func (e *shepherdError) Unwrap() error { return e.cause }

func (e *shepherdError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *shepherdError) IsRetryable() bool { return e.retryable }

// AgentError represents a failure talking to the remote coding-agent
// service. These are always cycle-transient.
type AgentError struct {
	shepherdError
	Session string
}

// NewAgentError creates an AgentError wrapping cause.
func NewAgentError(message string, cause error) *AgentError {
	return &AgentError{shepherdError: shepherdError{message: message, cause: cause, retryable: true}}
}

// WithSession adds the session identifier to the error context.
func (e *AgentError) WithSession(session string) *AgentError {
	e.Session = session
	return e
}

func (e *AgentError) Error() string {
	prefix := "agent error"
	if e.Session != "" {
		prefix = fmt.Sprintf("agent error [session=%s]", e.Session)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// GitError represents a failure running a git operation on the working copy.
type GitError struct {
	shepherdError
	Branch string
	Output string
}

// NewGitError creates a GitError wrapping cause.
func NewGitError(message string, cause error) *GitError {
	return &GitError{shepherdError: shepherdError{message: message, cause: cause, retryable: true}}
}

// WithBranch adds the branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithOutput attaches trimmed command output to the error context.
func (e *GitError) WithOutput(output string) *GitError {
	e.Output = strings.TrimSpace(output)
	return e
}

func (e *GitError) Error() string {
	prefix := "git error"
	if e.Branch != "" {
		prefix = fmt.Sprintf("git error [branch=%s]", e.Branch)
	}
	msg := prefix + ": " + e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.Output != "" {
		msg = msg + "\n" + e.Output
	}
	return msg
}

// GenerationError represents a failure during a text-generation call.
type GenerationError struct {
	shepherdError
	Operation string
}

// NewGenerationError creates a GenerationError wrapping cause.
func NewGenerationError(message string, cause error) *GenerationError {
	return &GenerationError{shepherdError: shepherdError{message: message, cause: cause, retryable: true}}
}

// WithOperation names the pipeline operation that issued the call.
func (e *GenerationError) WithOperation(op string) *GenerationError {
	e.Operation = op
	return e
}

func (e *GenerationError) Error() string {
	prefix := "generation error"
	if e.Operation != "" {
		prefix = fmt.Sprintf("generation error [op=%s]", e.Operation)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// retryable is implemented by errors that know whether a retry may succeed.
type retryable interface {
	IsRetryable() bool
}

// IsRetryable reports whether err (or any error it wraps) is transient.
func IsRetryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}
