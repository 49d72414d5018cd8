// Package llm provides the text generator used by the compression pipeline
// and the supervision loop: an OpenAI-compatible chat-completions client.
//
// The transport supports incremental (SSE) delivery so observers can watch
// generation live, but every call drains the stream before returning — the
// caller always gets a synchronous whole-text result and must not depend on
// streaming semantics. Retries are the caller's responsibility.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lukehenning/shepherd/internal/config"
	"github.com/lukehenning/shepherd/internal/errors"
	"github.com/lukehenning/shepherd/internal/trace"
)

// Message is one entry of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the request payload for /v1/chat/completions.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type streamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			// Reasoning channels are drained but never folded into the
			// returned text.
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// DeltaFunc receives incremental content while a streamed call drains.
type DeltaFunc func(delta string)

// Client is an OpenAI-compatible chat client.
type Client struct {
	cfg    config.GeneratorConfig
	client *http.Client
	trace  *trace.Buffer
}

// NewClient creates a Client. The trace buffer may be nil.
func NewClient(cfg config.GeneratorConfig, tr *trace.Buffer) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout()},
		trace:  tr,
	}
}

func (c *Client) record(kind, message string, payload map[string]any) {
	if c.trace != nil {
		c.trace.Record(kind, message, payload)
	}
}

func (c *Client) url(path string) string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + path
}

// Ready probes the endpoint's model listing. A failed probe means the
// generator paths of the loop stay disabled; it is never an error.
func (c *Client) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/v1/models"), nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Complete issues a non-streaming chat completion and returns the full text.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      false,
	}
	c.record(trace.KindGenRequest, "Sending chat completion", map[string]any{
		"model":    c.cfg.Model,
		"messages": len(messages),
	})

	resp, err := c.post(ctx, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.NewGenerationError("decode response", err)
	}
	if parsed.Error != nil {
		return "", errors.NewGenerationError("api error", fmt.Errorf("%s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", errors.NewGenerationError("no choices", errors.ErrEmptyCompletion)
	}

	content := parsed.Choices[0].Message.Content
	c.record(trace.KindGenResponse, "Chat completion received", map[string]any{
		"chars": len(content),
	})
	return content, nil
}

// CompleteStreaming issues a streaming chat completion, drains it fully, and
// returns the concatenated content. onDelta (optional) observes content
// deltas as they arrive.
func (c *Client) CompleteStreaming(ctx context.Context, messages []Message, onDelta DeltaFunc) (string, error) {
	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      true,
	}
	c.record(trace.KindGenRequest, "Sending streaming chat completion", map[string]any{
		"model":    c.cfg.Model,
		"messages": len(messages),
	})

	resp, err := c.post(ctx, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			break
		}

		var chunk streamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Malformed keep-alive or vendor extension; skip the line.
			continue
		}
		if chunk.Error != nil {
			return "", errors.NewGenerationError("api error", fmt.Errorf("%s", chunk.Error.Message))
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			sb.WriteString(choice.Delta.Content)
			if onDelta != nil {
				onDelta(choice.Delta.Content)
			}
		}
		if choice.FinishReason != "" {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", errors.NewGenerationError("read stream", err)
	}

	content := sb.String()
	c.record(trace.KindGenResponse, "Streaming completion drained", map[string]any{
		"chars": len(content),
	})
	return content, nil
}

// Summarize asks the generator to condense text to roughly targetTokens.
func (c *Client) Summarize(ctx context.Context, text string, targetTokens int) (string, error) {
	system := "Summarize the input faithfully and concisely. " +
		"Preserve decisions, requirements, and next actions."
	user := fmt.Sprintf("Target length: ~%d tokens.\n\nInput:\n%s", targetTokens, text)
	return c.CompleteStreaming(ctx, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, nil)
}

func (c *Client) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.NewGenerationError("marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/v1/chat/completions"), bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewGenerationError("create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.NewGenerationError("send request", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errors.NewGenerationError(
			fmt.Sprintf("status %d", resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(raw))),
		)
	}
	return resp, nil
}
