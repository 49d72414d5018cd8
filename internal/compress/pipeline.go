// Package compress implements the token-budgeted context maintenance
// pipeline: iterative chunk-and-summarize compression plus the higher-level
// transforms (goals/plan update, rolling context update, history
// summarization, unread-message response, structured turn decision) that
// keep the supervision context window bounded and coherent.
package compress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lukehenning/shepherd/internal/config"
	"github.com/lukehenning/shepherd/internal/errors"
	"github.com/lukehenning/shepherd/internal/llm"
	"github.com/lukehenning/shepherd/internal/tokens"
	"github.com/lukehenning/shepherd/internal/trace"
)

// Generator is the text-generation seam the pipeline drives. At most one
// generation call per pipeline is in flight at a time, by construction: the
// pipeline is called only from the loop's single sequence and never issues
// concurrent calls itself.
type Generator interface {
	// Summarize condenses text to roughly targetTokens.
	Summarize(ctx context.Context, text string, targetTokens int) (string, error)
	// CompleteStreaming runs one chat completion, drained to whole text.
	CompleteStreaming(ctx context.Context, messages []llm.Message, onDelta llm.DeltaFunc) (string, error)
}

// Pipeline chunks, summarizes, and transforms context text against token
// budgets. A nil trace buffer disables event emission.
type Pipeline struct {
	cfg   config.CompressionConfig
	gen   Generator
	trace *trace.Buffer
}

// New creates a Pipeline.
func New(cfg config.CompressionConfig, gen Generator, tr *trace.Buffer) *Pipeline {
	return &Pipeline{cfg: cfg, gen: gen, trace: tr}
}

func (p *Pipeline) record(kind, message string, payload map[string]any) {
	if p.trace != nil {
		p.trace.Record(kind, message, payload)
	}
}

// Compress reduces text to roughly budget tokens by repeatedly chunking and
// summarizing. A budget below 1 falls back to the configured default.
//
// Convergence is best-effort, not guaranteed: each pass summarizes every
// chunk independently and joins the results, and the loop exits early once a
// pass operated on a single chunk — even if the residual still exceeds the
// budget — so an unsplittable stubborn text cannot loop forever. Empty input
// returns empty without any generation call.
func (p *Pipeline) Compress(ctx context.Context, text string, budget int) (string, error) {
	if text == "" {
		return "", nil
	}
	if budget < 1 {
		budget = p.cfg.TargetTotalTokens
	}

	current := text
	p.record(trace.KindCompressStart, "Starting compression", map[string]any{
		"tokens": tokens.Estimate(current),
		"budget": budget,
	})

	for tokens.Estimate(current) > budget {
		chunks := tokens.Chunk(current, p.cfg.MaxInputTokens)
		summaries := make([]string, 0, len(chunks))
		for i, chunk := range chunks {
			p.record(trace.KindCompressChunk, "Summarizing chunk", map[string]any{
				"index":  i,
				"tokens": tokens.Estimate(chunk),
			})
			summary, err := p.gen.Summarize(ctx, chunk, p.cfg.TargetChunkTokens)
			if err != nil {
				return "", errors.NewGenerationError("summarize chunk", err).WithOperation("compress")
			}
			summaries = append(summaries, summary)
		}
		current = strings.Join(summaries, "\n\n")
		p.record(trace.KindCompressPass, "Compression pass completed", map[string]any{
			"tokens": tokens.Estimate(current),
			"chunks": len(chunks),
		})
		if len(chunks) == 1 {
			break
		}
	}

	p.record(trace.KindCompressDone, "Compression finished", map[string]any{
		"tokens": tokens.Estimate(current),
	})
	return current, nil
}

// CompressMany joins the ordered texts with blank-line separation and
// compresses the result.
func (p *Pipeline) CompressMany(ctx context.Context, texts []string, budget int) (string, error) {
	return p.Compress(ctx, strings.Join(texts, "\n\n"), budget)
}

// SummarizeHistory condenses a communication history transcript. Empty
// history returns empty without a generation call.
func (p *Pipeline) SummarizeHistory(ctx context.Context, history string, targetTokens int) (string, error) {
	if history == "" {
		return "", nil
	}
	system := "Summarize the communication history. Preserve decisions, open questions, " +
		"and action items. Be concise and avoid repetition."
	user := fmt.Sprintf("Target length: ~%d tokens.\n\nHistory:\n%s", targetTokens, history)
	return p.transform(ctx, "summarize_history", system, user)
}

// UpdateGoalsPlan folds new events into the goals-and-plan text. The
// instruction explicitly excludes internal maintenance narrative (compression
// passes, summarization bookkeeping) from the goals.
func (p *Pipeline) UpdateGoalsPlan(ctx context.Context, current, events string, targetTokens int) (string, error) {
	system := "Maintain the goals and plan for the project supervisor. " +
		"Only change the goals or plan if the events indicate a goal was reached, failed, " +
		"or needs revision. " +
		"Do not include internal maintenance steps like compression or summarization " +
		"in goals or plans."
	user := fmt.Sprintf(
		"Target length: ~%d tokens.\n\nCurrent goals and plan:\n%s\n\nNew events:\n%s\n\nReturn updated goals and plan.",
		targetTokens, current, events)
	return p.transform(ctx, "update_goals", system, user)
}

// UpdateRollingContext folds new events into the rolling context.
func (p *Pipeline) UpdateRollingContext(ctx context.Context, previous, events string, targetTokens int) (string, error) {
	system := "Update the rolling context for a project supervisor. " +
		"Preserve the most important facts, decisions, and current state. " +
		"Fold in new events, remove stale details, and keep it concise."
	user := fmt.Sprintf(
		"Target length: ~%d tokens.\n\nPrevious rolling context:\n%s\n\nNew events:\n%s\n\nReturn the updated rolling context.",
		targetTokens, previous, events)
	return p.transform(ctx, "update_rolling", system, user)
}

// FormatUnreadResponse drafts a reply to unread operator messages.
func (p *Pipeline) FormatUnreadResponse(ctx context.Context, messages string, targetTokens int) (string, error) {
	system := "You are the project supervisor. Respond to unread user messages. " +
		"Use this format:\n" +
		"Response:\n" +
		"- Summary: <short summary>\n" +
		"- Actions:\n" +
		"  - <action 1>\n" +
		"  - <action 2>\n" +
		"- Questions:\n" +
		"  - <question 1>\n" +
		"Keep it concise and actionable."
	user := fmt.Sprintf("Target length: ~%d tokens.\n\nUnread messages:\n%s", targetTokens, messages)
	return p.transform(ctx, "unread_response", system, user)
}

// TurnInputs is the context window fed to the turn-decision transform.
type TurnInputs struct {
	SystemMessage  string `json:"system_message"`
	CommSummary    string `json:"comm_summary"`
	GoalsPlan      string `json:"goals_plan"`
	RollingContext string `json:"rolling_context"`
}

// TurnDecision requests the structured per-cycle decision: a strict JSON
// object with a user-facing message, a tagged agent action, and a log line.
// The raw generated text is returned; parsing (and its malformed-JSON
// degradation) is the caller's concern.
func (p *Pipeline) TurnDecision(ctx context.Context, inputs TurnInputs, unread string) (string, error) {
	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return "", errors.NewGenerationError("marshal turn inputs", err).WithOperation("turn_decision")
	}
	system := "You are the project supervisor. Produce a strict JSON object only, with keys: " +
		"user_message, agent_action, log. " +
		"user_message is a concise user-facing message (empty if no unread messages). " +
		"agent_action is an object with fields: action (sendMessage|startSession|none) " +
		"and payload (object). If no action, use action=\"none\" and empty payload. " +
		"log is a concise log message describing the last action taken; it must be non-empty. " +
		"Output JSON only, no extra text."
	user := fmt.Sprintf(
		"Inputs (JSON):\n%s\n\nUnread user messages:\n%s\n\nReturn the JSON object.",
		inputsJSON, unread)
	return p.transform(ctx, "turn_decision", system, user)
}

// transform issues one generation call with a fixed instruction.
func (p *Pipeline) transform(ctx context.Context, op, system, user string) (string, error) {
	p.record(trace.KindCompressStart, "Running "+op, map[string]any{
		"op":     op,
		"tokens": tokens.Estimate(user),
	})
	out, err := p.gen.CompleteStreaming(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, nil)
	if err != nil {
		return "", errors.NewGenerationError("transform failed", err).WithOperation(op)
	}
	p.record(trace.KindCompressDone, "Finished "+op, map[string]any{
		"op":     op,
		"tokens": tokens.Estimate(out),
	})
	return out, nil
}
