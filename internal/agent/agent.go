package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxRounds        = 8
	defaultMaxToolResultLen = 20000
)

var (
	// ErrLoopLimitExceeded reports a run that spent its round budget without
	// the model producing a tool-free answer.
	ErrLoopLimitExceeded = errors.New("exceeded maximum rounds")
	// ErrModelTimeout reports a model round trip that exceeded its deadline.
	ErrModelTimeout = errors.New("model request timed out")
)

// Config is the configuration for the Agent.
type Config struct {
	Logger *slog.Logger
	LLM    LLMClient
	Tools  ToolClient

	// MaxRounds bounds the model→tools alternation per query.
	MaxRounds int
	// ModelTimeout bounds each model round trip; exceeding it aborts the
	// query with ErrModelTimeout.
	ModelTimeout time.Duration
	// ToolTimeout bounds each tool call; exceeding it produces an error tool
	// result the model can react to.
	ToolTimeout time.Duration
	// MaxToolResultLen truncates oversized tool results before they enter the
	// conversation history.
	MaxToolResultLen int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.LLM == nil {
		return errors.New("LLM is required")
	}
	if cfg.Tools == nil {
		return errors.New("tool client is required")
	}
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.MaxRounds < 0 {
		return errors.New("max rounds must be greater than 0")
	}
	if cfg.MaxToolResultLen == 0 {
		cfg.MaxToolResultLen = defaultMaxToolResultLen
	}
	return nil
}

// Agent runs the tool-calling loop: model turns alternate with tool execution
// until the model answers without requesting tools or the round budget runs
// out. Each Run owns a fresh conversation; concurrent Runs are independent.
type Agent struct {
	log *slog.Logger
	cfg *Config
}

func New(cfg *Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Agent{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Run answers one question. Progress is reported on events (may be nil); the
// channel is closed before Run returns. Cancelling ctx aborts the in-flight
// round and no partial tool results are kept.
func (a *Agent) Run(ctx context.Context, question string, events chan<- Event) (*RunResult, error) {
	if events != nil {
		defer close(events)
	}

	msgs := []Message{a.cfg.LLM.CreateUserMessage(question)}
	fullConversation := make([]Message, len(msgs))
	copy(fullConversation, msgs)

	tools, err := a.cfg.Tools.ListTools(ctx)
	if err != nil {
		err = fmt.Errorf("failed to list tools: %w", err)
		a.emit(ctx, events, Event{Type: EventError, Err: err})
		return nil, err
	}

	for round := 0; round < a.cfg.MaxRounds; round++ {
		roundNum := round + 1
		a.log.Info("agent: starting round", "round", roundNum, "max_rounds", a.cfg.MaxRounds)

		response, err := a.callModel(ctx, msgs, tools, events)
		if err != nil {
			a.emit(ctx, events, Event{Type: EventError, Err: err})
			return nil, err
		}

		assistantMsg := response.ToMessage()
		msgs = append(msgs, assistantMsg)
		fullConversation = append(fullConversation, assistantMsg)

		toolUses := extractToolUses(response.Content())
		if len(toolUses) == 0 {
			a.log.Info("agent: no tool calls, returning final response", "round", roundNum)
			if response.StopReason() == "max_tokens" {
				a.log.Warn("agent: final response truncated by output token limit", "round", roundNum)
			}

			var finalText strings.Builder
			for _, blk := range response.Content() {
				if text, ok := blk.AsText(); ok {
					finalText.WriteString(text)
				}
			}
			a.emit(ctx, events, Event{Type: EventDone})
			return &RunResult{
				FinalText:        strings.TrimSpace(finalText.String()),
				FullConversation: fullConversation,
			}, nil
		}

		if len(toolUses) > 1 {
			a.log.Info("agent: found multiple tool calls, executing in parallel", "round", roundNum, "count", len(toolUses))
		} else {
			a.log.Info("agent: found tool call to execute", "round", roundNum, "name", toolUses[0].Name)
		}

		for _, tu := range toolUses {
			a.emit(ctx, events, Event{Type: EventToolCall, ToolName: tu.Name, ToolArgs: tu.Input})
		}

		toolResults := a.executeTools(ctx, toolUses)
		if ctx.Err() != nil {
			a.emit(ctx, events, Event{Type: EventError, Err: ctx.Err()})
			return nil, ctx.Err()
		}

		for i, tr := range toolResults {
			a.emit(ctx, events, Event{
				Type:        EventToolResult,
				ToolName:    toolUses[i].Name,
				ToolResult:  truncateForDisplay(tr.Content),
				ToolIsError: tr.IsError,
			})
		}

		a.log.Debug("agent: sending tool results back to model")

		toolResultMsgs, err := a.cfg.LLM.ConvertToolResults(toolUses, toolResults)
		if err != nil {
			err = fmt.Errorf("failed to convert tool results: %w", err)
			a.emit(ctx, events, Event{Type: EventError, Err: err})
			return nil, err
		}
		msgs = append(msgs, toolResultMsgs...)
		fullConversation = append(fullConversation, toolResultMsgs...)
	}

	err = fmt.Errorf("%w (%d)", ErrLoopLimitExceeded, a.cfg.MaxRounds)
	a.emit(ctx, events, Event{Type: EventError, Err: err})
	return nil, err
}

// callModel performs one model round trip with the configured timeout,
// streaming text deltas to the event channel.
func (a *Agent) callModel(ctx context.Context, msgs []Message, tools []Tool, events chan<- Event) (Response, error) {
	callCtx := ctx
	if a.cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.cfg.ModelTimeout)
		defer cancel()
	}

	response, err := a.cfg.LLM.Call(callCtx, msgs, tools, func(text string) {
		a.emit(ctx, events, Event{Type: EventText, Text: text})
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %v", ErrModelTimeout, err)
		}
		return nil, fmt.Errorf("failed to get response: %w", err)
	}
	return response, nil
}

// executeTools runs every call of one turn concurrently and waits for all of
// them; results come back in issue order. Individual failures become error
// results, they never abort the turn.
func (a *Agent) executeTools(ctx context.Context, toolUses []ToolUse) []ToolResult {
	results := make([]ToolResult, len(toolUses))
	var wg sync.WaitGroup

	for i, tu := range toolUses {
		wg.Add(1)
		go func(idx int, toolUse ToolUse) {
			defer wg.Done()

			callCtx := ctx
			if a.cfg.ToolTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, a.cfg.ToolTimeout)
				defer cancel()
			}

			out, isErr, callErr := a.cfg.Tools.CallToolText(callCtx, toolUse.Name, toolUse.Input)
			if callErr != nil {
				a.log.Error("agent: tool execution error", "error", callErr, "tool", toolUse.Name, "tool_id", toolUse.ID)
				results[idx] = ToolResult{
					ID:      toolUse.ID,
					Content: fmt.Sprintf("Error: %v", callErr),
					IsError: true,
				}
				return
			}

			content := out
			if isErr {
				content = fmt.Sprintf("Error: %s", out)
			}
			results[idx] = ToolResult{
				ID:      toolUse.ID,
				Content: a.truncateToolResult(toolUse.Name, content),
				IsError: isErr,
			}
		}(i, tu)
	}

	wg.Wait()
	return results
}

// truncateToolResult bounds one result before it enters the conversation.
func (a *Agent) truncateToolResult(toolName, content string) string {
	maxLen := a.cfg.MaxToolResultLen
	if maxLen <= 0 || len(content) <= maxLen {
		return content
	}
	originalLen := len(content)
	truncated := fmt.Sprintf("%s\n\n[Result truncated from %d to %d characters to avoid token limits]",
		content[:maxLen], originalLen, maxLen)
	a.log.Warn("agent: truncated large tool result", "tool", toolName, "original_len", originalLen, "truncated_len", maxLen)
	return truncated
}

// emit sends one event without ever blocking a cancelled caller. A nil
// channel disables the event surface.
func (a *Agent) emit(ctx context.Context, events chan<- Event, ev Event) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

// extractToolUses extracts tool use requests from response content blocks.
func extractToolUses(content []ContentBlock) []ToolUse {
	var toolUses []ToolUse
	for _, blk := range content {
		id, name, inputBytes, ok := blk.AsToolUse()
		if !ok || id == "" || name == "" {
			continue
		}
		var input map[string]any
		if err := json.Unmarshal(inputBytes, &input); err != nil {
			continue
		}
		toolUses = append(toolUses, ToolUse{
			ID:    id,
			Name:  name,
			Input: input,
		})
	}
	return toolUses
}
