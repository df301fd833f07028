package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeMessage is a provider-agnostic conversation entry for tests.
type fakeMessage struct {
	Role    string
	Content string
}

func (m fakeMessage) ToParam() any {
	return m
}

type fakeToolCall struct {
	id    string
	name  string
	input map[string]any
}

type fakeTurn struct {
	text       string
	toolCalls  []fakeToolCall
	stopReason string
	err        error
}

// fakeLLM replays scripted turns and streams their text through onDelta.
type fakeLLM struct {
	mu        sync.Mutex
	turns     []fakeTurn
	callIndex int

	convertedResults [][]ToolResult
}

func (m *fakeLLM) Call(ctx context.Context, messages []Message, tools []Tool, onDelta DeltaFunc) (Response, error) {
	m.mu.Lock()
	if m.callIndex >= len(m.turns) {
		m.mu.Unlock()
		return &fakeResponse{}, nil
	}
	turn := m.turns[m.callIndex]
	m.callIndex++
	m.mu.Unlock()

	if turn.err != nil {
		return nil, turn.err
	}
	if turn.text != "" && onDelta != nil {
		onDelta(turn.text)
	}
	return &fakeResponse{text: turn.text, toolCalls: turn.toolCalls, stopReason: turn.stopReason}, nil
}

func (m *fakeLLM) CreateUserMessage(content string) Message {
	return fakeMessage{Role: "user", Content: content}
}

func (m *fakeLLM) ConvertToolResults(toolUses []ToolUse, results []ToolResult) ([]Message, error) {
	m.mu.Lock()
	m.convertedResults = append(m.convertedResults, results)
	m.mu.Unlock()

	msgs := make([]Message, 0, len(results))
	for i, tu := range toolUses {
		msgs = append(msgs, fakeMessage{Role: "tool", Content: "Tool " + tu.Name + ": " + results[i].Content})
	}
	return msgs, nil
}

type fakeResponse struct {
	text       string
	toolCalls  []fakeToolCall
	stopReason string
}

func (r *fakeResponse) Content() []ContentBlock {
	var blocks []ContentBlock
	if r.text != "" {
		blocks = append(blocks, &fakeTextBlock{text: r.text})
	}
	for _, tc := range r.toolCalls {
		blocks = append(blocks, &fakeToolUseBlock{id: tc.id, name: tc.name, input: tc.input})
	}
	return blocks
}

func (r *fakeResponse) ToMessage() Message {
	return fakeMessage{Role: "assistant", Content: r.text}
}

func (r *fakeResponse) StopReason() string {
	if r.stopReason != "" {
		return r.stopReason
	}
	if len(r.toolCalls) > 0 {
		return "tool_use"
	}
	return "end_turn"
}

type fakeTextBlock struct {
	text string
}

func (b *fakeTextBlock) AsText() (string, bool) {
	return b.text, true
}

func (b *fakeTextBlock) AsToolUse() (string, string, []byte, bool) {
	return "", "", nil, false
}

type fakeToolUseBlock struct {
	id    string
	name  string
	input map[string]any
}

func (b *fakeToolUseBlock) AsText() (string, bool) {
	return "", false
}

func (b *fakeToolUseBlock) AsToolUse() (string, string, []byte, bool) {
	inputBytes, _ := json.Marshal(b.input)
	return b.id, b.name, inputBytes, true
}

type fakeToolOutcome struct {
	content string
	isError bool
	err     error
	delay   time.Duration
}

type fakeToolClient struct {
	tools    []Tool
	outcomes map[string]fakeToolOutcome
}

func (m *fakeToolClient) ListTools(ctx context.Context) ([]Tool, error) {
	return m.tools, nil
}

func (m *fakeToolClient) CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	outcome, ok := m.outcomes[name]
	if !ok {
		return "no result", false, nil
	}
	if outcome.delay > 0 {
		select {
		case <-time.After(outcome.delay):
		case <-ctx.Done():
			return "", true, ctx.Err()
		}
	}
	return outcome.content, outcome.isError, outcome.err
}

func queryTools() []Tool {
	return []Tool{
		{Name: "describe_schema", Description: "Describe tables", InputSchema: map[string]any{}},
		{Name: "execute_sql", Description: "Run SQL", InputSchema: map[string]any{}},
	}
}

func TestAgent_Run_AnswersCountQuestion(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{
		turns: []fakeTurn{
			{
				text: "Let me count the employees.",
				toolCalls: []fakeToolCall{
					{id: "call-1", name: "execute_sql", input: map[string]any{"sql": "SELECT COUNT(*) AS n FROM employees"}},
				},
			},
			{text: "There are 42 employees."},
		},
	}
	toolClient := &fakeToolClient{
		tools: queryTools(),
		outcomes: map[string]fakeToolOutcome{
			"execute_sql": {content: `{"columns":["n"],"rows":[{"n":42}],"count":1}`},
		},
	}

	loop, err := New(&Config{
		Logger: testLogger(t),
		LLM:    llm,
		Tools:  toolClient,
	})
	require.NoError(t, err)

	result, err := loop.Run(context.Background(), "How many employees are there?", nil)
	require.NoError(t, err)
	require.Equal(t, "There are 42 employees.", result.FinalText)
	require.Equal(t, 2, llm.callIndex)

	// The tool result entered the conversation before the final model turn.
	require.Len(t, llm.convertedResults, 1)
	require.Equal(t, "call-1", llm.convertedResults[0][0].ID)
	require.Contains(t, llm.convertedResults[0][0].Content, `"n":42`)
}

func TestAgent_Run_EmitsOrderedEvents(t *testing.T) {
	t.Parallel()

	bigResult := `{"columns":["x"],"rows":[{"x":"` + strings.Repeat("a", 600) + `"}],"count":1}`
	llm := &fakeLLM{
		turns: []fakeTurn{
			{
				text: "Checking.",
				toolCalls: []fakeToolCall{
					{id: "call-1", name: "execute_sql", input: map[string]any{"sql": "SELECT x FROM t"}},
				},
			},
			{text: "Done."},
		},
	}
	toolClient := &fakeToolClient{
		tools: queryTools(),
		outcomes: map[string]fakeToolOutcome{
			"execute_sql": {content: bigResult},
		},
	}

	loop, err := New(&Config{
		Logger: testLogger(t),
		LLM:    llm,
		Tools:  toolClient,
	})
	require.NoError(t, err)

	events := make(chan Event, 64)
	var collected []Event
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range events {
			collected = append(collected, ev)
		}
	}()

	_, err = loop.Run(context.Background(), "show x", events)
	require.NoError(t, err)
	<-drained

	var types []EventType
	for _, ev := range collected {
		types = append(types, ev.Type)
	}
	require.Equal(t, []EventType{EventText, EventToolCall, EventToolResult, EventText, EventDone}, types)

	// The display surface truncates, the conversation keeps the full result.
	toolResult := collected[2]
	require.True(t, len(toolResult.ToolResult) < len(bigResult))
	require.True(t, strings.HasSuffix(toolResult.ToolResult, "..."))
	require.Equal(t, bigResult, llm.convertedResults[0][0].Content)
}

func TestAgent_Run_LoopLimitExceeded(t *testing.T) {
	t.Parallel()

	// The model never stops asking for tools.
	turns := make([]fakeTurn, 10)
	for i := range turns {
		turns[i] = fakeTurn{
			toolCalls: []fakeToolCall{
				{id: fmt.Sprintf("call-%d", i), name: "execute_sql", input: map[string]any{"sql": "SELECT 1"}},
			},
		}
	}
	llm := &fakeLLM{turns: turns}
	toolClient := &fakeToolClient{
		tools: queryTools(),
		outcomes: map[string]fakeToolOutcome{
			"execute_sql": {content: `{"columns":[],"rows":[],"count":0}`},
		},
	}

	loop, err := New(&Config{
		Logger:    testLogger(t),
		LLM:       llm,
		Tools:     toolClient,
		MaxRounds: 3,
	})
	require.NoError(t, err)

	result, err := loop.Run(context.Background(), "loop forever", nil)
	require.Nil(t, result)
	require.ErrorIs(t, err, ErrLoopLimitExceeded)
	require.Equal(t, 3, llm.callIndex)
}

func TestAgent_Run_ConcurrentToolCallsPreserveOrder(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{
		turns: []fakeTurn{
			{
				toolCalls: []fakeToolCall{
					{id: "call-a", name: "slow_ok", input: map[string]any{}},
					{id: "call-b", name: "fast_fail", input: map[string]any{}},
					{id: "call-c", name: "fast_ok", input: map[string]any{}},
				},
			},
			{text: "All done."},
		},
	}
	toolClient := &fakeToolClient{
		tools: []Tool{
			{Name: "slow_ok", InputSchema: map[string]any{}},
			{Name: "fast_fail", InputSchema: map[string]any{}},
			{Name: "fast_ok", InputSchema: map[string]any{}},
		},
		outcomes: map[string]fakeToolOutcome{
			"slow_ok":   {content: "slow result", delay: 50 * time.Millisecond},
			"fast_fail": {content: "relation does not exist", isError: true},
			"fast_ok":   {content: "fast result"},
		},
	}

	loop, err := New(&Config{
		Logger: testLogger(t),
		LLM:    llm,
		Tools:  toolClient,
	})
	require.NoError(t, err)

	result, err := loop.Run(context.Background(), "run everything", nil)
	require.NoError(t, err)
	require.Equal(t, "All done.", result.FinalText)

	// All three results delivered together, in issue order, after the slow
	// call finished.
	require.Len(t, llm.convertedResults, 1)
	results := llm.convertedResults[0]
	require.Len(t, results, 3)
	assert.Equal(t, "call-a", results[0].ID)
	assert.Equal(t, "call-b", results[1].ID)
	assert.Equal(t, "call-c", results[2].ID)
	assert.Equal(t, "slow result", results[0].Content)
	assert.True(t, results[1].IsError)
	assert.Contains(t, results[1].Content, "relation does not exist")
	assert.False(t, results[2].IsError)
}

func TestAgent_Run_ModelTimeout(t *testing.T) {
	t.Parallel()

	llm := &blockingLLM{}
	toolClient := &fakeToolClient{tools: queryTools()}

	loop, err := New(&Config{
		Logger:       testLogger(t),
		LLM:          llm,
		Tools:        toolClient,
		ModelTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	result, err := loop.Run(context.Background(), "slow question", nil)
	require.Nil(t, result)
	require.ErrorIs(t, err, ErrModelTimeout)
}

func TestAgent_Run_ToolErrorFedBackToModel(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{
		turns: []fakeTurn{
			{
				toolCalls: []fakeToolCall{
					{id: "call-1", name: "execute_sql", input: map[string]any{"sql": "SELEC 1"}},
				},
			},
			{text: "That query was invalid."},
		},
	}
	toolClient := &fakeToolClient{
		tools: queryTools(),
		outcomes: map[string]fakeToolOutcome{
			"execute_sql": {content: `query error [42601]: syntax error`, isError: true},
		},
	}

	loop, err := New(&Config{
		Logger: testLogger(t),
		LLM:    llm,
		Tools:  toolClient,
	})
	require.NoError(t, err)

	result, err := loop.Run(context.Background(), "run bad sql", nil)
	require.NoError(t, err)
	require.Equal(t, "That query was invalid.", result.FinalText)
	require.True(t, llm.convertedResults[0][0].IsError)
	require.Contains(t, llm.convertedResults[0][0].Content, "syntax error")
}

func TestAgent_Run_TruncatedFinalResponse(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{
		turns: []fakeTurn{
			{text: "The answer begins with", stopReason: "max_tokens"},
		},
	}
	loop, err := New(&Config{
		Logger: testLogger(t),
		LLM:    llm,
		Tools:  &fakeToolClient{tools: queryTools()},
	})
	require.NoError(t, err)

	// A response cut off by the output token limit is still the final answer.
	result, err := loop.Run(context.Background(), "long question", nil)
	require.NoError(t, err)
	require.Equal(t, "The answer begins with", result.FinalText)
}

func TestConfig_Validate_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Logger: testLogger(t),
		LLM:    &fakeLLM{},
		Tools:  &fakeToolClient{},
	}
	require.NoError(t, cfg.Validate())
	require.Equal(t, defaultMaxRounds, cfg.MaxRounds)
	require.Equal(t, defaultMaxToolResultLen, cfg.MaxToolResultLen)
}

// blockingLLM never answers; it waits for its context to expire.
type blockingLLM struct{}

func (m *blockingLLM) Call(ctx context.Context, messages []Message, tools []Tool, onDelta DeltaFunc) (Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *blockingLLM) CreateUserMessage(content string) Message {
	return fakeMessage{Role: "user", Content: content}
}

func (m *blockingLLM) ConvertToolResults(toolUses []ToolUse, results []ToolResult) ([]Message, error) {
	return nil, nil
}
