package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	flag "github.com/spf13/pflag"

	"github.com/querylens/querylens/internal/agent"
	"github.com/querylens/querylens/internal/logger"
	"github.com/querylens/querylens/internal/mcpclient"
	"github.com/querylens/querylens/internal/tools"
)

const (
	defaultQuestion  = "What tables are available in this database, and what do they contain?"
	defaultMaxRounds = 8
	defaultMaxTokens = 2000

	// maxTableRows bounds the rendered preview; the model still sees the
	// full result.
	maxTableRows = 20
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	maxRoundsFlag := flag.Int("max-rounds", defaultMaxRounds, "Maximum model/tool rounds per question")
	modelTimeoutFlag := flag.Duration("model-timeout", 2*time.Minute, "Per-round model request timeout")
	toolTimeoutFlag := flag.Duration("tool-timeout", 90*time.Second, "Per-call tool execution timeout")
	showTablesFlag := flag.Bool("show-tables", true, "Render query results as tables while the model works")
	flag.Parse()

	log := logger.New(*verboseFlag)

	question := defaultQuestion
	if len(flag.Args()) > 0 {
		question = flag.Arg(0)
	}

	mcpURL := os.Getenv("MCP_URL")
	if mcpURL == "" {
		return fmt.Errorf("MCP_URL is required")
	}

	anthropicAPIKey := os.Getenv("ANTHROPIC_API_KEY")
	if anthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mcpClient, err := mcpclient.New(ctx, mcpclient.Config{
		Logger:   log,
		Endpoint: mcpURL,
		Token:    os.Getenv("MCP_TOKEN"),
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}
	defer mcpClient.Close()

	anthropicClient := anthropic.NewClient(option.WithAPIKey(anthropicAPIKey))
	llm := agent.NewAnthropicLLM(anthropicClient, anthropic.ModelClaudeSonnet4_5_20250929, defaultMaxTokens, agent.SystemPrompt)

	loop, err := agent.New(&agent.Config{
		Logger:       log,
		LLM:          llm,
		Tools:        mcpClient,
		MaxRounds:    *maxRoundsFlag,
		ModelTimeout: *modelTimeoutFlag,
		ToolTimeout:  *toolTimeoutFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	events := make(chan agent.Event, 64)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range events {
			renderEvent(ev, *showTablesFlag)
		}
	}()

	_, err = loop.Run(ctx, question, events)
	<-drained
	if err != nil {
		return fmt.Errorf("failed to run agent: %w", err)
	}
	fmt.Println()
	return nil
}

func renderEvent(ev agent.Event, showTables bool) {
	switch ev.Type {
	case agent.EventText:
		fmt.Print(ev.Text)
	case agent.EventToolCall:
		args, _ := json.Marshal(ev.ToolArgs)
		fmt.Printf("\n\n[calling %s %s]\n", ev.ToolName, args)
	case agent.EventToolResult:
		if ev.ToolIsError {
			fmt.Printf("[%s error: %s]\n", ev.ToolName, ev.ToolResult)
			return
		}
		if showTables && ev.ToolName == tools.ExecuteSQLToolName && renderQueryTable(ev.ToolResult) {
			return
		}
		fmt.Printf("[%s result: %s]\n", ev.ToolName, ev.ToolResult)
	case agent.EventDone:
		// Final text already streamed.
	case agent.EventError:
		fmt.Printf("\n[error: %v]\n", ev.Err)
	}
}

// renderQueryTable renders a query result payload as an ASCII table. Returns
// false when the payload is not a tabular result (e.g. a DML summary or a
// truncated display string).
func renderQueryTable(payload string) bool {
	var result struct {
		Columns []string         `json:"columns"`
		Rows    []map[string]any `json:"rows"`
		Count   int              `json:"count"`
		Message string           `json:"message"`
	}
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return false
	}
	if result.Message != "" {
		fmt.Printf("[%s]\n", result.Message)
		return true
	}
	if len(result.Columns) == 0 {
		return false
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(result.Columns)
	for i, row := range result.Rows {
		if i == maxTableRows {
			break
		}
		cells := make([]string, len(result.Columns))
		for j, col := range result.Columns {
			cells[j] = formatCell(row[col])
		}
		table.Append(cells)
	}
	table.Render()
	if result.Count > maxTableRows {
		fmt.Printf("(%d of %d rows shown)\n", maxTableRows, result.Count)
	}
	return true
}

func formatCell(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}
