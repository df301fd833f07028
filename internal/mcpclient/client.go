package mcpclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/querylens/querylens/internal/agent"
)

const (
	defaultRequestTimeout = 120 * time.Second
	defaultMaxRetries     = 3
)

var clientImplementation = &mcp.Implementation{
	Name:    "querylens-client",
	Version: "1.0.0",
}

type Config struct {
	Logger *slog.Logger

	Endpoint       string
	RequestTimeout time.Duration
	Token          string // Optional Bearer token for authentication
	MaxRetries     uint64
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	return nil
}

// Client talks to the gateway over streamable HTTP. Connection errors trigger
// a reconnect; tool calls retry with exponential backoff on top of that.
type Client struct {
	log       *slog.Logger
	cfg       *Config
	mcpClient *mcp.Client

	sessionMu sync.RWMutex // protects session
	session   *mcp.ClientSession
}

var _ agent.ToolClient = (*Client)(nil)

func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := &Client{
		log:       cfg.Logger,
		cfg:       &cfg,
		mcpClient: mcp.NewClient(clientImplementation, nil),
	}

	if err := client.connect(ctx); err != nil {
		return nil, err
	}

	return client, nil
}

func (c *Client) connect(ctx context.Context) error {
	httpClient := &http.Client{Timeout: c.cfg.RequestTimeout}
	if c.cfg.Token != "" {
		httpClient.Transport = &tokenTransport{
			base:  http.DefaultTransport,
			token: c.cfg.Token,
		}
	}

	transport := &mcp.StreamableClientTransport{
		Endpoint:   c.cfg.Endpoint,
		HTTPClient: httpClient,
	}

	session, err := c.mcpClient.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to MCP server: %w", err)
	}

	c.sessionMu.Lock()
	if c.session != nil {
		c.session.Close()
	}
	c.session = session
	c.sessionMu.Unlock()

	c.log.Info("mcp/client: connected to server", "endpoint", c.cfg.Endpoint)
	return nil
}

func (c *Client) reconnect(ctx context.Context) error {
	c.log.Warn("mcp/client: attempting to reconnect")
	c.sessionMu.Lock()
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	c.sessionMu.Unlock()

	return c.connect(ctx)
}

// currentSession returns a live session, reconnecting if none exists.
func (c *Client) currentSession(ctx context.Context) (*mcp.ClientSession, error) {
	c.sessionMu.RLock()
	session := c.session
	c.sessionMu.RUnlock()
	if session != nil {
		return session, nil
	}

	if err := c.reconnect(ctx); err != nil {
		return nil, fmt.Errorf("session not connected and reconnect failed: %w", err)
	}

	c.sessionMu.RLock()
	session = c.session
	c.sessionMu.RUnlock()
	if session == nil {
		return nil, fmt.Errorf("session still not connected after reconnect")
	}
	return session, nil
}

// isConnectionError checks if an error is a connection error that warrants reconnection
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection closed") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "client is closing") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset")
}

// ListTools fetches the server's tool declarations in the loop's shape.
func (c *Client) ListTools(ctx context.Context) ([]agent.Tool, error) {
	c.log.Debug("mcp/client: listing available tools")

	session, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}

	result, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		if !isConnectionError(err) {
			return nil, err
		}
		c.log.Warn("mcp/client: connection error, attempting reconnect", "error", err)
		if reconnectErr := c.reconnect(ctx); reconnectErr != nil {
			return nil, fmt.Errorf("failed to reconnect: %w (original error: %w)", reconnectErr, err)
		}
		session, err = c.currentSession(ctx)
		if err != nil {
			return nil, err
		}
		result, err = session.ListTools(ctx, &mcp.ListToolsParams{})
		if err != nil {
			return nil, fmt.Errorf("failed after reconnect: %w", err)
		}
	}

	tools := make([]agent.Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		inputSchema, _ := t.InputSchema.(map[string]any)
		tools = append(tools, agent.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: inputSchema,
		})
	}

	c.log.Debug("mcp/client: found tools", "count", len(tools))
	return tools, nil
}

// CallToolText invokes one tool and joins its text content blocks. The bool
// reports whether the server flagged the result as an error; transport
// failures after retries come back as a Go error.
func (c *Client) CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	c.log.Debug("mcp/client: calling tool", "name", name)

	var result *mcp.CallToolResult

	operation := func() error {
		session, err := c.currentSession(ctx)
		if err != nil {
			return err
		}

		result, err = session.CallTool(ctx, &mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		})
		if err == nil {
			return nil
		}
		if isConnectionError(err) {
			c.log.Warn("mcp/client: connection error, attempting reconnect", "error", err)
			if reconnectErr := c.reconnect(ctx); reconnectErr != nil {
				return fmt.Errorf("failed to reconnect: %w (original error: %w)", reconnectErr, err)
			}
			return err
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.MaxRetries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return "", true, fmt.Errorf("failed to call tool after retries: %w", err)
	}

	var parts []string
	for _, content := range result.Content {
		if textContent, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, textContent.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if result.IsError {
		c.log.Warn("mcp/client: tool returned error result", "error", text)
	} else {
		c.log.Debug("mcp/client: called tool", "chars", len(text))
	}
	return text, result.IsError, nil
}

func (c *Client) Close() error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

// tokenTransport wraps an http.RoundTripper to add Authorization header
type tokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", t.token))
	return t.base.RoundTrip(req)
}
