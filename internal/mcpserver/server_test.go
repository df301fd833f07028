package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/require"

	"github.com/querylens/querylens/internal/tools"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(testLogger(t))

	// A schema-less tool; the server publishes it with an open input schema.
	require.NoError(t, r.Register(tools.Tool{
		Definition: tools.Definition{Name: "ping", Description: "replies pong"},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"reply": "pong"}, nil
		},
	}))
	require.NoError(t, r.Register(tools.Tool{
		Definition: tools.Definition{
			Name:        "echo",
			Description: "echoes text back",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"text": {Type: "string"},
				},
				Required: []string{"text"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"text": args["text"]}, nil
		},
	}))
	return r
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	t.Run("defaults applied", func(t *testing.T) {
		t.Parallel()
		cfg := Config{
			Logger:     testLogger(t),
			Registry:   testRegistry(t),
			ListenAddr: "127.0.0.1:0",
		}
		require.NoError(t, cfg.Validate())
		require.Equal(t, defaultReadHeaderTimeout, cfg.ReadHeaderTimeout)
		require.Equal(t, defaultShutdownTimeout, cfg.ShutdownTimeout)
	})

	t.Run("logger required", func(t *testing.T) {
		t.Parallel()
		cfg := Config{Registry: testRegistry(t), ListenAddr: "127.0.0.1:0"}
		require.Error(t, cfg.Validate())
	})

	t.Run("registry required", func(t *testing.T) {
		t.Parallel()
		cfg := Config{Logger: testLogger(t), ListenAddr: "127.0.0.1:0"}
		require.Error(t, cfg.Validate())
	})

	t.Run("listen addr required", func(t *testing.T) {
		t.Parallel()
		cfg := Config{Logger: testLogger(t), Registry: testRegistry(t)}
		require.Error(t, cfg.Validate())
	})
}

func TestNew_RegistersRegistryTools(t *testing.T) {
	t.Parallel()

	srv, err := New(t.Context(), Config{
		Logger:     testLogger(t),
		Registry:   testRegistry(t),
		ListenAddr: "127.0.0.1:0",
		Version:    "test",
	})
	require.NoError(t, err)
	require.NotNil(t, srv)
}

func TestDecodeArguments(t *testing.T) {
	t.Parallel()

	t.Run("nil becomes empty map", func(t *testing.T) {
		t.Parallel()
		args, err := decodeArguments(nil)
		require.NoError(t, err)
		require.Empty(t, args)
	})

	t.Run("map passes through", func(t *testing.T) {
		t.Parallel()
		in := map[string]any{"sql": "SELECT 1"}
		args, err := decodeArguments(in)
		require.NoError(t, err)
		require.Equal(t, in, args)
	})

	t.Run("raw json decoded", func(t *testing.T) {
		t.Parallel()
		args, err := decodeArguments(json.RawMessage(`{"sql":"SELECT 1"}`))
		require.NoError(t, err)
		require.Equal(t, "SELECT 1", args["sql"])
	})

	t.Run("json null becomes empty map", func(t *testing.T) {
		t.Parallel()
		args, err := decodeArguments(json.RawMessage(`null`))
		require.NoError(t, err)
		require.NotNil(t, args)
		require.Empty(t, args)
	})

	t.Run("unsupported type rejected", func(t *testing.T) {
		t.Parallel()
		_, err := decodeArguments(42)
		require.Error(t, err)
	})
}
