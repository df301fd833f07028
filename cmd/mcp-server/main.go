package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "net/http/pprof"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/querylens/querylens/internal/gateway"
	"github.com/querylens/querylens/internal/logger"
	"github.com/querylens/querylens/internal/mcpserver"
	"github.com/querylens/querylens/internal/mcpserver/metrics"
	"github.com/querylens/querylens/internal/tools"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8010"
	defaultMetricsAddr = "0.0.0.0:0"
	defaultDialect     = "postgres"

	dsnEnvVar     = "QUERYLENS_DSN"
	dialectEnvVar = "QUERYLENS_DIALECT"
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
	enablePprofFlag := flag.Bool("enable-pprof", false, "enable pprof server")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP server listen address")

	dialectFlag := flag.String("dialect", defaultDialect, "SQL dialect (postgres, duckdb, clickhouse); or set QUERYLENS_DIALECT env var")
	dsnFlag := flag.String("dsn", "", "Database connection string (or set QUERYLENS_DSN env var)")
	denylistFlag := flag.StringSlice("schema-denylist", nil, "Extra table-name prefixes hidden from schema introspection (defaults to common system prefixes)")
	statementTimeoutFlag := flag.Duration("statement-timeout", 60*time.Second, "Per-statement execution timeout")

	flag.Parse()

	if envDSN := os.Getenv(dsnEnvVar); envDSN != "" && *dsnFlag == "" {
		*dsnFlag = envDSN
	}
	if envDialect := os.Getenv(dialectEnvVar); envDialect != "" {
		*dialectFlag = envDialect
	}

	log := logger.New(*verboseFlag)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *dsnFlag == "" {
		return fmt.Errorf("database DSN is required (set --dsn or %s env var)", dsnEnvVar)
	}

	dialect, err := gateway.ParseDialect(*dialectFlag)
	if err != nil {
		return err
	}

	if *enablePprofFlag {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	metricsServerErrCh := make(chan error, 1)
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				metricsServerErrCh <- err
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
				metricsServerErrCh <- err
			}
		}()
	}

	// Parse allowed tokens from environment variable (comma-separated)
	// Auth can be explicitly disabled with MCP_AUTH_DISABLED=true
	var allowedTokens []string
	if os.Getenv("MCP_AUTH_DISABLED") == "true" {
		log.Info("mcp server: authentication explicitly disabled")
	} else if tokensEnv := os.Getenv("MCP_ALLOWED_TOKENS"); tokensEnv != "" {
		for _, token := range strings.Split(tokensEnv, ",") {
			token = strings.TrimSpace(token)
			if token != "" {
				allowedTokens = append(allowedTokens, token)
			}
		}
		if len(allowedTokens) > 0 {
			log.Info("mcp server: token authentication enabled", "token_count", len(allowedTokens))
		}
	} else {
		log.Info("mcp server: authentication disabled (no tokens configured)")
	}

	db, err := gateway.Open(ctx, gateway.DBConfig{
		Logger:  log,
		Dialect: dialect,
		DSN:     *dsnFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database", "error", err)
		}
	}()

	denylist := gateway.DefaultDenylist
	if len(*denylistFlag) > 0 {
		denylist = append(denylist, *denylistFlag...)
	}

	introspector, err := gateway.NewIntrospector(gateway.IntrospectorConfig{
		Logger:   log,
		DB:       db,
		Denylist: denylist,
	})
	if err != nil {
		return fmt.Errorf("failed to create introspector: %w", err)
	}

	executor, err := gateway.NewExecutor(gateway.ExecutorConfig{
		Logger:           log,
		DB:               db,
		StatementTimeout: *statementTimeoutFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}

	registry := tools.NewRegistry(log)

	schemaTool, err := tools.NewDescribeSchemaTool(log, introspector)
	if err != nil {
		return fmt.Errorf("failed to create describe-schema tool: %w", err)
	}
	if err := registry.Register(schemaTool); err != nil {
		return fmt.Errorf("failed to register describe-schema tool: %w", err)
	}

	queryTool, err := tools.NewExecuteSQLTool(log, executor)
	if err != nil {
		return fmt.Errorf("failed to create execute-sql tool: %w", err)
	}
	if err := registry.Register(queryTool); err != nil {
		return fmt.Errorf("failed to register execute-sql tool: %w", err)
	}

	server, err := mcpserver.New(ctx, mcpserver.Config{
		Logger:        log,
		Registry:      registry,
		DB:            db,
		Version:       version,
		ListenAddr:    *listenAddrFlag,
		AllowedTokens: allowedTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Run(ctx); err != nil {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("server: shutting down", "reason", ctx.Err())
		return nil
	case err := <-serverErrCh:
		log.Error("server: server error causing shutdown", "error", err)
		return err
	case err := <-metricsServerErrCh:
		log.Error("server: metrics server error causing shutdown", "error", err)
		return err
	}
}
