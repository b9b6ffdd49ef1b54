// Package mcpserver exposes batch generation as MCP tools over streamable
// HTTP. Runs execute in the background; their records live in DynamoDB
// when a table is configured and in memory otherwise.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/apresai/callsynth/internal/config"
	"github.com/apresai/callsynth/internal/metrics"
)

// Config holds server configuration.
type Config struct {
	Port      int
	TableName string
	AWSRegion string
	OutputDir string
	MaxTasks  int
	// RequireAuth rejects tool calls without a valid bearer API key.
	RequireAuth bool
	// APIKeys are plaintext keys accepted when no table is configured.
	APIKeys []string
}

// DefaultConfig returns a Config populated from environment variables.
func DefaultConfig() Config {
	port, err := strconv.Atoi(envOr("PORT", "8000"))
	if err != nil {
		port = 8000
	}
	maxTasks, err := strconv.Atoi(envOr("CALLSYNTH_MAX_BATCHES", "2"))
	if err != nil {
		maxTasks = 2
	}
	return Config{
		Port:      port,
		TableName: os.Getenv("DYNAMODB_TABLE"),
		AWSRegion: envOr("AWS_REGION", "us-east-1"),
		OutputDir: envOr("CALLSYNTH_OUTPUT_DIR", "output/runs"),
		MaxTasks:  maxTasks,

		RequireAuth: envOr("CALLSYNTH_REQUIRE_AUTH", "false") == "true",
		APIKeys:     strings.FieldsFunc(os.Getenv("CALLSYNTH_API_KEYS"), func(r rune) bool { return r == ',' }),
	}
}

// Backend stores run records and API keys.
type Backend interface {
	RunStore
	KeyStore
}

// Server is the MCP server for batch generation.
type Server struct {
	cfg   Config
	mcp   *server.MCPServer
	tasks *TaskManager
	auth  *Authenticator
	log   *slog.Logger
}

// New creates and configures the MCP server. base is the generation config
// every batch starts from; ctx bounds the lifetime of background batches.
func New(ctx context.Context, cfg Config, base *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	store, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	var auth *Authenticator
	if cfg.RequireAuth {
		auth = NewAuthenticator(store)
	}

	tasks := NewTaskManager(ctx, store, base, cfg.OutputDir, cfg.MaxTasks, m, logger)
	handlers := NewHandlers(tasks, store, logger)

	mcpServer := server.NewMCPServer(
		"callsynth",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	tools := ToolDefs()
	mcpServer.AddTool(tools[0], guard(auth, handlers.HandleStartBatch))
	mcpServer.AddTool(tools[1], guard(auth, handlers.HandlePlanBatch))
	mcpServer.AddTool(tools[2], guard(auth, handlers.HandleGetBatch))
	mcpServer.AddTool(tools[3], guard(auth, handlers.HandleListBatches))
	mcpServer.AddTool(tools[4], guard(auth, handlers.HandleCancelBatch))

	return &Server{cfg: cfg, mcp: mcpServer, tasks: tasks, auth: auth, log: logger}, nil
}

// OpenBackend returns the DynamoDB backend when a table is configured and
// an in-memory one, seeded with cfg.APIKeys, otherwise.
func OpenBackend(ctx context.Context, cfg Config, logger *slog.Logger) (Backend, error) {
	if cfg.TableName == "" {
		logger.Warn("DYNAMODB_TABLE not set, run records are kept in memory")
		mem := NewMemoryStore()
		if err := mem.ImportKeys(cfg.APIKeys, time.Now()); err != nil {
			return nil, fmt.Errorf("CALLSYNTH_API_KEYS: %w", err)
		}
		if cfg.RequireAuth && len(cfg.APIKeys) == 0 {
			return nil, fmt.Errorf("auth is required but no table or CALLSYNTH_API_KEYS is configured")
		}
		return mem, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)
	return NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.TableName), nil
}

// Start runs the HTTP MCP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.log.Info("starting MCP server", "addr", addr, "max_batches", s.cfg.MaxTasks, "auth", s.auth != nil)

	opts := []server.StreamableHTTPOption{server.WithStateLess(true)}
	if s.auth != nil {
		opts = append(opts, server.WithHTTPContextFunc(s.auth.HTTPContext))
	}
	httpServer := server.NewStreamableHTTPServer(s.mcp, opts...)
	return httpServer.Start(addr)
}

// Wait blocks until running batches have saved their results or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	return s.tasks.Wait(ctx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
