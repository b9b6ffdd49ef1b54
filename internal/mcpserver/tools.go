package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/apresai/callsynth/internal/pipeline"
)

var tracer = otel.Tracer("callsynth-mcp")

var batchProperties = map[string]any{
	"locale": map[string]any{
		"type":        "string",
		"description": "Target locale, e.g. ms-my. Defaults to the server config.",
	},
	"kind": map[string]any{
		"type":        "string",
		"description": "Conversation kind: scam or legit",
	},
	"control_mode": map[string]any{
		"type":        "string",
		"description": "seeds (every scenario of N seeds) or conversations (stop at a target count)",
	},
	"seeds_path": map[string]any{
		"type":        "string",
		"description": "Seed file on the server",
	},
	"placeholders_path": map[string]any{
		"type":        "string",
		"description": "Placeholder catalog for the locale on the server",
	},
	"provider": map[string]any{
		"type":        "string",
		"description": "LLM provider: anthropic, bedrock, gemini",
	},
	"model": map[string]any{
		"type":        "string",
		"description": "Model alias or id: haiku, sonnet, gemini-flash, gemini-pro",
	},
	"target": map[string]any{
		"type":        "integer",
		"description": "Target conversations (conversations mode and legit batches)",
	},
	"per_seed": map[string]any{
		"type":        "integer",
		"description": "Scenarios per seed",
	},
	"seed_limit": map[string]any{
		"type":        "integer",
		"description": "Seeds to use in seeds mode",
	},
	"max_conversations": map[string]any{
		"type":        "integer",
		"description": "Absolute cap on conversations",
	},
	"random_seed": map[string]any{
		"type":        "integer",
		"description": "Random seed for a reproducible plan",
	},
}

// ToolDefs returns the MCP tool definitions.
func ToolDefs() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "start_batch",
			Description: "Start generating a conversation dataset. Runs in the background and returns a run ID. Use get_batch to check progress.",
			InputSchema: mcp.ToolInputSchema{Type: "object", Properties: batchProperties},
		},
		{
			Name:        "plan_batch",
			Description: "Show what a batch would generate without calling the LLM: planned conversations, seeds used and skipped seeds.",
			InputSchema: mcp.ToolInputSchema{Type: "object", Properties: batchProperties},
		},
		{
			Name:        "get_batch",
			Description: "Get the status, progress and counts of a batch by run ID.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"run_id": map[string]any{
						"type":        "string",
						"description": "The run ID returned from start_batch",
					},
				},
				Required: []string{"run_id"},
			},
		},
		{
			Name:        "list_batches",
			Description: "List batches, newest first.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results (default 20)",
						"default":     20,
					},
					"cursor": map[string]any{
						"type":        "string",
						"description": "Pagination cursor from a previous list_batches call",
					},
				},
			},
		},
		{
			Name:        "cancel_batch",
			Description: "Stop a running batch. Conversations already generated are saved as a partial dataset.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"run_id": map[string]any{
						"type":        "string",
						"description": "The run ID to cancel",
					},
				},
				Required: []string{"run_id"},
			},
		},
	}
}

// Handlers contains tool handler implementations.
type Handlers struct {
	tasks *TaskManager
	store RunStore
	log   *slog.Logger
}

// NewHandlers creates tool handlers.
func NewHandlers(tasks *TaskManager, store RunStore, logger *slog.Logger) *Handlers {
	return &Handlers{tasks: tasks, store: store, log: logger}
}

func parseBatchRequest(req mcp.CallToolRequest) BatchRequest {
	br := BatchRequest{
		Locale:           mcp.ParseString(req, "locale", ""),
		Kind:             mcp.ParseString(req, "kind", ""),
		ControlMode:      mcp.ParseString(req, "control_mode", ""),
		SeedsPath:        mcp.ParseString(req, "seeds_path", ""),
		PlaceholdersPath: mcp.ParseString(req, "placeholders_path", ""),
		Provider:         mcp.ParseString(req, "provider", ""),
		Model:            mcp.ParseString(req, "model", ""),
		Target:           parseIntParam(req, "target", 0),
		PerSeed:          parseIntParam(req, "per_seed", 0),
		SeedLimit:        parseIntParam(req, "seed_limit", 0),
		MaxConversations: parseIntParam(req, "max_conversations", 0),
	}
	if seed := parseIntParam(req, "random_seed", -1); seed >= 0 {
		s := uint64(seed)
		br.RandomSeed = &s
	}
	return br
}

// HandleStartBatch starts a batch in the background.
func (h *Handlers) HandleStartBatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.start_batch")
	defer span.End()

	br := parseBatchRequest(req)
	span.SetAttributes(
		attribute.String("locale", br.Locale),
		attribute.String("kind", br.Kind),
		attribute.String("model", br.Model),
		attribute.Int("target", br.Target),
	)

	id, err := h.tasks.StartTask(ctx, br)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start task failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to start batch: %v", err)), nil
	}

	span.SetAttributes(attribute.String("run_id", id))
	h.log.InfoContext(ctx, "batch started", "run_id", id)

	return jsonResult(map[string]any{
		"run_id":  id,
		"status":  string(RunStatusSubmitted),
		"message": "Batch started. Use get_batch with this run_id to check progress.",
	})
}

// HandlePlanBatch returns the plan of a batch without generating it.
func (h *Handlers) HandlePlanBatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, span := tracer.Start(ctx, "tool.plan_batch")
	defer span.End()

	cfg, err := h.tasks.BatchConfig("plan", parseBatchRequest(req))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid batch: %v", err)), nil
	}
	in, err := pipeline.LoadInputs(cfg)
	if err != nil {
		span.RecordError(err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to load inputs: %v", err)), nil
	}
	p, err := pipeline.BuildPlan(cfg, in)
	if err != nil {
		span.RecordError(err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to plan batch: %v", err)), nil
	}

	categories := map[string]int{}
	for _, u := range p.Units {
		categories[u.Template.Category]++
	}
	result := map[string]any{
		"locale":         p.Locale,
		"kind":           string(p.Kind),
		"conversations":  len(p.Units),
		"eligible_seeds": p.EligibleSeeds,
		"seeds_used":     p.SeedsUsed,
		"random_seed":    p.RandomSeed,
		"capped":         p.Capped,
		"categories":     categories,
	}
	if len(p.Skipped) > 0 {
		result["skipped_seeds"] = p.Skipped
	}
	return jsonResult(result)
}

// HandleGetBatch returns a batch's record.
func (h *Handlers) HandleGetBatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.get_batch")
	defer span.End()

	id := mcp.ParseString(req, "run_id", "")
	if id == "" {
		span.SetStatus(codes.Error, "missing run_id")
		return mcp.NewToolResultError("run_id is required"), nil
	}
	span.SetAttributes(attribute.String("run_id", id))

	item, err := h.store.GetRun(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get run failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to get batch: %v", err)), nil
	}
	if item == nil {
		span.SetStatus(codes.Error, "not found")
		return mcp.NewToolResultError(fmt.Sprintf("batch %s not found", id)), nil
	}
	return jsonResult(runView(item, true))
}

// HandleListBatches returns a page of batches.
func (h *Handlers) HandleListBatches(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.list_batches")
	defer span.End()

	limit := parseIntParam(req, "limit", 20)
	cursor := mcp.ParseString(req, "cursor", "")

	items, next, err := h.store.ListRuns(ctx, limit, cursor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list runs failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to list batches: %v", err)), nil
	}
	span.SetAttributes(attribute.Int("result_count", len(items)))

	batches := make([]map[string]any, 0, len(items))
	for i := range items {
		batches = append(batches, runView(&items[i], false))
	}
	result := map[string]any{
		"batches": batches,
		"count":   len(batches),
	}
	if next != "" {
		result["next_cursor"] = next
	}
	return jsonResult(result)
}

// HandleCancelBatch stops a running batch.
func (h *Handlers) HandleCancelBatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(req, "run_id", "")
	if id == "" {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	if !h.tasks.CancelTask(id) {
		return mcp.NewToolResultError(fmt.Sprintf("batch %s is not running", id)), nil
	}
	h.log.InfoContext(ctx, "batch cancelled", "run_id", id)
	return jsonResult(map[string]any{"run_id": id, "message": "Cancellation requested"})
}

func runView(item *RunItem, detail bool) map[string]any {
	v := map[string]any{
		"run_id":     item.RunID,
		"status":     item.Status,
		"locale":     item.Locale,
		"kind":       item.Kind,
		"created_at": item.CreatedAt,
	}
	if item.Planned > 0 {
		v["planned"] = item.Planned
		v["accepted"] = item.Accepted
		v["rejected"] = item.Rejected
	}
	if !detail {
		return v
	}
	v["progress_percent"] = item.ProgressPercent
	v["stage_message"] = item.StageMessage
	if item.Model != "" {
		v["model"] = item.Model
	}
	if item.OutputPath != "" {
		v["output_path"] = item.OutputPath
	}
	if item.ReportPath != "" {
		v["report_path"] = item.ReportPath
	}
	if item.CostUSD > 0 {
		v["estimated_cost_usd"] = item.CostUSD
	}
	if item.ErrorMessage != "" {
		v["error"] = item.ErrorMessage
	}
	return v
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func parseIntParam(req mcp.CallToolRequest, key string, defaultVal int) int {
	args := req.GetArguments()
	if args == nil {
		return defaultVal
	}
	raw, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultVal
	}
}
