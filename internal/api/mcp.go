package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sefton37/triage/internal/exemplar"
	"github.com/sefton37/triage/internal/ops"
	"github.com/sefton37/triage/internal/taxonomy"
	"github.com/sefton37/triage/internal/verify"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Ops       *ops.Service
	Exemplars *exemplar.Context
}

// NewMCPServer creates an MCP server with all triage tools and resources
// registered. Agents drive the classify-route-verify flow through the
// tools; the resources expose recent state for context.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"triage",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("triage classifies user requests by destination, consumer, and semantics, routes them to the right agent, and verifies proposed actions before they run."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("classify_request",
			mcp.WithDescription("Classify a user request along the destination, consumer, and semantics axes without creating an operation."),
			mcp.WithString("request", mcp.Description("The raw user request text"), mcp.Required()),
			mcp.WithString("user", mcp.Description("User the request belongs to (default local)")),
		),
		mcpClassifyRequest(deps),
	)

	s.AddTool(
		mcp.NewTool("record_correction",
			mcp.WithDescription("Correct a misclassified operation. The corrected triple becomes an exemplar for future classification."),
			mcp.WithString("operation", mcp.Description("Operation ID to correct"), mcp.Required()),
			mcp.WithString("destination", mcp.Description("Corrected destination axis (stream, file, process)"), mcp.Required()),
			mcp.WithString("consumer", mcp.Description("Corrected consumer axis (human, machine)"), mcp.Required()),
			mcp.WithString("semantics", mcp.Description("Corrected semantics axis (read, interpret, execute)"), mcp.Required()),
			mcp.WithString("reasoning", mcp.Description("Why the original classification was wrong")),
			mcp.WithString("user", mcp.Description("User recording the correction (default local)")),
		),
		mcpRecordCorrection(deps),
	)

	s.AddTool(
		mcp.NewTool("list_corrections",
			mcp.WithDescription("List stored user corrections, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of corrections (default 20)")),
		),
		mcpListCorrections(deps),
	)

	s.AddTool(
		mcp.NewTool("verify_action",
			mcp.WithDescription("Run the verification pipeline over a proposed action for a routed operation."),
			mcp.WithString("operation", mcp.Description("Operation ID the action belongs to"), mcp.Required()),
			mcp.WithString("action", mcp.Description("JSON object describing the action: {kind, summary, command, path, content}"), mcp.Required()),
			mcp.WithArray("declared_effects", mcp.Description("Effects the agent says the action will have, as verb:target strings")),
			mcp.WithArray("observed_effects", mcp.Description("Effects actually observed in a dry run, as verb:target strings")),
			mcp.WithString("mode", mcp.Description("Verification mode: strict or lenient (default from config)")),
		),
		mcpVerifyAction(deps),
	)

	s.AddTool(
		mcp.NewTool("get_operation",
			mcp.WithDescription("Fetch an operation with its feedback and verification history."),
			mcp.WithString("operation", mcp.Description("Operation ID"), mcp.Required()),
		),
		mcpGetOperation(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"ops://recent",
			"Recent Operations",
			mcp.WithResourceDescription("Last 10 operations (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"ops://corrections",
			"Recent Corrections",
			mcp.WithResourceDescription("Last 20 user corrections as exemplar records"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCorrections(deps),
	)

	return s
}

func mcpClassifyRequest(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		request, err := req.RequireString("request")
		if err != nil {
			return mcpError("request is required"), nil
		}
		user := req.GetString("user", defaultUser)

		res, err := deps.Ops.Classify(ctx, user, request)
		if err != nil {
			return mcpError(fmt.Sprintf("classification failed: %v", err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecordCorrection(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		operationID, err := req.RequireString("operation")
		if err != nil {
			return mcpError("operation is required"), nil
		}
		destination, err := req.RequireString("destination")
		if err != nil {
			return mcpError("destination is required"), nil
		}
		consumer, err := req.RequireString("consumer")
		if err != nil {
			return mcpError("consumer is required"), nil
		}
		semantics, err := req.RequireString("semantics")
		if err != nil {
			return mcpError("semantics is required"), nil
		}

		corrected, err := taxonomy.Parse(destination, consumer, semantics, true)
		if err != nil {
			return mcpError(fmt.Sprintf("invalid correction: %v", err)), nil
		}

		fb, err := deps.Ops.RecordFeedback(ops.FeedbackRequest{
			OperationID: operationID,
			UserID:      req.GetString("user", defaultUser),
			Type:        ops.FeedbackCorrection,
			Corrected:   corrected,
			Reasoning:   req.GetString("reasoning", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record correction: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Recorded correction %s: operation %s is now %s", fb.ID, operationID, corrected.String())), nil
	}
}

func mcpListCorrections(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 50 {
			limit = 50
		}

		records, err := deps.Exemplars.GetCorrections(limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list corrections: %v", err)), nil
		}
		if len(records) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(records)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal corrections: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpVerifyAction(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		operationID, err := req.RequireString("operation")
		if err != nil {
			return mcpError("operation is required"), nil
		}
		actionJSON, err := req.RequireString("action")
		if err != nil {
			return mcpError("action is required"), nil
		}

		var action verify.Action
		if err := json.Unmarshal([]byte(actionJSON), &action); err != nil {
			return mcpError(fmt.Sprintf("invalid action JSON: %v", err)), nil
		}

		env := verify.Environment{
			DeclaredEffects: req.GetStringSlice("declared_effects", nil),
			ObservedEffects: req.GetStringSlice("observed_effects", nil),
		}

		var mode verify.Mode
		if m := req.GetString("mode", ""); m != "" {
			if mode, err = verify.ParseMode(m); err != nil {
				return mcpError("mode must be strict or lenient"), nil
			}
		}

		pr, err := deps.Ops.Verify(ctx, operationID, action, env, mode)
		if err != nil {
			return mcpError(fmt.Sprintf("verification failed: %v", err)), nil
		}

		b, err := json.Marshal(pr)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetOperation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		operationID, err := req.RequireString("operation")
		if err != nil {
			return mcpError("operation is required"), nil
		}

		det, err := deps.Ops.GetDetail(operationID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get operation: %v", err)), nil
		}

		b, err := json.Marshal(det)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal operation: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		operations, err := deps.Ops.ListRecent("", 10)
		if err != nil {
			return nil, fmt.Errorf("failed to list operations: %w", err)
		}

		type operationSummary struct {
			ID             string `json:"id"`
			CreatedAt      string `json:"created_at"`
			Status         string `json:"status"`
			Classification string `json:"classification,omitempty"`
			Request        string `json:"request"`
		}

		summaries := make([]operationSummary, len(operations))
		for i, op := range operations {
			request := op.Request
			if utf8.RuneCountInString(request) > 200 {
				runes := []rune(request)
				request = string(runes[:200]) + "..."
			}
			s := operationSummary{
				ID:        op.ID,
				CreatedAt: op.CreatedAt.Format(time.RFC3339),
				Status:    string(op.Status),
				Request:   request,
			}
			if op.Classified() {
				s.Classification = op.Classification.String()
			}
			summaries[i] = s
		}

		return jsonResource(req.Params.URI, summaries)
	}
}

func mcpResourceCorrections(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.Exemplars.GetCorrections(20)
		if err != nil {
			return nil, fmt.Errorf("failed to list corrections: %w", err)
		}
		if records == nil {
			records = []exemplar.Record{}
		}

		return jsonResource(req.Params.URI, records)
	}
}

// jsonResource wraps v, marshaled as JSON, in the single contents entry a
// resource read returns.
func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding resource %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(b)},
	}, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}}}
}

func mcpError(msg string) *mcp.CallToolResult {
	res := mcpText(msg)
	res.IsError = true
	return res
}
