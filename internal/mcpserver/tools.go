// Package mcpserver registers MCP tools that expose the local record
// store and the sync operations to local tooling.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/alexjbarnes/medsync/internal/models"
	"github.com/alexjbarnes/medsync/internal/resource"
	"github.com/alexjbarnes/medsync/internal/syncengine"
)

// RegisterTools adds all record and sync tools to the given MCP server.
// Every tool acts on ownerID's records.
func RegisterTools(server *mcp.Server, eng *syncengine.Engine, ownerID string) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "records_list",
		Description: "List the live (non-deleted) records of one resource: settings, frequency, medication, appointment, emergency-contact or notification. Each record carries its syncStatus.",
	}, listHandler(eng, ownerID))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "record_get",
		Description: "Fetch one record by id, including deleted records that are still waiting to be removed from the server.",
	}, getHandler(eng))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_pending",
		Description: "Count records per resource that have local changes not yet accepted by the server, and whether each resource has completed its initial pull.",
	}, pendingHandler(eng, ownerID))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_push",
		Description: "Push all pending local changes to the server now. Does nothing when offline.",
	}, pushHandler(eng, ownerID))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_pull",
		Description: "Pull every resource from the server, overwriting local copies. Resources already pulled are skipped unless force is set.",
	}, pullHandler(eng, ownerID))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// ListInput holds parameters for records_list.
type ListInput struct {
	Resource string `json:"resource" jsonschema:"resource name, e.g. medication"`
}

// GetInput holds parameters for record_get.
type GetInput struct {
	Resource string `json:"resource" jsonschema:"resource name, e.g. medication"`
	ID       int64  `json:"id" jsonschema:"record id"`
}

// PendingInput has no parameters.
type PendingInput struct{}

// PushInput has no parameters.
type PushInput struct{}

// PullInput holds parameters for sync_pull.
type PullInput struct {
	Force bool `json:"force,omitempty" jsonschema:"re-pull resources that were already pulled"`
}

// --- Output types ---

// ListResult is the output of records_list.
type ListResult struct {
	Resource string       `json:"resource"`
	Count    int          `json:"count"`
	Records  []models.Row `json:"records"`
}

// GetResult is the output of record_get.
type GetResult struct {
	Resource string     `json:"resource"`
	Record   models.Row `json:"record"`
}

// PendingResult is the output of sync_pending.
type PendingResult struct {
	Total     int                       `json:"total"`
	Resources []syncengine.PendingCount `json:"resources"`
}

// PushResult is the output of sync_push.
type PushResult struct {
	Offline bool     `json:"offline"`
	Pending int      `json:"pending"`
	Synced  int      `json:"synced"`
	Errors  []string `json:"errors,omitempty"`
}

// PullResult is the output of sync_pull.
type PullResult struct {
	FullySynced bool   `json:"fully_synced"`
	Error       string `json:"error,omitempty"`
}

// --- Handlers ---

func lookupResource(name string) (resource.Name, error) {
	if _, ok := resource.Lookup(resource.Name(name)); !ok {
		return "", fmt.Errorf("unknown resource %q (known: %v)", name, resource.Names())
	}

	return resource.Name(name), nil
}

func listHandler(eng *syncengine.Engine, ownerID string) mcp.ToolHandlerFor[ListInput, *ListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ListInput) (*mcp.CallToolResult, *ListResult, error) {
		name, err := lookupResource(input.Resource)
		if err != nil {
			return nil, nil, err
		}

		rows, err := eng.List(ctx, name, ownerID)
		if err != nil {
			return nil, nil, err
		}

		if rows == nil {
			rows = []models.Row{}
		}

		result := &ListResult{Resource: string(name), Count: len(rows), Records: rows}

		return textResult(result), result, nil
	}
}

func getHandler(eng *syncengine.Engine) mcp.ToolHandlerFor[GetInput, *GetResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GetInput) (*mcp.CallToolResult, *GetResult, error) {
		name, err := lookupResource(input.Resource)
		if err != nil {
			return nil, nil, err
		}

		row, err := eng.Get(ctx, name, input.ID)
		if err != nil {
			return nil, nil, err
		}

		result := &GetResult{Resource: string(name), Record: row}

		return textResult(result), result, nil
	}
}

func pendingHandler(eng *syncengine.Engine, ownerID string) mcp.ToolHandlerFor[PendingInput, *PendingResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ PendingInput) (*mcp.CallToolResult, *PendingResult, error) {
		counts, err := eng.Pending(ctx, ownerID)
		if err != nil {
			return nil, nil, err
		}

		result := &PendingResult{Resources: counts}
		for _, c := range counts {
			result.Total += c.Pending
		}

		return textResult(result), result, nil
	}
}

func pushHandler(eng *syncengine.Engine, ownerID string) mcp.ToolHandlerFor[PushInput, *PushResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ PushInput) (*mcp.CallToolResult, *PushResult, error) {
		report := eng.PushLocalUpdatesToServer(ctx, ownerID)

		result := &PushResult{
			Offline: report.Offline,
			Pending: report.Pending(),
			Synced:  report.Synced(),
		}

		for _, rr := range report.Resources {
			if rr.Err != nil {
				result.Errors = append(result.Errors, rr.Err.Error())
			}
		}

		return textResult(result), result, nil
	}
}

func pullHandler(eng *syncengine.Engine, ownerID string) mcp.ToolHandlerFor[PullInput, *PullResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input PullInput) (*mcp.CallToolResult, *PullResult, error) {
		result := &PullResult{}

		if err := eng.SyncLocalDatabaseWithRemote(ctx, ownerID, input.Force); err != nil {
			result.Error = err.Error()
		}

		synced, err := eng.FullySynced(ownerID)
		if err != nil {
			return nil, nil, err
		}

		result.FullySynced = synced

		return textResult(result), result, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
