package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/yggdrasil-ai/yggdrasil/internal/checkpoint"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
	"github.com/yggdrasil-ai/yggdrasil/internal/pipeline"
)

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("yggdrasil_query",
			mcplib.WithDescription(`Ask yggdrasil a question. The query is classified, routed to the
MIMIR/VOLVA/HUGIN evidence branches, put to a council of models for
deliberation, and validated before an answer is returned.

A rejected query (approved=false) means no source or council consensus
could be established. Treat that as "unknown", not as a wrong answer —
do not fabricate a confident response from a rejected result.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("query",
				mcplib.Description("The question to ask."),
				mcplib.Required(),
			),
			mcplib.WithBoolean("require_mimir_anchor",
				mcplib.Description("Require at least one MIMIR-anchored (trust score 100) source before the answer can be approved."),
			),
		),
		s.handleQuery,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("yggdrasil_check",
			mcplib.WithDescription(`Inspect a previously persisted knowledge node: its current state,
confidence, and full audit trail. Use this to verify a prior
yggdrasil_query result still holds before relying on it again — nodes
can be invalidated by cascades or rescored by the watcher daemon.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("node_id",
				mcplib.Description("The node ID returned in a yggdrasil_query response."),
				mcplib.Required(),
			),
		),
		s.handleCheck,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("yggdrasil_checkpoint",
			mcplib.WithDescription(`Snapshot the ledger's current state, or roll back to a previously
created snapshot. Rollback never rewrites history — it appends
ROLLBACK audit entries restoring each node's snapshotted state.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("action",
				mcplib.Description(`"create" to snapshot the ledger, "rollback" to restore a prior snapshot.`),
				mcplib.Required(),
			),
			mcplib.WithString("label",
				mcplib.Description(`Label for the new snapshot. Required when action="create".`),
			),
			mcplib.WithString("user_id",
				mcplib.Description(`Caller identity recorded on the new snapshot. Used only when action="create".`),
			),
			mcplib.WithString("description",
				mcplib.Description(`Free-form note on the new snapshot. Used only when action="create".`),
			),
			mcplib.WithArray("member_node_ids",
				mcplib.Description(`Node IDs to snapshot. Omit to snapshot every node currently in the ledger. Used only when action="create".`),
				mcplib.Items(map[string]any{"type": "string"}),
			),
			mcplib.WithString("checkpoint_id",
				mcplib.Description(`ID of a checkpoint created earlier in this session. Required when action="rollback".`),
			),
			mcplib.WithString("agent",
				mcplib.Description(`Caller identity recorded in the rollback audit entries. Required when action="rollback".`),
			),
		),
		s.handleCheckpoint,
	)
}

func (s *Server) handleQuery(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	// Defaults to true when omitted (spec §4.11): a caller that says nothing
	// about it still gets Odin's anchor check.
	requireAnchor := request.GetBool("require_mimir_anchor", true)

	resp, err := s.pipeline.Process(ctx, pipeline.Request{
		Query:              query,
		RequireMimirAnchor: requireAnchor,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("query failed: %v", err)), nil
	}
	return jsonResult(resp), nil
}

func (s *Server) handleCheck(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	nodeIDStr := request.GetString("node_id", "")
	if nodeIDStr == "" {
		return errorResult("node_id is required"), nil
	}
	nodeID, err := uuid.Parse(nodeIDStr)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid node_id: %v", err)), nil
	}

	node, err := s.ledger.GetNode(ctx, nodeID)
	if err != nil {
		return errorResult(fmt.Sprintf("check failed: %v", err)), nil
	}
	trail, err := s.ledger.AuditTrail(ctx, nodeID)
	if err != nil {
		return errorResult(fmt.Sprintf("check failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"node_id":          node.ID,
		"state":            node.State,
		"confidence":       node.Confidence,
		"queue":            node.Queue,
		"audit_entries":    len(trail),
		"last_audit_entry": lastAuditEntry(trail),
	}), nil
}

func lastAuditEntry(trail []domain.AuditEntry) any {
	if len(trail) == 0 {
		return nil
	}
	return trail[len(trail)-1]
}

func (s *Server) handleCheckpoint(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	action := request.GetString("action", "")
	switch action {
	case "create":
		label := request.GetString("label", "")
		if label == "" {
			return errorResult(`label is required when action="create"`), nil
		}
		userID := request.GetString("user_id", "")
		description := request.GetString("description", "")

		var memberIDs []uuid.UUID
		if raw, ok := request.GetArguments()["member_node_ids"].([]any); ok {
			for _, v := range raw {
				idStr, ok := v.(string)
				if !ok {
					continue
				}
				id, err := uuid.Parse(idStr)
				if err != nil {
					return errorResult(fmt.Sprintf("invalid member_node_ids entry: %v", err)), nil
				}
				memberIDs = append(memberIDs, id)
			}
		}

		cp, err := checkpoint.Create(ctx, s.store, userID, label, memberIDs, checkpoint.CreateOptions{Description: description})
		if err != nil {
			return errorResult(fmt.Sprintf("checkpoint create failed: %v", err)), nil
		}
		s.mu.Lock()
		s.checkpoints[cp.ID] = cp
		s.mu.Unlock()
		return jsonResult(map[string]any{
			"checkpoint_id": cp.ID,
			"label":         cp.Label,
			"state_hash":    cp.StateHash,
			"member_count":  len(cp.MemberNodeIDs),
			"node_count":    len(cp.Snapshots),
			"created_at":    cp.CreatedAt,
		}), nil

	case "rollback":
		idStr := request.GetString("checkpoint_id", "")
		agent := request.GetString("agent", "")
		if idStr == "" || agent == "" {
			return errorResult(`checkpoint_id and agent are required when action="rollback"`), nil
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return errorResult(fmt.Sprintf("invalid checkpoint_id: %v", err)), nil
		}

		s.mu.Lock()
		cp, found := s.checkpoints[id]
		s.mu.Unlock()
		if !found {
			return errorResult("unknown checkpoint_id: checkpoints only live for the current server session"), nil
		}

		result, err := checkpoint.Rollback(ctx, s.store, cp, agent)
		if err != nil {
			return errorResult(fmt.Sprintf("checkpoint rollback failed: %v", err)), nil
		}
		return jsonResult(result), nil

	default:
		return errorResult(`action must be "create" or "rollback"`), nil
	}
}
