// Package mcp implements the Model Context Protocol server for yggdrasil.
//
// It exposes the pipeline and knowledge ledger to MCP-compatible agents as
// three tools: yggdrasil_query (run a query through the full pipeline),
// yggdrasil_check (inspect a node's current state and audit trail), and
// yggdrasil_checkpoint (snapshot or roll back the ledger).
package mcp

import (
	"log/slog"
	"sync"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/google/uuid"

	"github.com/yggdrasil-ai/yggdrasil/internal/checkpoint"
	"github.com/yggdrasil-ai/yggdrasil/internal/ledger"
	"github.com/yggdrasil-ai/yggdrasil/internal/pipeline"
)

// serverInstructions is sent to every MCP client during the initialize
// handshake, so connected agents know the available tools without
// per-project configuration.
const serverInstructions = `You have access to yggdrasil, a validation and memory layer over federated AI model providers.

TOOLS:
- yggdrasil_query: ask a question; it is classified, routed to the MIMIR/VOLVA/HUGIN
  evidence branches, put to a council of models for deliberation, and validated
  before an answer is returned. A rejected query means no source or consensus
  could be established — treat that as "unknown", not as a wrong answer.
- yggdrasil_check: inspect a previously persisted node's current state, confidence,
  and audit trail by ID.
- yggdrasil_checkpoint: snapshot the ledger's current state, or roll back to a
  previously created snapshot.`

// Server wraps the MCP server with yggdrasil's pipeline and ledger.
type Server struct {
	mcpServer *mcpserver.MCPServer
	pipeline  *pipeline.Service
	ledger    *ledger.Ledger
	store     checkpoint.Store
	logger    *slog.Logger

	mu          sync.Mutex
	checkpoints map[uuid.UUID]checkpoint.Checkpoint
}

// New creates and configures a new MCP server with all tools registered.
func New(pipe *pipeline.Service, led *ledger.Ledger, store checkpoint.Store, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		pipeline:    pipe,
		ledger:      led,
		store:       store,
		logger:      logger,
		checkpoints: make(map[uuid.UUID]checkpoint.Checkpoint),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"yggdrasil",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for HTTP transport mounting.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
