package llm

import "github.com/ivrcore/mediacore/pkg/types"

// Message, ToolCall, ToolDefinition, and ModelCapabilities are aliases of the
// shared pkg/types definitions: Provider's methods are typed in terms of
// pkg/types so that callers outside this package (the orchestrator, the MCP
// bridge, the transcript corrector) never need to convert between an
// llm-local shape and the shared one.
type (
	Message           = types.Message
	ToolCall          = types.ToolCall
	ToolDefinition    = types.ToolDefinition
	ModelCapabilities = types.ModelCapabilities
)
