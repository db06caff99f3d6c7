// Package agentid provides strong type identifiers for agents and tools so
// callers cannot accidentally mix them with free-form strings in maps or
// function signatures.
package agentid

// Ident is the strong type for a registered sub-agent name (for example,
// "research-agent").
type Ident string

// ToolIdent is the strong type for a fully qualified tool identifier (for
// example, "filesystem.read_file").
type ToolIdent string
