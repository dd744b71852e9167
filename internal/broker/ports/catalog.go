package ports

import "context"

// Endpoint describes where an agent can be reached over HTTP (spec §4.2).
type Endpoint struct {
	BaseURL       string `json:"baseUrl"`
	ExecutionPath string `json:"executionPath"`
	InfoPath      string `json:"infoPath,omitempty"`
}

// AgentDefinition is a catalog entry: one agent serving one task kind.
type AgentDefinition struct {
	Name     string   `json:"name"`
	TaskKind TaskKind `json:"taskKind"`
	Endpoint Endpoint `json:"endpoint"`
	// AuthToken, when non-empty, is sent as a bearer token on every
	// invocation of this agent (spec §6.2). Secret retrieval proper is an
	// external collaborator; the catalog only carries whatever token its
	// backing store was given.
	AuthToken string `json:"authToken,omitempty"`
}

// AgentCatalog looks agents up by task kind (spec §4.2). The broker's core
// treats this strictly as a port: AgentNotFound is raised by the caller when
// FindAgentByTaskKind returns ok=false, never by the catalog itself.
type AgentCatalog interface {
	FindAgentByTaskKind(ctx context.Context, kind TaskKind) (AgentDefinition, bool, error)

	// Register, Replace, Remove and List, together with FindAgentByTaskKind
	// for single-agent lookups, back the catalog CRUD surface
	// (spec §6.1); out of the execution engine's dependency graph but part
	// of the same port so a single adapter can serve both.
	Register(ctx context.Context, agent AgentDefinition) error
	Replace(ctx context.Context, agent AgentDefinition) error
	Remove(ctx context.Context, kind TaskKind) error
	List(ctx context.Context) ([]AgentDefinition, error)
}
