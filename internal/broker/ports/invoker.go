package ports

import "context"

// AgentInvoker calls an agent over HTTP and returns its typed response
// (spec §4.1).
type AgentInvoker interface {
	Execute(ctx context.Context, agent AgentDefinition, task Task) (AgentTaskResponse, error)
}
