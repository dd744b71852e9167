// Package catalog implements the agent catalog port (spec §4.2, §6.1). The
// execution engine never imports this package directly; it only depends on
// ports.AgentCatalog.
package catalog

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/titanous/json5"

	"github.com/nicolasances/gale-broker/internal/broker/errs"
	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// fileSeed is the on-disk shape of the default registry: a JSON5 document
// (comments and trailing commas allowed) listing every agent the broker
// starts with.
type fileSeed struct {
	Agents []ports.AgentDefinition `json:"agents"`
}

// File is an in-memory AgentCatalog seeded from a JSON5 file on disk. CRUD
// operations after load only mutate the in-memory copy; nothing is written
// back to path. A production deployment that wants durable catalog edits
// layers a database-backed AgentCatalog in front of this one instead.
type File struct {
	mu     sync.RWMutex
	agents map[ports.TaskKind]ports.AgentDefinition
}

// Load reads and parses path as JSON5 into a File catalog. A missing file
// is not an error: it seeds an empty catalog, the way the goclaw pack's
// config.Load treats a missing config file as "use the defaults".
func Load(path string) (*File, error) {
	f := &File{agents: make(map[ports.TaskKind]ports.AgentDefinition)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, errs.Runtime("catalog.Load", fmt.Errorf("read catalog file %q: %w", path, err))
	}

	var seed fileSeed
	if err := json5.Unmarshal(data, &seed); err != nil {
		return nil, errs.Runtime("catalog.Load", fmt.Errorf("parse catalog file %q: %w", path, err))
	}
	for _, agent := range seed.Agents {
		f.agents[agent.TaskKind] = agent
	}
	return f, nil
}

// New builds an empty File catalog, for tests. Load("") returns the same
// empty catalog when no catalog file path is configured.
func New() *File {
	return &File{agents: make(map[ports.TaskKind]ports.AgentDefinition)}
}

var _ ports.AgentCatalog = (*File)(nil)

func (f *File) FindAgentByTaskKind(ctx context.Context, kind ports.TaskKind) (ports.AgentDefinition, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.agents[kind]
	return a, ok, nil
}

func (f *File) Register(ctx context.Context, agent ports.AgentDefinition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.agents[agent.TaskKind]; exists {
		return errs.Validation("catalog.Register", fmt.Errorf("an agent is already registered for task kind %q", agent.TaskKind))
	}
	f.agents[agent.TaskKind] = agent
	return nil
}

func (f *File) Replace(ctx context.Context, agent ports.AgentDefinition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents[agent.TaskKind] = agent
	return nil
}

func (f *File) Remove(ctx context.Context, kind ports.TaskKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.agents, kind)
	return nil
}

func (f *File) List(ctx context.Context) ([]ports.AgentDefinition, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]ports.AgentDefinition, 0, len(f.agents))
	for _, a := range f.agents {
		out = append(out, a)
	}
	return out, nil
}
