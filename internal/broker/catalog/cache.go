package catalog

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// Cached wraps an AgentCatalog with an LRU cache over FindAgentByTaskKind,
// the broker's hot path (every single task delivery calls it). Writes
// invalidate the affected entry rather than the whole cache.
type Cached struct {
	inner ports.AgentCatalog
	cache *lru.Cache[ports.TaskKind, ports.AgentDefinition]
}

// NewCached wraps inner with an LRU cache sized to hold size entries.
func NewCached(inner ports.AgentCatalog, size int) (*Cached, error) {
	cache, err := lru.New[ports.TaskKind, ports.AgentDefinition](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: cache}, nil
}

var _ ports.AgentCatalog = (*Cached)(nil)

func (c *Cached) FindAgentByTaskKind(ctx context.Context, kind ports.TaskKind) (ports.AgentDefinition, bool, error) {
	if agent, ok := c.cache.Get(kind); ok {
		return agent, true, nil
	}
	agent, found, err := c.inner.FindAgentByTaskKind(ctx, kind)
	if err != nil {
		return ports.AgentDefinition{}, false, err
	}
	if found {
		c.cache.Add(kind, agent)
	}
	return agent, found, nil
}

func (c *Cached) Register(ctx context.Context, agent ports.AgentDefinition) error {
	if err := c.inner.Register(ctx, agent); err != nil {
		return err
	}
	c.cache.Remove(agent.TaskKind)
	return nil
}

func (c *Cached) Replace(ctx context.Context, agent ports.AgentDefinition) error {
	if err := c.inner.Replace(ctx, agent); err != nil {
		return err
	}
	c.cache.Remove(agent.TaskKind)
	return nil
}

func (c *Cached) Remove(ctx context.Context, kind ports.TaskKind) error {
	if err := c.inner.Remove(ctx, kind); err != nil {
		return err
	}
	c.cache.Remove(kind)
	return nil
}

func (c *Cached) List(ctx context.Context) ([]ports.AgentDefinition, error) {
	return c.inner.List(ctx)
}
