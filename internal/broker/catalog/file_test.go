package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolasances/gale-broker/internal/broker/errs"
	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

func TestLoad_MissingFileSeedsEmptyCatalog(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	require.NoError(t, err)
	agents, err := f.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestLoad_ParsesJSON5WithCommentsAndTrailingCommas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.json5")
	content := `{
		// the summarizer agent
		agents: [
			{name: "summarizer", taskKind: "summarize", endpoint: {baseUrl: "http://localhost:9001", executionPath: "/run"},},
		],
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	f, err := Load(path)
	require.NoError(t, err)

	agent, found, err := f.FindAgentByTaskKind(context.Background(), "summarize")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "summarizer", agent.Name)
	assert.Equal(t, "http://localhost:9001", agent.Endpoint.BaseURL)
}

func TestFile_RegisterRejectsDuplicate(t *testing.T) {
	f := New()
	ctx := context.Background()
	agent := ports.AgentDefinition{Name: "a", TaskKind: "k"}
	require.NoError(t, f.Register(ctx, agent))

	err := f.Register(ctx, agent)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestFile_ReplaceUpsertsAndRemoveDeletes(t *testing.T) {
	f := New()
	ctx := context.Background()

	require.NoError(t, f.Replace(ctx, ports.AgentDefinition{Name: "a", TaskKind: "k"}))
	agent, found, err := f.FindAgentByTaskKind(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a", agent.Name)

	require.NoError(t, f.Replace(ctx, ports.AgentDefinition{Name: "b", TaskKind: "k"}))
	agent, _, err = f.FindAgentByTaskKind(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "b", agent.Name)

	require.NoError(t, f.Remove(ctx, "k"))
	_, found, err = f.FindAgentByTaskKind(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}
