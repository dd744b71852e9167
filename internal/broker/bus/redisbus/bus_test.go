package redisbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

func TestBus_DecodeParsesEnvelope(t *testing.T) {
	b := New(nil, nil)
	env, err := b.Decode([]byte(`{"type":"task","cid":"cid-1","timestamp":1234,"payload":{"taskKind":"summarize"}}`))
	require.NoError(t, err)
	assert.Equal(t, ports.EnvelopeType, env.Type)
	assert.Equal(t, "cid-1", env.CID)
	assert.EqualValues(t, 1234, env.Timestamp)
}

func TestBus_DecodeRejectsMalformedJSON(t *testing.T) {
	b := New(nil, nil)
	_, err := b.Decode([]byte(`not json`))
	assert.Error(t, err)
}

// Publish and Subscribe talk to a real Redis server and are exercised by
// integration tests run against docker-compose, not unit tests here.
