package runner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtraConfig(t *testing.T) {
	cfg, err := ParseExtraConfig(json.RawMessage(`{
		"required": ["containers"],
		"containers": [{"name": "db", "image": "postgres:15"}],
		"ports": [{"container_port": 5432, "container": "db"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"containers"}, cfg.Required)
	require.Len(t, cfg.Containers, 1)
	assert.Equal(t, "postgres:15", cfg.Containers[0].Image)
	require.Len(t, cfg.Ports, 1)
	assert.Equal(t, 5432, cfg.Ports[0].ContainerPort)
}

func TestParseExtraConfigEmpty(t *testing.T) {
	cfg, err := ParseExtraConfig(nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Required)
}

func TestParseExtraConfigInvalid(t *testing.T) {
	_, err := ParseExtraConfig(json.RawMessage(`[1, 2]`))
	assert.Error(t, err)
}

func TestCheckRequiredFeatures(t *testing.T) {
	supported := map[string]struct{}{
		FeatureContainers: {},
		FeaturePorts:      {},
	}

	cfg, err := ParseExtraConfig(json.RawMessage(`{"required": ["containers", "ports"]}`))
	require.NoError(t, err)
	assert.NoError(t, CheckRequiredFeatures(cfg, supported))

	cfg, err = ParseExtraConfig(json.RawMessage(`{"required": ["gpus"]}`))
	require.NoError(t, err)
	err = CheckRequiredFeatures(cfg, supported)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gpus")

	// The single-host driver supports nothing
	cfg, err = ParseExtraConfig(json.RawMessage(`{"required": ["containers"]}`))
	require.NoError(t, err)
	assert.Error(t, CheckRequiredFeatures(cfg, nil))
}
