package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "localhost", cfg.Qdrant.Host)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
	assert.Equal(t, "products", cfg.Sync.Collection)
	require.NotNil(t, cfg.Connectors.FakeStore)
	assert.Equal(t, "https://fakestoreapi.com", cfg.Connectors.FakeStore.BaseURL)
	assert.Nil(t, cfg.Connectors.Magento)
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := writeConfig(t, `
qdrant:
  host: qdrant.internal
connectors:
  magento:
    base_url: https://shop.example.com
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
	assert.Equal(t, 6334, cfg.Qdrant.Port, "unset fields keep defaults")
	require.NotNil(t, cfg.Connectors.Magento)
	assert.Equal(t, "https://shop.example.com", cfg.Connectors.Magento.BaseURL)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "qdrant: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("QDRANT_HOST", "qdrant.prod")
	t.Setenv("QDRANT_PORT", "7000")
	t.Setenv("MAGENTO_TOKEN", "secret-token")

	path := writeConfig(t, `
connectors:
  magento:
    base_url: https://shop.example.com
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "qdrant.prod", cfg.Qdrant.Host)
	assert.Equal(t, 7000, cfg.Qdrant.Port)
	assert.Equal(t, "secret-token", cfg.Connectors.Magento.Token)
}

func TestEnvDoesNotOverrideExplicitToken(t *testing.T) {
	t.Setenv("MAGENTO_TOKEN", "env-token")

	path := writeConfig(t, `
connectors:
  magento:
    base_url: https://shop.example.com
    token: file-token
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-token", cfg.Connectors.Magento.Token)
}
