// Package config loads the application configuration from YAML with
// sensible defaults, then applies environment-variable overrides so
// deployments can keep secrets out of the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP server binary.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// QdrantConfig contains connection details for the vector index.
type QdrantConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// EmbeddingConfig configures the text embedder and the optional
// CLIP-style image embedder behind an OpenAI-compatible endpoint.
type EmbeddingConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	Dimension      int    `yaml:"dimension"`
	BatchSize      int    `yaml:"batch_size"`
	ImageBaseURL   string `yaml:"image_base_url"`
	ImageModel     string `yaml:"image_model"`
	ImageDimension int    `yaml:"image_dimension"`
}

// SyncConfig configures ingestion behavior.
type SyncConfig struct {
	Collection    string `yaml:"collection"`
	IncludeImages bool   `yaml:"include_images"`
	DataDir       string `yaml:"data_dir"`
}

// FakeStoreConfig configures the FakeStore connector.
type FakeStoreConfig struct {
	BaseURL string `yaml:"base_url"`
}

// MagentoConfig configures the Magento 2 connector. Token comes from
// MAGENTO_TOKEN when empty.
type MagentoConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// OdooConfig configures the Odoo connector. Password comes from
// ODOO_PASSWORD when empty.
type OdooConfig struct {
	BaseURL  string `yaml:"base_url"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ConnectorsConfig enables platform connectors. A nil entry means the
// platform is not registered.
type ConnectorsConfig struct {
	FakeStore *FakeStoreConfig `yaml:"fakestore,omitempty"`
	Magento   *MagentoConfig   `yaml:"magento,omitempty"`
	Odoo      *OdooConfig      `yaml:"odoo,omitempty"`
}

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Sync       SyncConfig       `yaml:"sync"`
	Connectors ConnectorsConfig `yaml:"connectors"`
}

// Load reads the config at path. A missing file yields defaults, so the
// binaries run with zero configuration against local services.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Qdrant: QdrantConfig{Host: "localhost", Port: 6334},
		Sync:   SyncConfig{Collection: "products", DataDir: "data"},
		Connectors: ConnectorsConfig{
			FakeStore: &FakeStoreConfig{},
		},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Sync.Collection == "" {
		cfg.Sync.Collection = "products"
	}
	if cfg.Sync.DataDir == "" {
		cfg.Sync.DataDir = "data"
	}
	if cfg.Connectors.FakeStore != nil && cfg.Connectors.FakeStore.BaseURL == "" {
		cfg.Connectors.FakeStore.BaseURL = "https://fakestoreapi.com"
	}
}

func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("QDRANT_HOST"); host != "" {
		cfg.Qdrant.Host = host
	}
	if port := os.Getenv("QDRANT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Qdrant.Port = p
		}
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.Embedding.BaseURL = baseURL
	}
	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Sync.DataDir = dir
	}
	if cfg.Connectors.Magento != nil && cfg.Connectors.Magento.Token == "" {
		cfg.Connectors.Magento.Token = os.Getenv("MAGENTO_TOKEN")
	}
	if cfg.Connectors.Odoo != nil && cfg.Connectors.Odoo.Password == "" {
		cfg.Connectors.Odoo.Password = os.Getenv("ODOO_PASSWORD")
	}
}
