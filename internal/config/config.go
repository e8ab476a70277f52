// Package config loads memoryd's configuration from defaults, an optional
// YAML file and MEMORYD_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. MEMORYD_DB_PATH or
// MEMORYD_EMBEDDING_PROVIDER.
const EnvPrefix = "MEMORYD"

// Config is the full memoryd configuration.
type Config struct {
	DBPath      string            `yaml:"db_path" mapstructure:"db_path" validate:"required"`
	Embedding   EmbeddingConfig   `yaml:"embedding" mapstructure:"embedding"`
	VectorIndex VectorIndexConfig `yaml:"vector_index" mapstructure:"vector_index"`
	Graph       GraphConfig       `yaml:"graph" mapstructure:"graph"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Chunking    ChunkingConfig    `yaml:"chunking" mapstructure:"chunking"`
	Patterns    PatternsConfig    `yaml:"patterns" mapstructure:"patterns"`
	Timeouts    TimeoutConfig     `yaml:"timeouts" mapstructure:"timeouts"`
}

// EmbeddingConfig selects the embedding collaborator.
type EmbeddingConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider" validate:"oneof=hash ollama openai"`
	Model    string `yaml:"model,omitempty" mapstructure:"model"`
	URL      string `yaml:"url,omitempty" mapstructure:"url" validate:"omitempty,url"`
	APIKey   string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Dims     int    `yaml:"dims,omitempty" mapstructure:"dims" validate:"min=0"`
}

// VectorIndexConfig locates the persistent vector index. An empty path
// places it in a "vectors" directory next to the database; "memory" keeps
// it in memory only.
type VectorIndexConfig struct {
	Path string `yaml:"path,omitempty" mapstructure:"path"`
}

// GraphConfig enables the Neo4j graph collaborator.
type GraphConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	URI      string `yaml:"uri,omitempty" mapstructure:"uri" validate:"required_if=Enabled true"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	Database string `yaml:"database,omitempty" mapstructure:"database"`
}

// CacheConfig enables the read-through cache.
type CacheConfig struct {
	Enabled     bool  `yaml:"enabled" mapstructure:"enabled"`
	NumCounters int64 `yaml:"num_counters" mapstructure:"num_counters" validate:"min=0"`
	MaxCost     int64 `yaml:"max_cost" mapstructure:"max_cost" validate:"min=0"`
}

// ChunkingConfig sizes resource chunks, in bytes.
type ChunkingConfig struct {
	TargetSize int `yaml:"target_size" mapstructure:"target_size" validate:"min=1"`
	MaxSize    int `yaml:"max_size" mapstructure:"max_size" validate:"gtefield=TargetSize"`
}

// PatternsConfig controls which resources are recorded as context of a
// logged attempt.
type PatternsConfig struct {
	ContextThreshold float64 `yaml:"context_threshold" mapstructure:"context_threshold" validate:"gte=0,lte=1"`
	ContextLimit     int     `yaml:"context_limit" mapstructure:"context_limit" validate:"min=1,max=20"`
}

// TimeoutConfig bounds each collaborator call. Zero disables the bound.
type TimeoutConfig struct {
	Embedding   time.Duration `yaml:"embedding" mapstructure:"embedding" validate:"min=0"`
	VectorIndex time.Duration `yaml:"vector_index" mapstructure:"vector_index" validate:"min=0"`
	Graph       time.Duration `yaml:"graph" mapstructure:"graph" validate:"min=0"`
}

// DefaultDBPath is ~/.memoryd/memory.db.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memoryd", "memory.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", DefaultDBPath())
	v.SetDefault("embedding.provider", "hash")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.dims", 0)
	v.SetDefault("vector_index.path", "")
	v.SetDefault("graph.enabled", false)
	v.SetDefault("graph.uri", "")
	v.SetDefault("graph.username", "")
	v.SetDefault("graph.password", "")
	v.SetDefault("graph.database", "")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.num_counters", 100_000)
	v.SetDefault("cache.max_cost", 64<<20)
	v.SetDefault("chunking.target_size", 400)
	v.SetDefault("chunking.max_size", 600)
	v.SetDefault("patterns.context_threshold", 0.3)
	v.SetDefault("patterns.context_limit", 3)
	v.SetDefault("timeouts.embedding", "10s")
	v.SetDefault("timeouts.vector_index", "5s")
	v.SetDefault("timeouts.graph", "5s")
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply. Overrides are applied last and win over
// everything; keys use the file's dotted form, e.g. "db_path".
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validation error: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatFieldError(e))
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

func formatFieldError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s (got: %v)", field, e.Param(), e.Value())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s (got: %v)", field, e.Param(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", field, e.Param(), e.Value())
	case "gtefield":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed %s validation (got: %v)", field, e.Tag(), e.Value())
	}
}

// VectorPath resolves where the vector index lives; "" means in memory.
func (c *Config) VectorPath() string {
	switch c.VectorIndex.Path {
	case "":
		return filepath.Join(filepath.Dir(c.DBPath), "vectors")
	case "memory":
		return ""
	default:
		return c.VectorIndex.Path
	}
}

// YAML renders the effective configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	if masked.Embedding.APIKey != "" {
		masked.Embedding.APIKey = "****"
	}
	if masked.Graph.Password != "" {
		masked.Graph.Password = "****"
	}
	return yaml.Marshal(&masked)
}
