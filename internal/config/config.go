// Package config loads ragchunk settings. Values are resolved from defaults, then the yaml config file,
// then RAGCHUNK_* environment variables. Command flags are applied by the caller on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/opengs/ragchunk"
	"github.com/opengs/ragchunk/chunker"
	"github.com/opengs/ragchunk/embedder"
	"github.com/opengs/ragchunk/embedder/ollama"
	"github.com/opengs/ragchunk/embedder/openai"
	"github.com/opengs/ragchunk/storage/pgvector"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

const DefaultFileName = "ragchunk.yaml"

var ErrUnknownProvider = errors.New("unknown embeddings provider")
var ErrMissingAPIKey = errors.New("embeddings provider requires an API key")
var ErrMissingDatabaseURL = errors.New("database url is not configured")

type DatabaseConfig struct {
	URL        string `yaml:"url"`
	Schema     string `yaml:"schema"`
	Prefix     string `yaml:"prefix"`
	Partitions bool   `yaml:"partitions"`
	// HNSW candidate list size for search. Zero keeps the server default
	EfSearch int `yaml:"ef_search"`
}

type EmbedderConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	// Zero means the provider default
	Dimensions uint32 `yaml:"dimensions"`
}

type ChunkingConfig struct {
	Strategy string `yaml:"strategy"`
	Preset   string `yaml:"preset"`
	// Explicit size and overlap take precedence over the preset
	ChunkSize    *int     `yaml:"chunk_size"`
	ChunkOverlap *int     `yaml:"chunk_overlap"`
	Separators   []string `yaml:"separators"`
}

type Config struct {
	Database    DatabaseConfig `yaml:"database"`
	Embedder    EmbedderConfig `yaml:"embedder"`
	Chunking    ChunkingConfig `yaml:"chunking"`
	Parallelism uint32         `yaml:"parallelism"`
}

func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Schema: "public",
			Prefix: "ragchunk_",
		},
		Embedder: EmbedderConfig{
			Provider: ProviderOllama,
		},
		Chunking: ChunkingConfig{
			Strategy: string(ragchunk.StrategyRecursive),
			Preset:   string(chunker.PresetMedium),
		},
		Parallelism: 4,
	}
}

// Path of the config file used when none is given: ragchunk.yaml in the working directory if it exists,
// otherwise ~/.ragchunk/config.yaml.
func DefaultPath() string {
	if _, err := os.Stat(DefaultFileName); err == nil {
		return DefaultFileName
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(home, ".ragchunk", "config.yaml")
}

// Loads defaults, the config file and the environment. Missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(expandUserPath(path))
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	applyEnv(&c.Database.URL, "RAGCHUNK_DATABASE_URL")
	applyEnv(&c.Database.Schema, "RAGCHUNK_DATABASE_SCHEMA")
	applyEnv(&c.Database.Prefix, "RAGCHUNK_DATABASE_PREFIX")
	if err := applyEnvBool(&c.Database.Partitions, "RAGCHUNK_DATABASE_PARTITIONS"); err != nil {
		return err
	}
	if v := strings.TrimSpace(os.Getenv("RAGCHUNK_DATABASE_EF_SEARCH")); v != "" {
		efSearch, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing RAGCHUNK_DATABASE_EF_SEARCH: %w", err)
		}
		c.Database.EfSearch = efSearch
	}

	applyEnv(&c.Embedder.Provider, "RAGCHUNK_EMBEDDER")
	applyEnv(&c.Embedder.Model, "RAGCHUNK_EMBEDDER_MODEL")
	applyEnv(&c.Embedder.BaseURL, "RAGCHUNK_EMBEDDER_BASE_URL")
	applyEnv(&c.Embedder.APIKey, "OPENAI_API_KEY")
	applyEnv(&c.Embedder.APIKey, "RAGCHUNK_EMBEDDER_API_KEY")
	if err := applyEnvUint32(&c.Embedder.Dimensions, "RAGCHUNK_EMBEDDER_DIMENSIONS"); err != nil {
		return err
	}

	applyEnv(&c.Chunking.Strategy, "RAGCHUNK_CHUNK_STRATEGY")
	if v := strings.TrimSpace(os.Getenv("RAGCHUNK_CHUNK_PRESET")); v != "" {
		// preset from env replaces sizes from the file
		c.Chunking.Preset = v
		c.Chunking.ChunkSize = nil
		c.Chunking.ChunkOverlap = nil
	}
	if err := applyEnvInt(&c.Chunking.ChunkSize, "RAGCHUNK_CHUNK_SIZE"); err != nil {
		return err
	}
	if err := applyEnvInt(&c.Chunking.ChunkOverlap, "RAGCHUNK_CHUNK_OVERLAP"); err != nil {
		return err
	}

	return applyEnvUint32(&c.Parallelism, "RAGCHUNK_PARALLELISM")
}

// Resolves chunker options from the preset and explicit overrides.
func (c *Config) ChunkOptions() (chunker.Options, error) {
	var options chunker.Options
	if c.Chunking.Preset != "" {
		preset, err := chunker.PresetOptions(c.Chunking.Preset)
		if err != nil {
			return chunker.Options{}, err
		}
		options = preset
	}
	if c.Chunking.ChunkSize != nil {
		options.ChunkSize = *c.Chunking.ChunkSize
	}
	if c.Chunking.ChunkOverlap != nil {
		options.ChunkOverlap = *c.Chunking.ChunkOverlap
	}
	options.Separators = c.Chunking.Separators

	if err := options.Validate(); err != nil {
		return chunker.Options{}, err
	}
	return options, nil
}

func (c *Config) Strategy() ragchunk.ChunkStrategy {
	return ragchunk.ChunkStrategy(c.Chunking.Strategy)
}

// Creates embeddings client of the configured provider.
func (c *Config) NewEmbedder() (embedder.Embedder, error) {
	switch strings.ToLower(c.Embedder.Provider) {
	case ProviderOllama, "":
		var options []ollama.Config
		if c.Embedder.BaseURL != "" {
			options = append(options, ollama.WithBaseURL(c.Embedder.BaseURL))
		}
		if c.Embedder.Dimensions != 0 {
			options = append(options, ollama.WithDimensions(c.Embedder.Dimensions))
		}
		return ollama.New(firstNonEmpty(c.Embedder.Model, "nomic-embed-text"), options...), nil
	case ProviderOpenAI:
		if c.Embedder.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		var options []openai.Config
		if c.Embedder.BaseURL != "" {
			options = append(options, openai.WithBaseURL(c.Embedder.BaseURL))
		}
		if c.Embedder.Dimensions != 0 {
			options = append(options, openai.WithDimensions(c.Embedder.Dimensions))
		}
		return openai.New(firstNonEmpty(c.Embedder.Model, "text-embedding-3-small"), c.Embedder.APIKey, options...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, c.Embedder.Provider)
	}
}

// Storage options. Vector dimensions always follow the embedder.
func (c *Config) StorageOptions(dimensions uint32) []pgvector.PGVectorOption {
	return []pgvector.PGVectorOption{
		pgvector.WithDatabaseSchema(c.Database.Schema),
		pgvector.WithDatabasePrefix(c.Database.Prefix),
		pgvector.WithPartitionsEnabled(c.Database.Partitions),
		pgvector.WithSearchEfSearch(c.Database.EfSearch),
		pgvector.WithEmbeddingVectorDimensions(dimensions),
	}
}

func (c *Config) DatabaseURL() (string, error) {
	if c.Database.URL == "" {
		return "", ErrMissingDatabaseURL
	}
	return c.Database.URL, nil
}

func applyEnv(dst *string, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = v
	}
}

func applyEnvBool(dst *bool, envKey string) error {
	v := strings.TrimSpace(os.Getenv(envKey))
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", envKey, err)
	}
	*dst = parsed
	return nil
}

func applyEnvInt(dst **int, envKey string) error {
	v := strings.TrimSpace(os.Getenv(envKey))
	if v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", envKey, err)
	}
	*dst = &parsed
	return nil
}

func applyEnvUint32(dst *uint32, envKey string) error {
	v := strings.TrimSpace(os.Getenv(envKey))
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", envKey, err)
	}
	*dst = uint32(parsed)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
