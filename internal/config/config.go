package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the scirag API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Sources   SourcesConfig   `yaml:"sources"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Postgres connection settings.
// URL is a standard DSN (postgres://...), typically ${DATABASE_URL}.
type DatabaseConfig struct {
	URL              string `yaml:"url"`
	MaxOpenConns     int    `yaml:"max_open_conns"`
	MaxIdleConns     int    `yaml:"max_idle_conns"`
	ConnMaxLifeSec   int    `yaml:"conn_max_lifetime_sec"`
	ReadinessTimeout int    `yaml:"readiness_timeout_sec"`
}

// CacheConfig holds the optional Redis query-embedding cache settings.
// Cache is disabled when Addrs is empty.
type CacheConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	TTLSec   int      `yaml:"ttl_sec"`
}

// SourcesConfig holds literature source client settings.
type SourcesConfig struct {
	OpenAlex        OpenAlexConfig        `yaml:"openalex"`
	SemanticScholar SemanticScholarConfig `yaml:"semantic_scholar"`
	RequestTimeout  int                   `yaml:"request_timeout_sec"`
	RetryAttempts   int                   `yaml:"retry_attempts"`
}

// OpenAlexConfig holds OpenAlex client settings. Email joins the polite pool.
type OpenAlexConfig struct {
	BaseURL           string  `yaml:"base_url"`
	Email             string  `yaml:"email"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// SemanticScholarConfig holds Semantic Scholar client settings.
type SemanticScholarConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// EmbeddingConfig holds embedding settings.
type EmbeddingConfig struct {
	Providers   map[string]ProviderConfig   `yaml:"providers"`
	Vectorizers map[string]VectorizerConfig `yaml:"vectorizers"`
}

// ProviderConfig holds embedding provider settings.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// DefaultDocumentInstruction is prepended to every document text before
// embedding when the vectorizer does not set its own instruction.
const DefaultDocumentInstruction = "Scientific paper excerpt: "

// VectorizerConfig holds vectorizer settings.
type VectorizerConfig struct {
	Provider            string `yaml:"provider"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
}

// SynthesisConfig holds synthesis collaborator settings (OpenAI-compatible chat).
type SynthesisConfig struct {
	Provider  string `yaml:"provider"` // key into embedding.providers
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// PipelineConfig holds ingest pipeline tuning.
type PipelineConfig struct {
	MaxResultsPerSource int `yaml:"max_results_per_source"`
	MaxChunkTokens      int `yaml:"max_chunk_tokens"`
	OverlapTokens       int `yaml:"overlap_tokens"`
	MinChunkTokens      int `yaml:"min_chunk_tokens"`
	EmbedBatchSize      int `yaml:"embed_batch_size"`
	EmbedBatchTokens    int `yaml:"embed_batch_tokens"`
	EmbedWorkers        int `yaml:"embed_workers"`
	JobTimeoutSec       int `yaml:"job_timeout_sec"`
}

// RetrievalConfig holds question-answering retrieval settings.
type RetrievalConfig struct {
	TopK        int `yaml:"top_k"`
	PerPaperCap int `yaml:"per_paper_cap"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifeSec <= 0 {
		c.Database.ConnMaxLifeSec = 300
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 3600
	}
	// Addresses that expanded to "" from unset env vars disable the cache
	// rather than producing a dial to an empty host.
	addrs := c.Cache.Addrs[:0]
	for _, a := range c.Cache.Addrs {
		if strings.TrimSpace(a) != "" {
			addrs = append(addrs, a)
		}
	}
	c.Cache.Addrs = addrs
	if c.Sources.OpenAlex.BaseURL == "" {
		c.Sources.OpenAlex.BaseURL = "https://api.openalex.org"
	}
	if c.Sources.OpenAlex.RequestsPerSecond <= 0 {
		c.Sources.OpenAlex.RequestsPerSecond = 10
	}
	if c.Sources.SemanticScholar.BaseURL == "" {
		c.Sources.SemanticScholar.BaseURL = "https://api.semanticscholar.org/graph/v1"
	}
	if c.Sources.SemanticScholar.RequestsPerSecond <= 0 {
		// Conservative default for the keyless tier.
		c.Sources.SemanticScholar.RequestsPerSecond = 0.5
	}
	if c.Sources.RequestTimeout <= 0 {
		c.Sources.RequestTimeout = 30
	}
	if c.Sources.RetryAttempts <= 0 {
		c.Sources.RetryAttempts = 3
	}
	if c.Synthesis.MaxTokens <= 0 {
		c.Synthesis.MaxTokens = 2000
	}
	if c.Pipeline.MaxResultsPerSource <= 0 {
		c.Pipeline.MaxResultsPerSource = 50
	}
	if c.Pipeline.MaxChunkTokens <= 0 {
		c.Pipeline.MaxChunkTokens = 500
	}
	if c.Pipeline.OverlapTokens <= 0 {
		c.Pipeline.OverlapTokens = 50
	}
	if c.Pipeline.MinChunkTokens <= 0 {
		c.Pipeline.MinChunkTokens = 20
	}
	if c.Pipeline.EmbedBatchSize <= 0 {
		c.Pipeline.EmbedBatchSize = 100
	}
	if c.Pipeline.EmbedBatchTokens <= 0 {
		c.Pipeline.EmbedBatchTokens = 8000
	}
	if c.Pipeline.EmbedWorkers <= 0 {
		c.Pipeline.EmbedWorkers = 4
	}
	if c.Pipeline.JobTimeoutSec <= 0 {
		c.Pipeline.JobTimeoutSec = 600
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 10
	}
	if c.Retrieval.PerPaperCap <= 0 {
		c.Retrieval.PerPaperCap = 3
	}
	// Document texts carry a context prefix so the model knows what kind
	// of text it is embedding; queries stay bare.
	for name, v := range c.Embedding.Vectorizers {
		if v.DocumentInstruction == "" {
			v.DocumentInstruction = DefaultDocumentInstruction
			c.Embedding.Vectorizers[name] = v
		}
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (set DATABASE_URL)")
	}
	if len(c.Embedding.Vectorizers) == 0 {
		return fmt.Errorf("embedding.vectorizers must define at least one vectorizer")
	}
	for name, v := range c.Embedding.Vectorizers {
		if _, ok := c.Embedding.Providers[v.Provider]; !ok {
			return fmt.Errorf("embedding.vectorizers.%s references unknown provider %q", name, v.Provider)
		}
		if v.Model == "" {
			return fmt.Errorf("embedding.vectorizers.%s.model is required", name)
		}
	}
	if c.Pipeline.OverlapTokens >= c.Pipeline.MaxChunkTokens {
		return fmt.Errorf(
			"pipeline.overlap_tokens (%d) must be smaller than pipeline.max_chunk_tokens (%d)",
			c.Pipeline.OverlapTokens, c.Pipeline.MaxChunkTokens,
		)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
