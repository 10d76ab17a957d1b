package config

import "testing"

func validConfig() Config {
	return Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{URL: "postgres://localhost/scirag"},
		Embedding: EmbeddingConfig{
			Providers: map[string]ProviderConfig{
				"openai": {APIKey: "test-key", BaseURL: "https://api.openai.com/v1"},
			},
			Vectorizers: map[string]VectorizerConfig{
				"default": {Provider: "openai", Model: "text-embedding-3-small", Dimensions: 1536},
			},
		},
		Pipeline: PipelineConfig{MaxChunkTokens: 500, OverlapTokens: 50},
	}
}

func TestValidate_OK(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing database url")
	}
}

func TestValidate_UnknownVectorizerProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.Vectorizers = map[string]VectorizerConfig{
		"default": {Provider: "nope", Model: "m"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for unknown provider reference")
	}
	expected := `embedding.vectorizers.default references unknown provider "nope"`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_OverlapExceedsChunkSize(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.MaxChunkTokens = 50
	cfg.Pipeline.OverlapTokens = 50

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when overlap >= max chunk tokens")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Database.MaxOpenConns != 20 {
		t.Errorf("expected MaxOpenConns=20, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Sources.OpenAlex.BaseURL != "https://api.openalex.org" {
		t.Errorf("unexpected openalex base url %q", cfg.Sources.OpenAlex.BaseURL)
	}
	if cfg.Sources.RetryAttempts != 3 {
		t.Errorf("expected RetryAttempts=3, got %d", cfg.Sources.RetryAttempts)
	}
	if cfg.Pipeline.MaxChunkTokens != 500 {
		t.Errorf("expected MaxChunkTokens=500, got %d", cfg.Pipeline.MaxChunkTokens)
	}
	if cfg.Pipeline.OverlapTokens != 50 {
		t.Errorf("expected OverlapTokens=50, got %d", cfg.Pipeline.OverlapTokens)
	}
	if cfg.Pipeline.EmbedBatchSize != 100 {
		t.Errorf("expected EmbedBatchSize=100, got %d", cfg.Pipeline.EmbedBatchSize)
	}
	if cfg.Retrieval.TopK != 10 {
		t.Errorf("expected TopK=10, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.PerPaperCap != 3 {
		t.Errorf("expected PerPaperCap=3, got %d", cfg.Retrieval.PerPaperCap)
	}
}

func TestApplyDefaults_DocumentInstruction(t *testing.T) {
	cfg := validConfig()
	cfg.ApplyDefaults()

	got := cfg.Embedding.Vectorizers["default"].DocumentInstruction
	if got != DefaultDocumentInstruction {
		t.Errorf("expected default document instruction %q, got %q", DefaultDocumentInstruction, got)
	}

	cfg = validConfig()
	v := cfg.Embedding.Vectorizers["default"]
	v.DocumentInstruction = "custom: "
	cfg.Embedding.Vectorizers["default"] = v
	cfg.ApplyDefaults()

	if got := cfg.Embedding.Vectorizers["default"].DocumentInstruction; got != "custom: " {
		t.Errorf("explicit document instruction overridden: %q", got)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:      HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 60, ShutdownSec: 5},
		Pipeline:  PipelineConfig{MaxChunkTokens: 400, OverlapTokens: 40, EmbedWorkers: 8},
		Retrieval: RetrievalConfig{TopK: 5, PerPaperCap: 2},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("expected ReadTimeoutSec=30, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Pipeline.MaxChunkTokens != 400 {
		t.Errorf("expected MaxChunkTokens=400, got %d", cfg.Pipeline.MaxChunkTokens)
	}
	if cfg.Pipeline.EmbedWorkers != 8 {
		t.Errorf("expected EmbedWorkers=8, got %d", cfg.Pipeline.EmbedWorkers)
	}
	if cfg.Retrieval.PerPaperCap != 2 {
		t.Errorf("expected PerPaperCap=2, got %d", cfg.Retrieval.PerPaperCap)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("SCIRAG_TEST_VAR", "hello")

	in := []byte("a: ${SCIRAG_TEST_VAR}\nb: ${SCIRAG_MISSING:-fallback}\n")
	out := string(expandEnvVars(in))

	expected := "a: hello\nb: fallback\n"
	if out != expected {
		t.Errorf("unexpected expansion:\ngot:  %q\nwant: %q", out, expected)
	}
}
