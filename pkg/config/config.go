package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

var ErrMissingLLMEndpoint = errors.New("llm endpoint and api key must be configured")

type Config struct {
	App        AppConfig
	Server     ServerConfig
	SQLite     SQLiteConfig
	Mongo      MongoConfig
	Redis      RedisConfig
	LLM        LLMConfig
	References ReferencesConfig
	Vocabulary VocabularyConfig
	Batch      BatchConfig
	Relevance  RelevanceConfig
	Tags       TagsConfig
	Storage    StorageConfig
	Logging    LoggingConfig
}

type AppConfig struct {
	DevMode bool
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     int
	WriteTimeout    int
	BodyLimit       int
	RateLimitPerMin int
	AllowedOrigins  []string
}

type SQLiteConfig struct {
	Path string
}

type MongoConfig struct {
	URI        string
	Database   string
	TimeoutSec int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLMin   int
}

// AnalyzerLLMConfig holds the per-invocation knobs for one analyzer.
type AnalyzerLLMConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

type LLMConfig struct {
	Endpoint   string
	APIKey     string
	TimeoutSec int
	Issue      AnalyzerLLMConfig
	Bucket     AnalyzerLLMConfig
	Tags       AnalyzerLLMConfig
	Relevance  AnalyzerLLMConfig
}

type ReferencesConfig struct {
	KBBaseURL   string
	KBToken     string
	JiraBaseURL string
	JiraToken   string
	TimeoutSec  int
}

type VocabularyConfig struct {
	Source         string
	Path           string
	ReloadSchedule string
}

type BatchConfig struct {
	Concurrency       int
	ImportConcurrency int
	ForceReanalyze    bool
}

type RelevanceConfig struct {
	Threshold int
}

type TagsConfig struct {
	UseLLM bool
}

type StorageConfig struct {
	Backend   string
	OutputDir string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom reads config from an explicit file when path is set, otherwise
// from the standard search locations.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/case-review")
	}

	v.SetEnvPrefix("CASE_REVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// ValidateLLM reports a configuration error before any case is processed.
func (c *Config) ValidateLLM() error {
	if strings.TrimSpace(c.LLM.Endpoint) == "" || strings.TrimSpace(c.LLM.APIKey) == "" {
		return ErrMissingLLMEndpoint
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.devMode", false)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 300)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.rateLimitPerMin", 60)

	v.SetDefault("sqlite.path", "./data/cases.db")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "case_review")
	v.SetDefault("mongo.timeoutSec", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlMin", 60)

	v.SetDefault("llm.timeoutSec", 120)
	v.SetDefault("llm.issue.model", "gpt-4o")
	v.SetDefault("llm.issue.temperature", 0.3)
	v.SetDefault("llm.issue.maxTokens", 4000)
	v.SetDefault("llm.bucket.model", "gpt-4o")
	v.SetDefault("llm.bucket.temperature", 0.1)
	v.SetDefault("llm.bucket.maxTokens", 1000)
	v.SetDefault("llm.tags.model", "gpt-4o-mini")
	v.SetDefault("llm.tags.temperature", 0.2)
	v.SetDefault("llm.tags.maxTokens", 1500)
	v.SetDefault("llm.relevance.model", "gpt-4o-mini")
	v.SetDefault("llm.relevance.temperature", 0.2)
	v.SetDefault("llm.relevance.maxTokens", 2000)

	v.SetDefault("references.timeoutSec", 15)

	v.SetDefault("vocabulary.source", "file")
	v.SetDefault("vocabulary.path", "./config/tags.yaml")
	v.SetDefault("vocabulary.reloadSchedule", "")

	v.SetDefault("batch.concurrency", 3)
	v.SetDefault("batch.importConcurrency", 5)
	v.SetDefault("batch.forceReanalyze", false)

	v.SetDefault("relevance.threshold", 40)

	v.SetDefault("tags.useLLM", true)

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.outputDir", "./output")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
