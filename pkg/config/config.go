// Package config loads and validates the tapestry server configuration.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
)

// Config is the tapestry.yaml server configuration. Zero values fall back
// to Default(); cobra flags override file values.
type Config struct {
	Server   ServerConfig   `yaml:"server" validate:"required"`
	Data     DataConfig     `yaml:"data"`
	KV       KVConfig       `yaml:"kv"`
	Blob     BlobConfig     `yaml:"blob"`
	Log      LogConfig      `yaml:"log"`
	LLM      LLMConfig      `yaml:"llm"`
	Observer ObserverConfig `yaml:"observer"`
	RAG      RAGConfig      `yaml:"rag"`
	Worker   WorkerConfig   `yaml:"worker"`
}

type ServerConfig struct {
	Listen      string   `yaml:"listen" validate:"required,hostname_port"`
	CORSOrigins []string `yaml:"corsOrigins"`
	// RequestTimeout bounds one API request end to end.
	RequestTimeout Duration `yaml:"requestTimeout"`
}

type DataConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

type KVConfig struct {
	Backend string      `yaml:"backend" validate:"oneof=bolt redis memory"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

type BlobConfig struct {
	Backend string   `yaml:"backend" validate:"oneof=local s3 memory"`
	Local   struct { // path under Data.Dir when relative
		Path string `yaml:"path"`
	} `yaml:"local"`
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=trace debug info warn error"`
	JSON  bool   `yaml:"json"`
}

type LLMConfig struct {
	// Provider "anthropic" reads the API key from ANTHROPIC_API_KEY;
	// "mock" answers deterministically and needs no credentials.
	Provider  string `yaml:"provider" validate:"oneof=anthropic mock"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"maxTokens" validate:"gt=0"`
}

type ObserverConfig struct {
	AutoMergeThreshold float64 `yaml:"autoMergeThreshold" validate:"gt=0,lte=1"`
}

type RAGConfig struct {
	CacheSize int `yaml:"cacheSize" validate:"gt=0"`
}

// WorkerConfig toggles the async enrichment worker. The worker is event
// driven, so there is nothing to tune beyond whether it runs.
type WorkerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Listen:         "127.0.0.1:7420",
			RequestTimeout: Duration{30 * time.Second},
		},
		Data: DataConfig{Dir: "/var/lib/tapestry"},
		KV:   KVConfig{Backend: "bolt"},
		Blob: BlobConfig{Backend: "local"},
		Log:  LogConfig{Level: "info", JSON: true},
		LLM: LLMConfig{
			Provider:  "mock",
			Model:     "",
			MaxTokens: 1024,
		},
		Observer: ObserverConfig{AutoMergeThreshold: 0.9},
		RAG:      RAGConfig{CacheSize: 128},
		Worker: WorkerConfig{Enabled: true},
	}
	cfg.Blob.Local.Path = "blobs"
	return cfg
}

// Validate checks structural constraints. Cross-field rules the tags cannot
// express are checked here.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errdefs.Wrap(errdefs.KindInvalidInput, err, "invalid configuration")
	}
	if c.KV.Backend == "redis" && c.KV.Redis.Addr == "" {
		return errdefs.New(errdefs.KindInvalidInput, "kv.redis.addr is required for the redis backend")
	}
	if c.Blob.Backend == "s3" && c.Blob.S3.Bucket == "" {
		return errdefs.New(errdefs.KindInvalidInput, "blob.s3.bucket is required for the s3 backend")
	}
	return nil
}

// Duration wraps time.Duration for YAML string parsing ("30s", "5m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errdefs.Wrap(errdefs.KindInvalidInput, err, fmt.Sprintf("invalid duration %q", s))
	}
	d.Duration = parsed
	return nil
}
