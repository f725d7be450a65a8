package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelmill/pixelmill/pkg/pixelmill"
	"github.com/pixelmill/pixelmill/pkg/pixelmill/embed"
	"github.com/pixelmill/pixelmill/pkg/pixelmill/generator"
	"github.com/pixelmill/pixelmill/pkg/pixelmill/pipeline"
	repomemory "github.com/pixelmill/pixelmill/pkg/pixelmill/repo/memory"
	repopg "github.com/pixelmill/pixelmill/pkg/pixelmill/repo/postgres"
	fsstorage "github.com/pixelmill/pixelmill/pkg/pixelmill/storage/fs"
	s3storage "github.com/pixelmill/pixelmill/pkg/pixelmill/storage/s3"
	"github.com/pixelmill/pixelmill/pkg/pixelmill/vectorindex"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of
// library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:              "8080",
		Environment:       "development",
		DatabaseType:      "memory",
		LocalStorageDir:   "./data/images",
		BlockedSafetyTags: []string{"nsfw"},
	}
}

// ServerConfig represents server configuration for the pixelmill service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"

	// Local filesystem storage (always configured; used as fallback when no
	// remote object store is available)
	LocalStorageDir string
	LocalURLPrefix  string

	// Remote object store. The remote backend is only enabled when
	// endpoint, bucket, access key, and secret are all set.
	S3 S3Config

	// Generation providers, keyed by provider name.
	Generators map[string]GeneratorConfig

	// Embedding service for the background vector indexer. Requires a
	// postgres database; silently disabled otherwise.
	Embedding EmbeddingConfig

	// Output codecs for the upload and edit pipelines ("jpeg", "webp",
	// "png"). Empty means the JPEG-only default. Generated images always
	// use the JPEG-only pipeline.
	PipelineCodecs []string

	BlockedSafetyTags []string

	// Wall-clock cap for one generation run. Zero disables the deadline.
	GenerationTimeout time.Duration
}

// S3Config holds remote object store settings.
type S3Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UsePathStyle     bool
	PresignDuration  int
	PublicURLPattern string
}

// Enabled reports whether the remote backend is fully configured.
func (c S3Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// GeneratorConfig holds settings for one generation provider.
type GeneratorConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	PollInterval time.Duration
}

// EmbeddingConfig holds settings for the embedding service.
type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	if c.LocalStorageDir == "" {
		return errors.New("local storage directory is required")
	}

	if _, err := c.parsePipelineCodecs(); err != nil {
		return err
	}

	return nil
}

func (c *ServerConfig) parsePipelineCodecs() ([]pipeline.Codec, error) {
	codecs := make([]pipeline.Codec, 0, len(c.PipelineCodecs))
	for _, name := range c.PipelineCodecs {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "jpeg", "jpg":
			codecs = append(codecs, pipeline.CodecJPEG)
		case "webp":
			codecs = append(codecs, pipeline.CodecWebP)
		case "png":
			codecs = append(codecs, pipeline.CodecPNG)
		default:
			return nil, fmt.Errorf("unknown pipeline codec: %q", name)
		}
	}
	return codecs, nil
}

// BuildService creates a Service instance from the server configuration
func (c *ServerConfig) BuildService() (pixelmill.Service, error) {
	var options []pixelmill.Option

	pool, err := c.buildPool()
	if err != nil {
		return nil, err
	}

	repo, err := c.buildRepository(pool)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	options = append(options, pixelmill.WithRepository(repo))

	resolver, err := c.buildKeyResolver()
	if err != nil {
		return nil, fmt.Errorf("failed to build key resolver: %w", err)
	}
	options = append(options, pixelmill.WithKeyResolver(resolver))

	for name, gc := range c.Generators {
		options = append(options, pixelmill.WithGenerator(name, generator.NewClient(generator.Options{
			BaseURL:      gc.BaseURL,
			APIKey:       gc.APIKey,
			Model:        gc.Model,
			PollInterval: gc.PollInterval,
		})))
	}

	if c.Embedding.BaseURL != "" && pool != nil {
		options = append(options,
			pixelmill.WithEmbedder(embed.NewClient(embed.Options{
				BaseURL: c.Embedding.BaseURL,
				APIKey:  c.Embedding.APIKey,
				Model:   c.Embedding.Model,
			})),
			pixelmill.WithVectorIndex(vectorindex.New(pool)),
		)
	}

	if len(c.BlockedSafetyTags) > 0 {
		options = append(options, pixelmill.WithBlockedSafetyTags(c.BlockedSafetyTags...))
	}

	if c.GenerationTimeout > 0 {
		options = append(options, pixelmill.WithGenerationTimeout(c.GenerationTimeout))
	}

	if len(c.PipelineCodecs) > 0 {
		codecs, err := c.parsePipelineCodecs()
		if err != nil {
			return nil, err
		}
		opts := pipeline.DefaultOptions()
		opts.Codecs = codecs
		options = append(options,
			pixelmill.WithUploadPipeline(opts),
			pixelmill.WithEditPipeline(opts),
		)
	}

	return pixelmill.New(options...)
}

// buildPool creates a pgx pool when postgres is configured, nil otherwise.
func (c *ServerConfig) buildPool() (*pgxpool.Pool, error) {
	if c.DatabaseType != "postgres" {
		return nil, nil
	}
	if c.DatabaseURL == "" {
		return nil, errors.New("database_url is required for postgres")
	}
	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(pool *pgxpool.Pool) (pixelmill.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return repomemory.New(), nil
	case "postgres":
		return repopg.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// buildKeyResolver creates the storage key resolver. The local filesystem
// backend is always present; the remote backend is added when fully
// configured.
func (c *ServerConfig) buildKeyResolver() (*pixelmill.KeyResolver, error) {
	local, err := fsstorage.New(fsstorage.Config{
		BaseDir:   c.LocalStorageDir,
		URLPrefix: c.LocalURLPrefix,
	})
	if err != nil {
		return nil, err
	}

	var remote pixelmill.BlobStore
	if c.S3.Enabled() {
		remote, err = s3storage.New(s3storage.Config{
			Endpoint:         c.S3.Endpoint,
			Region:           c.S3.Region,
			Bucket:           c.S3.Bucket,
			AccessKeyID:      c.S3.AccessKeyID,
			SecretAccessKey:  c.S3.SecretAccessKey,
			UsePathStyle:     c.S3.UsePathStyle,
			PresignDuration:  c.S3.PresignDuration,
			PublicURLPattern: c.S3.PublicURLPattern,
		})
		if err != nil {
			return nil, err
		}
	}

	return pixelmill.NewKeyResolver(remote, local)
}

// PingPostgres verifies connectivity to Postgres.
func PingPostgres(databaseURL string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
