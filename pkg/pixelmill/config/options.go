package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithLocalStorage configures the local filesystem fallback store
func WithLocalStorage(baseDir, urlPrefix string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("local storage base directory cannot be empty")
		}
		c.LocalStorageDir = baseDir
		c.LocalURLPrefix = urlPrefix
		return nil
	}
}

// WithS3Storage configures the remote object store
func WithS3Storage(s3 S3Config) Option {
	return func(c *ServerConfig) error {
		if s3.Bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		if s3.Region == "" {
			s3.Region = "us-east-1"
		}
		c.S3 = s3
		return nil
	}
}

// WithGeneratorProvider registers a generation provider under a name
func WithGeneratorProvider(name string, gc GeneratorConfig) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			return fmt.Errorf("provider name cannot be empty")
		}
		if gc.BaseURL == "" {
			return fmt.Errorf("provider base URL cannot be empty")
		}
		if c.Generators == nil {
			c.Generators = make(map[string]GeneratorConfig)
		}
		c.Generators[name] = gc
		return nil
	}
}

// WithEmbedding configures the embedding service for the vector indexer
func WithEmbedding(baseURL, apiKey, model string) Option {
	return func(c *ServerConfig) error {
		if baseURL == "" {
			return fmt.Errorf("embedding base URL cannot be empty")
		}
		c.Embedding = EmbeddingConfig{BaseURL: baseURL, APIKey: apiKey, Model: model}
		return nil
	}
}

// WithPipelineCodecs sets the output codecs for the upload and edit
// pipelines ("jpeg", "webp", "png")
func WithPipelineCodecs(codecs ...string) Option {
	return func(c *ServerConfig) error {
		c.PipelineCodecs = codecs
		return nil
	}
}

// WithBlockedSafetyTags overrides the default safety tag blocklist
func WithBlockedSafetyTags(tags ...string) Option {
	return func(c *ServerConfig) error {
		c.BlockedSafetyTags = tags
		return nil
	}
}

// WithGenerationTimeout caps the wall-clock time of one generation run
func WithGenerationTimeout(d time.Duration) Option {
	return func(c *ServerConfig) error {
		if d < 0 {
			return fmt.Errorf("generation timeout cannot be negative, got: %s", d)
		}
		c.GenerationTimeout = d
		return nil
	}
}

// WithGeneratorPollInterval adjusts the poll interval of a registered provider
func WithGeneratorPollInterval(name string, interval time.Duration) Option {
	return func(c *ServerConfig) error {
		gc, ok := c.Generators[name]
		if !ok {
			return fmt.Errorf("provider %q is not registered", name)
		}
		if interval <= 0 {
			return fmt.Errorf("poll interval must be positive, got: %s", interval)
		}
		gc.PollInterval = interval
		c.Generators[name] = gc
		return nil
	}
}
