package config

import (
	"fmt"
	"strconv"
	"time"
)

// EnvPrefix starts every override variable.
const EnvPrefix = "STORYRAG_"

type lookupFunc func(string) (string, bool)

type binding struct {
	name string
	set  func(string) error
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func integer(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func float(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}
}

func duration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func bindings(c *Config) []binding {
	return []binding{
		{"MONGO_URI", str(&c.Mongo.URI)},
		{"MONGO_DATABASE", str(&c.Mongo.Database)},
		{"SITE_BASE_URL", str(&c.Site.BaseURL)},
		{"SITE_USER_AGENT", str(&c.Site.UserAgent)},
		{"SITE_REQUESTS_PER_SECOND", float(&c.Site.RequestsPerSecond)},
		{"SITE_TIMEOUT", duration(&c.Site.Timeout)},
		{"HARVEST_CONCURRENCY", integer(&c.Harvest.Concurrency)},
		{"HARVEST_REVIEW_TARGET", integer(&c.Harvest.ReviewTarget)},
		{"HARVEST_COMMENT_TARGET", integer(&c.Harvest.CommentTarget)},
		{"EMBEDDING_PROVIDER", str(&c.Embedding.Provider)},
		{"EMBEDDING_API_KEY", str(&c.Embedding.APIKey)},
		{"EMBEDDING_MODEL", str(&c.Embedding.Model)},
		{"EMBEDDING_ENDPOINT", str(&c.Embedding.Endpoint)},
		{"EMBEDDING_DIMENSIONS", integer(&c.Embedding.Dimensions)},
		{"SYNC_CHUNK_SIZE", integer(&c.Sync.ChunkSize)},
		{"SYNC_CHUNK_OVERLAP", integer(&c.Sync.ChunkOverlap)},
		{"QDRANT_ADDR", str(&c.Qdrant.Addr)},
		{"QDRANT_COLLECTION", str(&c.Qdrant.Collection)},
		{"NEO4J_URL", str(&c.Neo4j.URL)},
		{"NEO4J_USER", str(&c.Neo4j.User)},
		{"NEO4J_PASSWORD", str(&c.Neo4j.Password)},
		{"NATS_URL", str(&c.NATS.URL)},
		{"NATS_SUBJECT_PREFIX", str(&c.NATS.SubjectPrefix)},
		{"METRICS_PORT", integer(&c.Metrics.Port)},
		{"LOG_LEVEL", str(&c.Log.Level)},
		{"LOG_FORMAT", str(&c.Log.Format)},
	}
}

func applyEnv(c *Config, lookup lookupFunc) error {
	for _, b := range bindings(c) {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(v); err != nil {
			return fmt.Errorf("%w: %s%s=%q: %v", ErrInvalid, EnvPrefix, b.name, v, err)
		}
	}
	// Provider-native key names work as a fallback.
	if c.Embedding.APIKey == "" {
		name := "GEMINI_API_KEY"
		if c.Embedding.Provider == "openai" {
			name = "OPENAI_API_KEY"
		}
		if v, ok := lookup(name); ok {
			c.Embedding.APIKey = v
		}
	}
	return nil
}
