// Package config loads storyrag settings. STORYRAG_* environment variables
// (optionally from .env) override the YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when --config is not given.
const DefaultPath = "storyrag.yaml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Mongo       Mongo       `yaml:"mongo"`
	Collections Collections `yaml:"collections"`
	Site        Site        `yaml:"site"`
	Harvest     Harvest     `yaml:"harvest"`
	Embedding   Embedding   `yaml:"embedding"`
	Sync        Sync        `yaml:"sync"`
	Qdrant      Qdrant      `yaml:"qdrant"`
	Neo4j       Neo4j       `yaml:"neo4j"`
	NATS        NATS        `yaml:"nats"`
	Metrics     Metrics     `yaml:"metrics"`
	Log         Log         `yaml:"log"`
}

type Mongo struct {
	URI      string        `yaml:"uri"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Collections struct {
	Stories  string `yaml:"stories"`
	Chapters string `yaml:"chapters"`
	Comments string `yaml:"comments"`
	Reviews  string `yaml:"reviews"`
	Chunks   string `yaml:"chunks"`
}

type Site struct {
	BaseURL           string        `yaml:"base_url"`
	UserAgent         string        `yaml:"user_agent"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

type Harvest struct {
	Concurrency      int           `yaml:"concurrency"`
	ReviewTarget     int           `yaml:"review_target"`
	CommentTarget    int           `yaml:"comment_target"`
	ReviewPageDelay  time.Duration `yaml:"review_page_delay"`
	CommentPageDelay time.Duration `yaml:"comment_page_delay"`
}

type Embedding struct {
	Provider   string        `yaml:"provider"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Endpoint   string        `yaml:"endpoint"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
}

type Sync struct {
	ChunkSize       int           `yaml:"chunk_size"`
	ChunkOverlap    int           `yaml:"chunk_overlap"`
	MinReviewLength int           `yaml:"min_review_length"`
	SummaryDelay    time.Duration `yaml:"summary_delay"`
	ChunkDelay      time.Duration `yaml:"chunk_delay"`
	ReviewDelay     time.Duration `yaml:"review_delay"`
}

// Qdrant mirroring is off while Addr is empty.
type Qdrant struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
}

// Neo4j projection is off while URL is empty.
type Neo4j struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// NATS events are off while URL is empty.
type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Metrics serving is off while Port is 0.
type Metrics struct {
	Port int `yaml:"port"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used before any file or variable is read.
func Default() Config {
	return Config{
		Mongo: Mongo{Timeout: 10 * time.Second},
		Collections: Collections{
			Stories:  "stories",
			Chapters: "chapters",
			Comments: "comments",
			Reviews:  "reviews",
			Chunks:   "story_chunks",
		},
		Site: Site{
			BaseURL:           "https://www.royalroad.com",
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			RequestsPerSecond: 4,
			Timeout:           30 * time.Second,
		},
		Harvest: Harvest{
			Concurrency:      3,
			ReviewTarget:     50,
			CommentTarget:    7,
			ReviewPageDelay:  time.Second,
			CommentPageDelay: 500 * time.Millisecond,
		},
		Embedding: Embedding{
			Provider: "gemini",
			Model:    "models/text-embedding-004",
			Endpoint: "https://generativelanguage.googleapis.com/v1beta/models/text-embedding-004:embedContent",
			Timeout:  30 * time.Second,
		},
		Sync: Sync{
			ChunkSize:       1000,
			ChunkOverlap:    100,
			MinReviewLength: 30,
			SummaryDelay:    time.Second,
			ChunkDelay:      500 * time.Millisecond,
			ReviewDelay:     time.Second,
		},
		Qdrant: Qdrant{Collection: "story_chunks"},
		NATS:   NATS{SubjectPrefix: "storyrag"},
		Log:    Log{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, then applies .env and the environment.
// A missing file is only an error when path was chosen explicitly, that is
// when it differs from DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := decode(f, &cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	if strings.TrimSpace(c.Mongo.URI) == "" {
		bad("mongo.uri is required")
	}
	if strings.TrimSpace(c.Mongo.Database) == "" {
		bad("mongo.database is required")
	}
	if c.Sync.ChunkOverlap < 0 || c.Sync.ChunkSize <= c.Sync.ChunkOverlap {
		bad("sync.chunk_size (%d) must exceed sync.chunk_overlap (%d) >= 0", c.Sync.ChunkSize, c.Sync.ChunkOverlap)
	}
	if c.Harvest.Concurrency < 1 {
		bad("harvest.concurrency must be >= 1, got %d", c.Harvest.Concurrency)
	}
	if c.Harvest.ReviewTarget < 1 || c.Harvest.CommentTarget < 1 {
		bad("harvest targets must be >= 1")
	}
	if c.Site.RequestsPerSecond < 0 {
		bad("site.requests_per_second must not be negative")
	}
	switch c.Embedding.Provider {
	case "gemini", "openai", "ollama":
	default:
		bad("embedding.provider %q is not gemini, openai or ollama", c.Embedding.Provider)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		bad("log.format %q is not text or json", c.Log.Format)
	}
	if _, err := c.Log.level(); err != nil {
		bad("log.level %q", c.Log.Level)
	}
	return errors.Join(errs...)
}

// ValidateSync adds the checks of the embedding pipeline. Hosted providers
// need an API key.
func (c *Config) ValidateSync() error {
	err := c.Validate()
	if c.Embedding.Provider != "ollama" && strings.TrimSpace(c.Embedding.APIKey) == "" {
		err = errors.Join(err, fmt.Errorf("%w: embedding.api_key is required for sync", ErrInvalid))
	}
	return err
}

func (l Log) level() (slog.Level, error) {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(l.Level))
	return lvl, err
}

// Logger builds the process logger.
func (l Log) Logger(w io.Writer) *slog.Logger {
	lvl, err := l.level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
