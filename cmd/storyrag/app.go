package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nats-io/nats.go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/storyrag/storyrag/engine/graph"
	"github.com/storyrag/storyrag/engine/scraper"
	"github.com/storyrag/storyrag/engine/semantic"
	"github.com/storyrag/storyrag/engine/store"
	"github.com/storyrag/storyrag/pkg/config"
	"github.com/storyrag/storyrag/pkg/embed"
	"github.com/storyrag/storyrag/pkg/metrics"
	"github.com/storyrag/storyrag/pkg/natsutil"
)

// app holds the connections one command needs. Optional backends stay nil
// when their config is empty.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	client  *mongo.Client
	db      *mongo.Database
	store   *store.Store
	metrics *metrics.Registry
	catalog *graph.Catalog
	vectors *semantic.VectorStore
	events  *natsutil.Events
	nc      *nats.Conn
}

func names(c config.Collections) store.Names {
	return store.Names{
		Stories:  c.Stories,
		Chapters: c.Chapters,
		Comments: c.Comments,
		Reviews:  c.Reviews,
		Chunks:   c.Chunks,
	}
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, log: cfg.Log.Logger(os.Stderr), metrics: metrics.New()}
	slog.SetDefault(a.log)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Mongo.Timeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	a.client = client
	a.db = client.Database(cfg.Mongo.Database)
	a.store = store.NewMongo(a.db, names(cfg.Collections))
	a.log.Info("connected to mongo", "database", cfg.Mongo.Database)

	if cfg.Neo4j.URL != "" {
		cat, err := graph.Open(ctx, cfg.Neo4j.URL, cfg.Neo4j.User, cfg.Neo4j.Password)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.catalog = cat
		a.log.Info("connected to neo4j", "url", cfg.Neo4j.URL)
	}
	if cfg.Qdrant.Addr != "" {
		vs, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.vectors = vs
		a.log.Info("qdrant mirror enabled", "addr", cfg.Qdrant.Addr, "collection", cfg.Qdrant.Collection)
	}
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("storyrag"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		a.nc = nc
		a.events = natsutil.NewEvents(nc, cfg.NATS.SubjectPrefix)
		a.log.Info("publishing events", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}
	if cfg.Metrics.Port > 0 {
		a.metrics.Serve(ctx, fmt.Sprintf(":%d", cfg.Metrics.Port), a.log)
	}
	return a, nil
}

func (a *app) fetcher() *scraper.Fetcher {
	return scraper.New(scraper.Config{
		UserAgent:         a.cfg.Site.UserAgent,
		RequestsPerSecond: a.cfg.Site.RequestsPerSecond,
		Timeout:           a.cfg.Site.Timeout,
	})
}

func (a *app) embedder() (embed.Embedder, error) {
	e := a.cfg.Embedding
	return embed.New(embed.Config{
		Provider:   e.Provider,
		APIKey:     e.APIKey,
		Model:      e.Model,
		Endpoint:   e.Endpoint,
		Dimensions: e.Dimensions,
		Timeout:    e.Timeout,
	})
}

// Close releases every connection. It is safe on a partly opened app.
func (a *app) Close() {
	ctx := context.Background()
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.log.Warn("nats drain", "error", err)
		}
	}
	if a.vectors != nil {
		_ = a.vectors.Close()
	}
	if a.catalog != nil {
		_ = a.catalog.Close(ctx)
	}
	if a.client != nil {
		if err := a.client.Disconnect(ctx); err != nil {
			a.log.Warn("mongo disconnect", "error", err)
		}
	}
}
