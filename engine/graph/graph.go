// Package graph projects the story catalog into Neo4j as
// (:Author)-[:WROTE]->(:Story)-[:TAGGED]->(:Genre).
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/storyrag/storyrag/engine/domain"
	"github.com/storyrag/storyrag/pkg/fn"
)

// Runner executes one write statement.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) error
}

type sessionRunner struct {
	driver neo4j.DriverWithContext
}

func (r sessionRunner) Run(ctx context.Context, cypher string, params map[string]any) error {
	sess := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

// Catalog writes story nodes. It implements harvest.Catalog.
type Catalog struct {
	run    Runner
	driver neo4j.DriverWithContext
}

// Open connects to Neo4j and verifies the connection.
func Open(ctx context.Context, url, user, password string) (*Catalog, error) {
	driver, err := neo4j.NewDriverWithContext(url, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("graph: driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graph: connect %s: %w", url, err)
	}
	return &Catalog{run: sessionRunner{driver: driver}, driver: driver}, nil
}

// NewWithRunner builds a Catalog over any Runner.
func NewWithRunner(r Runner) *Catalog {
	return &Catalog{run: r}
}

// Close releases the driver, if Open created one.
func (c *Catalog) Close(ctx context.Context) error {
	if c.driver == nil {
		return nil
	}
	return c.driver.Close(ctx)
}

var constraints = []string{
	`CREATE CONSTRAINT story_title IF NOT EXISTS FOR (s:Story) REQUIRE s.title IS UNIQUE`,
	`CREATE CONSTRAINT author_name IF NOT EXISTS FOR (a:Author) REQUIRE a.name IS UNIQUE`,
	`CREATE CONSTRAINT genre_name IF NOT EXISTS FOR (g:Genre) REQUIRE g.name IS UNIQUE`,
}

// EnsureConstraints creates the uniqueness constraints MERGE relies on.
func (c *Catalog) EnsureConstraints(ctx context.Context) error {
	for _, q := range constraints {
		if err := c.run.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("graph: constraint: %w", err)
		}
	}
	return nil
}

const saveStory = `MERGE (s:Story {title: $title})
SET s.id = $id, s.url = $url, s.source = $source,
    s.total_views = $views, s.followers = $followers, s.overall_score = $score
MERGE (a:Author {name: $author})
MERGE (a)-[:WROTE]->(s)
WITH s
UNWIND $genres AS genre
MERGE (g:Genre {name: genre})
MERGE (s)-[:TAGGED]->(g)`

// SaveStory upserts the story with its author and genres. Saving the same
// story twice leaves the graph unchanged.
func (c *Catalog) SaveStory(ctx context.Context, s domain.Story) error {
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("graph: save story: %w", domain.ErrEmptyTitle)
	}
	genres := fn.Unique(fn.Filter(fn.Map(s.Genres, strings.TrimSpace), func(g string) bool { return g != "" }))
	author := s.Author
	if author == "" {
		author = "Unknown"
	}
	err := c.run.Run(ctx, saveStory, map[string]any{
		"title":     s.Title,
		"id":        s.ID.Hex(),
		"url":       s.URL,
		"source":    s.Source,
		"views":     int64(s.Statistics.TotalViews),
		"followers": int64(s.Statistics.Followers),
		"score":     s.Statistics.OverallScore,
		"author":    author,
		"genres":    genres,
	})
	if err != nil {
		return fmt.Errorf("graph: save story %q: %w", s.Title, err)
	}
	return nil
}
