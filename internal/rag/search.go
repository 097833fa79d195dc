// Package rag implements the retrieval-augmented answer path: a query is
// embedded, the project's collection is searched, and the retrieved chunks are
// rendered into a prompt for the generation model.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/54b3r/ragindex/internal/embedder"
	"github.com/54b3r/ragindex/internal/vectordb"
)

// ErrEmptyQuery is returned when the search text is blank.
var ErrEmptyQuery = errors.New("rag: query text must not be empty")

// DefaultLimit is used when the caller passes a non-positive limit.
const DefaultLimit = 10

// Searcher embeds query text and searches a project's collection.
type Searcher struct {
	// embedder converts query text to a dense vector.
	embedder embedder.Embedder

	// vectors performs the similarity search.
	vectors vectordb.Store
}

// NewSearcher constructs a Searcher.
func NewSearcher(emb embedder.Embedder, vectors vectordb.Store) (*Searcher, error) {
	if emb == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if vectors == nil {
		return nil, fmt.Errorf("rag: vector store must not be nil")
	}
	return &Searcher{embedder: emb, vectors: vectors}, nil
}

// Collection returns the collection searched for a project.
func (s *Searcher) Collection(projectID string) string {
	return vectordb.CollectionName(s.embedder.Size(), projectID)
}

// Search returns up to limit chunks of the project most similar to text. A
// project that has not been indexed yields no results.
func (s *Searcher) Search(ctx context.Context, projectID, text string, limit int) ([]vectordb.SearchResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	vector, err := embedder.EmbedOne(ctx, s.embedder, text, embedder.Query)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}

	results, err := s.vectors.SearchByVector(ctx, s.Collection(projectID), vector, limit)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	return results, nil
}
