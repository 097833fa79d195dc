// Package embedder turns text into dense vectors. Every backend embeds
// documents and queries into the same vector space; the DocumentType only
// selects provider-side preprocessing.
package embedder

import (
	"context"
	"errors"
	"fmt"
)

// DocumentType tells the backend whether the texts are stored content or a
// search query.
type DocumentType string

const (
	// Document marks texts that are indexed into a collection.
	Document DocumentType = "DOCUMENT"
	// Query marks texts that are searched for.
	Query DocumentType = "QUERY"
)

// ErrDimensionMismatch is returned when a backend produced vectors of a size
// other than the configured one.
var ErrDimensionMismatch = errors.New("embedder: dimension mismatch")

// Embedder is the embedding capability. Implementations must be safe for
// concurrent use.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string, docType DocumentType) ([][]float32, error)
	// Size is the fixed vector length produced by the configured model.
	Size() int
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string, docType DocumentType) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text}, docType)
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder: expected 1 embedding, got %d", len(vectors))
	}
	return vectors[0], nil
}

// checkVectors verifies count and dimensionality of a backend response.
func checkVectors(name string, vectors [][]float32, want, size int) error {
	if len(vectors) != want {
		return fmt.Errorf("%s embedder: expected %d embeddings, got %d", name, want, len(vectors))
	}
	if size <= 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != size {
			return fmt.Errorf("%w: %s embedding %d has %d dimensions, want %d", ErrDimensionMismatch, name, i, len(v), size)
		}
	}
	return nil
}

// prefixer prepends nomic-style task prefixes.
type prefixer bool

func (p prefixer) apply(texts []string, docType DocumentType) []string {
	if !p {
		return texts
	}
	prefix := "search_document: "
	if docType == Query {
		prefix = "search_query: "
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = prefix + t
	}
	return out
}
