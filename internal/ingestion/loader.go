package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// loadDocuments parses raw file content with the loader matching the
// inferred format.
func loadDocuments(ctx context.Context, meta InferredMetadata, content []byte) ([]schema.Document, error) {
	var loader documentloaders.Loader
	r := bytes.NewReader(content)
	switch meta.Format {
	case "html":
		loader = documentloaders.NewHTML(r)
	case "csv":
		loader = documentloaders.NewCSV(r)
	case "pdf":
		loader = documentloaders.NewPDF(r, int64(len(content)))
	default:
		loader = documentloaders.NewText(r)
	}
	docs, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingestion: load %s: %w", meta.Format, err)
	}
	return docs, nil
}

// newSplitter returns the splitter for a format. Markdown keeps heading
// structure; everything else splits recursively on paragraphs, lines, and words.
func newSplitter(format string, chunkSize, overlap int) textsplitter.TextSplitter {
	opts := []textsplitter.Option{
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(overlap),
	}
	if format == "markdown" {
		return textsplitter.NewMarkdownTextSplitter(opts...)
	}
	return textsplitter.NewRecursiveCharacter(opts...)
}

// splitContent loads and splits one file into chunk documents carrying the
// file metadata merged with whatever the loader attached (page, row).
func splitContent(ctx context.Context, meta InferredMetadata, content []byte, chunkSize, overlap int) ([]schema.Document, error) {
	docs, err := loadDocuments(ctx, meta, content)
	if err != nil {
		return nil, err
	}
	base := meta.Map()
	for i := range docs {
		merged := maps.Clone(base)
		maps.Copy(merged, docs[i].Metadata)
		docs[i].Metadata = merged
	}
	chunks, err := textsplitter.SplitDocuments(newSplitter(meta.Format, chunkSize, overlap), docs)
	if err != nil {
		return nil, fmt.Errorf("ingestion: split %s: %w", meta.Source, err)
	}
	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c.PageContent) != "" {
			out = append(out, c)
		}
	}
	return out, nil
}
