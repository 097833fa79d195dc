package ingestion

import (
	"path/filepath"
	"strings"
)

// InferredMetadata holds the format details inferred from a stored file id.
// It is attached to every chunk produced from the file so search hits can be
// mapped back to their source.
type InferredMetadata struct {
	// Source is the original upload name, without the random storage prefix.
	Source string
	// Format is the loader family (text, markdown, html, csv, pdf).
	Format string
	// ContentType is the MIME type matching Format.
	ContentType string
}

// formatAliases maps a lowercase file extension to its loader family.
var formatAliases = map[string]string{
	".txt":      "text",
	".text":     "text",
	".log":      "text",
	".md":       "markdown",
	".markdown": "markdown",
	".html":     "html",
	".htm":      "html",
	".csv":      "csv",
	".pdf":      "pdf",
}

// contentTypes maps a loader family to the MIME type recorded in metadata.
var contentTypes = map[string]string{
	"text":     "text/plain",
	"markdown": "text/markdown",
	"html":     "text/html",
	"csv":      "text/csv",
	"pdf":      "application/pdf",
}

// InferMetadata inspects a stored file id of the form "<key>_<name>" and
// returns best-effort metadata. Unknown extensions fall back to "text".
func InferMetadata(fileID string) InferredMetadata {
	base := filepath.Base(fileID)
	m := InferredMetadata{
		Source:      originalName(base),
		Format:      "text",
		ContentType: contentTypes["text"],
	}
	if f, ok := formatAliases[strings.ToLower(filepath.Ext(base))]; ok {
		m.Format = f
		m.ContentType = contentTypes[f]
	}
	return m
}

// Map returns the metadata as chunk metadata entries.
func (m InferredMetadata) Map() map[string]any {
	return map[string]any{
		"source":       m.Source,
		"format":       m.Format,
		"content_type": m.ContentType,
	}
}

// originalName strips the random storage key that LocalFileStore prepends.
func originalName(base string) string {
	key, rest, ok := strings.Cut(base, "_")
	if !ok || rest == "" || len(key) != fileKeyLength {
		return base
	}
	return rest
}
