package ingestion

import "testing"

func TestInferMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		fileID      string
		source      string
		format      string
		contentType string
	}{
		// ── Stored ids with a random key ─────────────────────────────────
		{
			name:        "plain text",
			fileID:      "a1b2c3d4e5f6_notes.txt",
			source:      "notes.txt",
			format:      "text",
			contentType: "text/plain",
		},
		{
			name:        "markdown",
			fileID:      "a1b2c3d4e5f6_README.md",
			source:      "README.md",
			format:      "markdown",
			contentType: "text/markdown",
		},
		{
			name:        "uppercase extension",
			fileID:      "a1b2c3d4e5f6_REPORT.PDF",
			source:      "REPORT.PDF",
			format:      "pdf",
			contentType: "application/pdf",
		},
		{
			name:        "html alias",
			fileID:      "a1b2c3d4e5f6_page.htm",
			source:      "page.htm",
			format:      "html",
			contentType: "text/html",
		},
		{
			name:        "csv keeps underscores in name",
			fileID:      "a1b2c3d4e5f6_q3_sales_data.csv",
			source:      "q3_sales_data.csv",
			format:      "csv",
			contentType: "text/csv",
		},
		// ── Ids without a storage key ────────────────────────────────────
		{
			name:        "short prefix is part of the name",
			fileID:      "my_notes.md",
			source:      "my_notes.md",
			format:      "markdown",
			contentType: "text/markdown",
		},
		{
			name:        "no underscore",
			fileID:      "notes.txt",
			source:      "notes.txt",
			format:      "text",
			contentType: "text/plain",
		},
		// ── Fallbacks ────────────────────────────────────────────────────
		{
			name:        "unknown extension falls back to text",
			fileID:      "a1b2c3d4e5f6_data.json",
			source:      "data.json",
			format:      "text",
			contentType: "text/plain",
		},
		{
			name:        "no extension",
			fileID:      "a1b2c3d4e5f6_LICENSE",
			source:      "LICENSE",
			format:      "text",
			contentType: "text/plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := InferMetadata(tt.fileID)
			if got.Source != tt.source {
				t.Errorf("Source: got %q, want %q", got.Source, tt.source)
			}
			if got.Format != tt.format {
				t.Errorf("Format: got %q, want %q", got.Format, tt.format)
			}
			if got.ContentType != tt.contentType {
				t.Errorf("ContentType: got %q, want %q", got.ContentType, tt.contentType)
			}
		})
	}
}

func TestInferredMetadata_Map(t *testing.T) {
	t.Parallel()
	m := InferMetadata("a1b2c3d4e5f6_guide.md").Map()
	if m["source"] != "guide.md" || m["format"] != "markdown" || m["content_type"] != "text/markdown" {
		t.Errorf("Map() = %v", m)
	}
}

func TestCleanFileName(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"report.pdf":          "report.pdf",
		"  my report.pdf ":    "myreport.pdf",
		"../../etc/passwd":    "passwd",
		"weird$#@name!.txt":   "weirdname.txt",
		"under_score-dash.md": "under_scoredash.md",
		"$$$":                 "file",
	}
	for in, want := range tests {
		if got := CleanFileName(in); got != want {
			t.Errorf("CleanFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
