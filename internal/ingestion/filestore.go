package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/54b3r/ragindex/internal/config"
)

// fileKeyLength is the length of the random key prefixed to stored files.
const fileKeyLength = 12

var (
	// ErrUnsupportedType is returned for uploads whose extension is not allowed.
	ErrUnsupportedType = errors.New("ingestion: file type not supported")
	// ErrFileTooLarge is returned for uploads over the configured size limit.
	ErrFileTooLarge = errors.New("ingestion: file size exceeded")
)

// unsafeNameChars matches everything that is not a word character or a dot.
var unsafeNameChars = regexp.MustCompile(`[^\w.]`)

// FileStore is the raw-content collaborator used by file processing.
type FileStore interface {
	// ReadContent returns the stored file's bytes, or nil when it is missing.
	ReadContent(ctx context.Context, projectID, fileID string) ([]byte, error)
}

// StoredFile describes a saved upload.
type StoredFile struct {
	// FileID is the stored name, used as the asset name.
	FileID string `json:"file_id"`
	// Path is the absolute location on disk.
	Path string `json:"-"`
	// Size is the number of bytes written.
	Size int64 `json:"size"`
}

// LocalFileStore keeps uploads under <dir>/<project_id>/<key>_<clean name>.
type LocalFileStore struct {
	dir      string
	maxBytes int64
	allowed  []string
	logger   *slog.Logger
}

// NewLocalFileStore returns a file store rooted at cfg.Dir.
func NewLocalFileStore(cfg config.FilesConfig, log *slog.Logger) *LocalFileStore {
	if log == nil {
		log = slog.Default()
	}
	allowed := make([]string, 0, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed = append(allowed, ext)
	}
	return &LocalFileStore{
		dir:      cfg.Dir,
		maxBytes: int64(cfg.MaxSizeMB) << 20,
		allowed:  allowed,
		logger:   log,
	}
}

// Validate checks an upload's name and declared size before it is written.
func (s *LocalFileStore) Validate(name string, size int64) error {
	ext := strings.ToLower(filepath.Ext(name))
	if len(s.allowed) > 0 && !slices.Contains(s.allowed, ext) {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, size, s.maxBytes)
	}
	return nil
}

// Save writes r under the project's directory with a random key prefix and
// returns the stored file id. The size limit is enforced while copying, so a
// reader that lies about its size still cannot exceed it.
func (s *LocalFileStore) Save(ctx context.Context, projectID, name string, r io.Reader) (*StoredFile, error) {
	if err := s.Validate(name, 0); err != nil {
		return nil, err
	}
	projectDir, err := s.projectDir(projectID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(projectDir, 0o750); err != nil {
		return nil, fmt.Errorf("ingestion: create project dir: %w", err)
	}

	clean := CleanFileName(name)
	var path, fileID string
	for {
		fileID = randomKey() + "_" + clean
		path = filepath.Join(projectDir, fileID)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			break
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ingestion: create %s: %w", fileID, err)
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, copyErr := io.Copy(f, contextReader{ctx: ctx, r: src})
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(path)
		return nil, fmt.Errorf("ingestion: write %s: %w", fileID, copyErr)
	case closeErr != nil:
		_ = os.Remove(path)
		return nil, fmt.Errorf("ingestion: close %s: %w", fileID, closeErr)
	case s.maxBytes > 0 && n > s.maxBytes:
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: limit %d bytes", ErrFileTooLarge, s.maxBytes)
	}

	s.logger.Info("ingestion: file stored",
		slog.String("project_id", projectID),
		slog.String("file_id", fileID),
		slog.Int64("bytes", n),
	)
	return &StoredFile{FileID: fileID, Path: path, Size: n}, nil
}

// ReadContent returns the file's bytes. A missing or unreadable file yields
// nil content and no error; the caller logs and skips it.
func (s *LocalFileStore) ReadContent(_ context.Context, projectID, fileID string) ([]byte, error) {
	projectDir, err := s.projectDir(projectID)
	if err != nil {
		return nil, err
	}
	if fileID != filepath.Base(fileID) {
		return nil, fmt.Errorf("ingestion: invalid file id %q", fileID)
	}
	data, err := os.ReadFile(filepath.Join(projectDir, fileID))
	if err != nil {
		s.logger.Warn("ingestion: file content unavailable",
			slog.String("project_id", projectID),
			slog.String("file_id", fileID),
			slog.Any("error", err),
		)
		return nil, nil
	}
	return data, nil
}

func (s *LocalFileStore) projectDir(projectID string) (string, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" || projectID != filepath.Base(projectID) || projectID == ".." {
		return "", fmt.Errorf("ingestion: invalid project id %q", projectID)
	}
	return filepath.Join(s.dir, projectID), nil
}

// CleanFileName strips everything but word characters and dots.
func CleanFileName(name string) string {
	clean := unsafeNameChars.ReplaceAllString(strings.TrimSpace(filepath.Base(name)), "")
	if clean == "" || clean == "." || clean == ".." {
		return "file"
	}
	return clean
}

func randomKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:fileKeyLength]
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
