package filetool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

const (
	// DefaultMaxReadBytes is the file-size ceiling for reads.
	DefaultMaxReadBytes = 1 << 20 // 1 MB
	// DefaultLineLimit is the default number of lines returned by Read.
	DefaultLineLimit = 2000
)

// Tool is the path-safe filesystem surface. Zero value is not usable;
// construct with New.
type Tool struct {
	baseDir         string
	maxReadBytes    int64
	defaultLimit    int
	tracker         *FileTracker
	cache           *CacheManager
	diagnostics     DiagnosticsProvider
	logger          zerolog.Logger
}

// Option configures a Tool at construction time.
type Option func(*Tool)

// WithMaxReadBytes overrides the default 1 MB read ceiling.
func WithMaxReadBytes(n int64) Option { return func(t *Tool) { t.maxReadBytes = n } }

// WithDefaultLineLimit overrides the default 2000-line read limit.
func WithDefaultLineLimit(n int) Option { return func(t *Tool) { t.defaultLimit = n } }

// WithDiagnostics wires an external diagnostics collaborator.
func WithDiagnostics(d DiagnosticsProvider) Option { return func(t *Tool) { t.diagnostics = d } }

// WithLogger wires a structured logger.
func WithLogger(l zerolog.Logger) Option { return func(t *Tool) { t.logger = l } }

// New constructs a Tool rooted at baseDir. baseDir must exist.
func New(baseDir string, opts ...Option) (*Tool, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir %q: %w", baseDir, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize base dir %q: %w", baseDir, err)
	}

	t := &Tool{
		baseDir:      canonical,
		maxReadBytes: DefaultMaxReadBytes,
		defaultLimit: DefaultLineLimit,
		tracker:      NewFileTracker(),
		cache:        NewCacheManager(),
		diagnostics:  NoopDiagnostics{},
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Resolve exposes the path-escape-safe resolver for callers (and tests)
// that need just the resolved absolute path without performing an I/O
// operation.
func (t *Tool) Resolve(path string) (string, error) {
	return resolvePath(t.baseDir, path)
}

// ReadResult is the response shape for Read.
type ReadResult struct {
	Path       string
	TotalLines int
	ShowingFrom int
	ShowingTo   int
	Content     string
}

// Read returns up to limit lines of path starting at 1-indexed line
// offset, rendered as "   N | <line>". Files larger than the configured
// ceiling are refused.
func (t *Tool) Read(ctx context.Context, path string, offset, limit int) (ReadResult, error) {
	resolved, err := resolvePath(t.baseDir, path)
	if err != nil {
		return ReadResult{}, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return ReadResult{}, fmt.Errorf("stat %q: %w", path, err)
	}
	if info.Size() > t.maxReadBytes {
		return ReadResult{}, fmt.Errorf("file %q is %d bytes, exceeds the %d byte read ceiling; use offset/limit on a narrower range", path, info.Size(), t.maxReadBytes)
	}

	mtime := info.ModTime().UnixNano()
	content, cached := t.cache.GetFile(resolved, mtime)
	if !cached {
		raw, err := os.ReadFile(resolved)
		if err != nil {
			return ReadResult{}, fmt.Errorf("read %q: %w", path, err)
		}
		content = string(raw)
		t.cache.PutFile(resolved, mtime, content)
	}

	t.tracker.RecordRead(resolved, mtime)

	if offset < 1 {
		offset = 1
	}
	if limit <= 0 {
		limit = t.defaultLimit
	}
	return formatFileOutput(path, content, offset, limit), nil
}

// Write writes content to path, creating parent directories as needed.
// It refuses to write if the file was modified on disk since the last
// agent-initiated read or write of it (external-modification detection).
func (t *Tool) Write(ctx context.Context, path, content string, appendMode bool) error {
	resolved, err := resolvePath(t.baseDir, path)
	if err != nil {
		return err
	}

	if info, statErr := os.Stat(resolved); statErr == nil {
		current := info.ModTime().UnixNano()
		if last, ok := t.tracker.LastSeen(resolved); ok && last != current {
			return fmt.Errorf("file %q was modified outside this session (on-disk mtime no longer matches); read it again before writing", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create parent directory for %q: %w", path, err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open %q for write: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Errorf("stat %q after write: %w", path, err)
	}
	t.tracker.RecordWrite(resolved, info.ModTime().UnixNano())
	t.cache.InvalidateWrite(resolved)

	t.diagnostics.EnsureOpen(ctx, resolved)
	t.diagnostics.DidChange(ctx, resolved)

	return nil
}

// Delete removes path.
func (t *Tool) Delete(ctx context.Context, path string) error {
	resolved, err := resolvePath(t.baseDir, path)
	if err != nil {
		return err
	}
	if err := os.Remove(resolved); err != nil {
		return fmt.Errorf("delete %q: %w", path, err)
	}
	t.tracker.Forget(resolved)
	t.cache.InvalidateWrite(resolved)
	return nil
}

// Exists reports whether path exists, resolving it safely first. A path
// escape returns (false, error); a plain not-exists returns (false, nil).
func (t *Tool) Exists(path string) (bool, error) {
	resolved, err := resolvePath(t.baseDir, path)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(resolved)
	if statErr == nil {
		return true, nil
	}
	if os.IsNotExist(statErr) {
		return false, nil
	}
	return false, fmt.Errorf("stat %q: %w", path, statErr)
}

// formatFileOutput renders content as 1-indexed "   N | line" rows within
// [offset, offset+limit-1], reporting the inclusive range actually shown.
func formatFileOutput(path, content string, offset, limit int) ReadResult {
	lines := strings.Split(content, "\n")
	total := len(lines)

	start := offset
	if start > total {
		start = total + 1
	}
	end := start + limit - 1
	if end > total {
		end = total
	}

	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%4d | %s\n", i, lines[i-1])
	}

	return ReadResult{
		Path:        path,
		TotalLines:  total,
		ShowingFrom: start,
		ShowingTo:   end,
		Content:     b.String(),
	}
}
