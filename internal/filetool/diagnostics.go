package filetool

import "context"

// DiagnosticsProvider is an external collaborator (e.g. a language-server
// bridge) notified asynchronously after writes. It is fire-and-forget
// from the tool's perspective — the tool never blocks on it.
type DiagnosticsProvider interface {
	EnsureOpen(ctx context.Context, path string)
	DidChange(ctx context.Context, path string)
}

// NoopDiagnostics satisfies DiagnosticsProvider for callers that do not
// wire a real diagnostics backend.
type NoopDiagnostics struct{}

func (NoopDiagnostics) EnsureOpen(context.Context, string) {}
func (NoopDiagnostics) DidChange(context.Context, string)  {}
