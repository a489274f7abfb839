package observability

import (
	"context"
	"log/slog"
	"time"
)

// RepoLogger provides structured logging for store operations.
type RepoLogger struct {
	backend    string
	collection string
	logger     *slog.Logger
}

// NewRepoLogger creates a RepoLogger for one table or collection.
func NewRepoLogger(logger *slog.Logger, backend, collection string) *RepoLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepoLogger{backend: backend, collection: collection, logger: logger}
}

func (l *RepoLogger) attrs(op string, extra []slog.Attr) []any {
	out := []any{
		slog.String("backend", l.backend),
		slog.String("collection", l.collection),
		slog.String("operation", op),
	}
	for _, a := range extra {
		out = append(out, a)
	}
	return out
}

// LogWrite records a successful mutation at debug level.
func (l *RepoLogger) LogWrite(ctx context.Context, op string, extra ...slog.Attr) {
	l.logger.DebugContext(ctx, "store write", l.attrs(op, extra)...)
}

// LogRepair records a counter repair at warn level.
func (l *RepoLogger) LogRepair(ctx context.Context, op string, extra ...slog.Attr) {
	l.logger.WarnContext(ctx, "store counter repaired", l.attrs(op, extra)...)
}

// LogError records a failed operation.
func (l *RepoLogger) LogError(ctx context.Context, op string, err error) {
	l.logger.ErrorContext(ctx, "store operation failed", append(l.attrs(op, nil), slog.String("error", err.Error()))...)
}

// AsyncOperation logs the start and outcome of a long-running background task.
type AsyncOperation struct {
	name   string
	start  time.Time
	logger *slog.Logger
}

// LogAsyncOperationStart logs the beginning of a background task.
func LogAsyncOperationStart(ctx context.Context, logger *slog.Logger, name string, attrs ...any) *AsyncOperation {
	logger.InfoContext(ctx, "async operation started", append([]any{slog.String("operation", name)}, attrs...)...)
	return &AsyncOperation{name: name, start: time.Now(), logger: logger}
}

// End logs completion. A non-nil err is logged at error level.
func (op *AsyncOperation) End(ctx context.Context, err error, attrs ...any) {
	fields := append([]any{
		slog.String("operation", op.name),
		slog.Duration("elapsed", time.Since(op.start)),
	}, attrs...)
	if err != nil {
		op.logger.ErrorContext(ctx, "async operation failed", append(fields, slog.String("error", err.Error()))...)
		return
	}
	op.logger.InfoContext(ctx, "async operation finished", fields...)
}
