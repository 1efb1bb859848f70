package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/gamification-engine/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func managerLogger(ctx context.Context, base *slog.Logger, managerName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"manager", managerName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps sentinel and structured errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrNotLoggedIn):
		return "not_logged_in"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	var rErr *RemoteError
	if errors.As(err, &rErr) {
		return "remote"
	}

	var cErr *ConfigurationError
	if errors.As(err, &cErr) {
		return "configuration"
	}

	return "unexpected"
}
