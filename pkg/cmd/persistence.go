// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/persistence/postgresql"
)

// ErrUnsupportedProvider is returned for a URL scheme no constructor handles.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// NewPersistence picks the store from the URL scheme: file://<dir> or postgres://.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest := parseProvider(databaseURL)

	switch provider {
	case "file":
		logger.InfoContext(ctx, "Using file persistence", "root", rest)

		return file.NewPersistence(rest), nil
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("persistence %q: %w", provider, ErrUnsupportedProvider)
	}
}

// parseProvider splits scheme://rest. A bare path is a file store root.
func parseProvider(url string) (string, string) {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return "file", url
	}

	return strings.ToLower(scheme), rest
}
