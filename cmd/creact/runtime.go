package main

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/creact-labs/creact-sub004/internal/config"
	"github.com/creact-labs/creact-sub004/pkg/backend"
	"github.com/creact-labs/creact-sub004/pkg/provider"
)

// Shared CLI styles.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3b82f6"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10b981"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ef4444"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#94a3b8"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#64748b"))
)

// openBackend builds the configured backend. The caller closes the returned
// closer.
func openBackend(ctx context.Context, cfg *config.Config) (backend.Backend, io.Closer, error) {
	switch cfg.Backend.Type {
	case "file":
		b, err := backend.NewFileBackend(cfg.Backend.Dir)
		return b, nopCloser{}, err
	case "postgres":
		b, err := backend.ConnectPostgres(ctx, cfg.Backend.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return b, closerFunc(func() error { b.Close(); return nil }), nil
	case "redis":
		b, err := backend.ConnectRedis(ctx, cfg.Backend.RedisAddr, cfg.Backend.RedisPassword, cfg.Backend.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
}

// openProvider builds the configured provider.
func openProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider.Type {
	case "local":
		return demoProvider(), nil
	case "remote":
		return provider.DialRemote(ctx, cfg.Provider.URL, log)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Provider.Type)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
