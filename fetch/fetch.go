// Package fetch copies model artifacts from remote storage to local files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/GoCodeAlone/servicetree"
)

// Static errors for artifact fetching
var (
	ErrUnsupportedScheme = errors.New("unsupported artifact scheme")
	ErrNotFound          = errors.New("artifact not found")
	ErrInvalidSource     = errors.New("invalid artifact source")
	ErrEmptyDestination  = errors.New("artifact destination cannot be empty")
)

// Fetcher copies the artifact at source to the local file dest.
type Fetcher interface {
	Fetch(ctx context.Context, source, dest string) error
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, source, dest string) error

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, source, dest string) error {
	return f(ctx, source, dest)
}

// Router dispatches to a fetcher by URL scheme. Sources without a scheme
// are treated as local paths.
type Router struct {
	fetchers map[string]Fetcher
	logger   servicetree.Logger
}

// NewRouter creates a router with a local file fetcher registered for the
// "file" scheme and bare paths.
func NewRouter(logger servicetree.Logger) *Router {
	if logger == nil {
		logger = nopLogger{}
	}
	r := &Router{fetchers: make(map[string]Fetcher), logger: logger}
	r.Register("file", FileFetcher{})
	return r
}

// Register sets the fetcher for scheme.
func (r *Router) Register(scheme string, f Fetcher) {
	r.fetchers[strings.ToLower(scheme)] = f
}

// Fetch copies source to dest using the fetcher registered for the
// source's scheme.
func (r *Router) Fetch(ctx context.Context, source, dest string) error {
	scheme, err := schemeOf(source)
	if err != nil {
		return err
	}
	f, ok := r.fetchers[scheme]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	r.logger.Info("Downloading artifact", "source", source, "dest", dest)
	if err := f.Fetch(ctx, source, dest); err != nil {
		return fmt.Errorf("fetching %s: %w", source, err)
	}
	r.logger.Info("Artifact downloaded", "source", source, "dest", dest)
	return nil
}

func schemeOf(source string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("%w: empty source", ErrInvalidSource)
	}
	u, err := url.Parse(source)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}
	if u.Scheme == "" {
		return "file", nil
	}
	return strings.ToLower(u.Scheme), nil
}

// FileFetcher copies a local file.
type FileFetcher struct{}

// Fetch copies the file at source to dest.
func (FileFetcher) Fetch(ctx context.Context, source, dest string) error {
	path := strings.TrimPrefix(source, "file://")
	src, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return err
	}
	defer src.Close()
	return writeFile(ctx, dest, src)
}

// writeFile streams r into dest through a temporary file in the same
// directory, so readers of dest never observe a partial artifact.
func writeFile(ctx context.Context, dest string, r io.Reader) (err error) {
	if dest == "" {
		return ErrEmptyDestination
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

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

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
