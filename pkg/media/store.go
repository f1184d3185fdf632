package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUnavailable reports that a media item could not be downloaded or
// resolved. Callers drop the item and continue the turn.
var ErrUnavailable = errors.New("media: unavailable")

// Store caches remote media on the local filesystem. Fetches from different
// goroutines never collide because every download gets a unique filename.
type Store struct {
	dir        string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("media: cache directory not set")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("media: creating cache directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:        dir,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

func (s *Store) Dir() string { return s.dir }

// Fetch downloads remoteURL into the cache directory and returns a Reference
// with the local path set. The filename hint only contributes the extension;
// an empty or extension-less hint falls back to ".bin". Failures are wrapped
// in ErrUnavailable so callers can degrade instead of aborting.
func (s *Store) Fetch(ctx context.Context, remoteURL, hint string) (Reference, error) {
	if strings.TrimSpace(remoteURL) == "" {
		return Reference{}, fmt.Errorf("%w: empty locator", ErrUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Reference{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	path := filepath.Join(s.dir, uniqueName(hint))
	if err := writeFile(path, resp.Body); err != nil {
		return Reference{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.logger.Debug("media fetched",
		slog.String("url", remoteURL),
		slog.String("path", path),
	)

	return Reference{
		Kind:      ClassifyPath(path),
		LocalPath: path,
		RemoteURL: remoteURL,
	}, nil
}

// Put stores raw bytes (e.g. a platform resource download) under a unique
// name and returns the Reference. handle records the platform-native key.
func (s *Store) Put(data []byte, hint, handle string) (Reference, error) {
	path := filepath.Join(s.dir, uniqueName(hint))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return Reference{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Reference{
		Kind:           ClassifyPath(path),
		LocalPath:      path,
		PlatformHandle: handle,
	}, nil
}

// ResolveExisting reports whether a previously cached path still exists.
// History recall uses this to silently skip deleted files.
func (s *Store) ResolveExisting(localPath string) bool {
	if localPath == "" {
		return false
	}
	info, err := os.Stat(localPath)
	return err == nil && info.Mode().IsRegular()
}

func uniqueName(hint string) string {
	ext := filepath.Ext(hint)
	if ext == "" || len(ext) > 8 {
		ext = ".bin"
	}
	return uuid.NewString() + strings.ToLower(ext)
}

func writeFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
