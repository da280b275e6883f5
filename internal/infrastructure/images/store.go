// Package images downloads product images next to the catalogue.
package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"

	"MedicineCrawler/internal/infrastructure/fetcher"
)

// DefaultMaxBytes caps a single image download.
const DefaultMaxBytes = 5 << 20

// Fetcher is the subset of fetcher.Fetcher the store needs.
type Fetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) (*fetcher.Response, error)
}

// Store saves images under dir as <name>_<hash><ext>.
type Store struct {
	fetch    Fetcher
	dir      string
	maxBytes int64
	logger   *slog.Logger
}

// NewStore creates dir if needed.
func NewStore(f Fetcher, dir string, maxBytes int64, logger *slog.Logger) (*Store, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &Store{fetch: f, dir: dir, maxBytes: maxBytes, logger: logger}, nil
}

var unsafeChars = regexp.MustCompile(`[\\/*?:"<>|\s]+`)

// FileName derives a stable local file name for imageURL.
func FileName(name, imageURL string) string {
	sum := sha256.Sum256([]byte(imageURL))
	ext := ".jpg"
	if u, err := url.Parse(imageURL); err == nil {
		if e := path.Ext(u.Path); e != "" && len(e) <= 5 {
			ext = e
		}
	}
	safe := unsafeChars.ReplaceAllString(name, "")
	if safe == "" {
		safe = "image"
	}
	return safe + "_" + hex.EncodeToString(sum[:4]) + ext
}

// Save downloads imageURL and returns the local path. An existing file is
// reused without a request.
func (s *Store) Save(ctx context.Context, imageURL, name string) (string, error) {
	target := filepath.Join(s.dir, FileName(name, imageURL))
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}

	resp, err := s.fetch.Fetch(ctx, fetcher.Request{URL: imageURL})
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	if cl, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil && cl > s.maxBytes {
		return "", fmt.Errorf("image %s is %d bytes, limit %d", imageURL, cl, s.maxBytes)
	}
	if int64(len(resp.Body)) > s.maxBytes {
		return "", fmt.Errorf("image %s exceeds %d bytes", imageURL, s.maxBytes)
	}

	tmp, err := os.CreateTemp(s.dir, ".img-*")
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close image: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	if s.logger != nil {
		s.logger.Debug("image saved", "path", target, "bytes", len(resp.Body))
	}
	return target, nil
}
