// Package imagecache downloads worker images and stores them under
// deterministic names so the admission gate can re-read a worker's face
// later without another download.
package imagecache

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

type Cache struct {
	facesDir   string
	idCardsDir string
	http       *http.Client
	logger     zerolog.Logger
}

// New creates the cache directories under dataDir and returns the cache.
func New(dataDir string, timeout time.Duration, logger zerolog.Logger) (*Cache, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Cache{
		facesDir:   filepath.Join(dataDir, "faces"),
		idCardsDir: filepath.Join(dataDir, "id_cards"),
		http:       &http.Client{Timeout: timeout},
		logger:     logger,
	}

	for _, dir := range []string{c.facesDir, c.idCardsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return c, nil
}

// FacePath is the deterministic cache path for a worker's face image.
func (c *Cache) FacePath(identityKey string) string {
	return filepath.Join(c.facesDir, identityKey+"_face.jpg")
}

// IDCardPath is the deterministic cache path for a worker's ID document image.
func (c *Cache) IDCardPath(identityKey string) string {
	return filepath.Join(c.idCardsDir, identityKey+"_id.jpg")
}

// Fetch downloads url to dest.  The file is written atomically via a temp
// file so a failed download never leaves a truncated image for the gate to
// trip over.
func (c *Cache) Fetch(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build image request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp image: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close image: %w", err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("place image: %w", err)
	}

	c.logger.Debug().Str("url", url).Str("path", dest).Msg("image cached")
	return nil
}

// FileBase64 returns the base64 encoding of a cached image, the form the
// access-control platform expects face data in.
func FileBase64(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
