package faces

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// HTTPEncoder calls an out-of-process face-embedding service.  The model is
// a black box to this system: one image in, zero or more feature vectors
// out.
type HTTPEncoder struct {
	url    string
	http   *http.Client
	logger zerolog.Logger
}

func NewHTTPEncoder(url string, timeout time.Duration, logger zerolog.Logger) *HTTPEncoder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEncoder{
		url:    url,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type encodeRequest struct {
	Image string `json:"image"` // base64
}

type encodeResponse struct {
	Encodings [][]float64 `json:"encodings"`
}

func (e *HTTPEncoder) Encode(ctx context.Context, imagePath string) (Vector, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", imagePath, err)
	}

	payload, err := json.Marshal(encodeRequest{Image: base64.StdEncoding.EncodeToString(data)})
	if err != nil {
		return nil, fmt.Errorf("marshal encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build encode request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("encoder call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("encoder response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("encoder call: unexpected status %d", resp.StatusCode)
	}

	var decoded encodeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode encoder response: %w", err)
	}

	if len(decoded.Encodings) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFace, imagePath)
	}
	if len(decoded.Encodings) > 1 {
		e.logger.Warn().Str("path", imagePath).Int("faces", len(decoded.Encodings)).
			Msg("multiple faces detected, using first")
	}
	return Vector(decoded.Encodings[0]), nil
}
