package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/quotagate/pkg/ledger"
)

// HTTPClassifier sends images to a model server. The server answers a POST of
// the raw image bytes with {"probabilities": [...]}, one entry per class, and
// with 400 or 422 when it cannot decode the image.
type HTTPClassifier struct {
	url        string
	classes    []string
	httpClient *http.Client
}

// ClassifierOption configures an HTTPClassifier
type ClassifierOption func(*HTTPClassifier)

// WithHTTPClient replaces the HTTP client used to reach the model server
func WithHTTPClient(client *http.Client) ClassifierOption {
	return func(c *HTTPClassifier) { c.httpClient = client }
}

// NewHTTPClassifier creates a classifier for the model server described by cfg
func NewHTTPClassifier(cfg Config, opts ...ClassifierOption) *HTTPClassifier {
	classes := cfg.Classes
	if len(classes) == 0 {
		classes = DefaultClasses
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &HTTPClassifier{
		url:     cfg.URL,
		classes: classes,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return c
}

type modelResponse struct {
	Probabilities []float64 `json:"probabilities"`
}

// Predict classifies image
func (c *HTTPClassifier) Predict(ctx context.Context, image []byte, threshold float64) (*Result, error) {
	if !strings.HasPrefix(http.DetectContentType(image), "image/") {
		return nil, ErrInvalidImage
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ledger.Detailf(ErrClassifierUnavailable, "Inference failed: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, ErrInvalidImage
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, ledger.Detailf(ErrClassifierUnavailable, "Inference failed: model server returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out modelResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ledger.Detailf(ErrClassifierUnavailable, "Inference failed: decode response: %v", err)
	}
	if len(out.Probabilities) != len(c.classes) {
		return nil, ledger.Detailf(ErrClassifierUnavailable, "Inference failed: expected %d probabilities, got %d",
			len(c.classes), len(out.Probabilities))
	}

	classes := make([]string, len(c.classes))
	copy(classes, c.classes)
	return &Result{
		Classes:       classes,
		Probabilities: out.Probabilities,
		Active:        activeClasses(classes, out.Probabilities, threshold),
	}, nil
}
