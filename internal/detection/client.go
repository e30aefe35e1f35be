// Package detection wraps the deepfake detection backend: a single-attempt
// HTTP client for its predict/health endpoints and the score interpreter
// that turns raw backend output into a ranked classification.
package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"

	"github.com/purepost/analysis-service/internal/imaging"
)

// RawScores is the backend output for one image, kept alongside the
// unparsed body for audit.
type RawScores struct {
	Labels         []string
	Scores         []float64
	ProcessingTime float64
	Raw            json.RawMessage
}

// Health is the backend health probe payload, surfaced to monitoring only
type Health struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	ModelExists bool   `json:"model_exists"`
}

// Client issues single detection attempts against the backend. Retries and
// backoff are owned entirely by the worker.
type Client struct {
	baseURL   string
	inputSize int
	client    *http.Client
}

// NewClient creates a detection client. The per-attempt timeout comes from
// the context passed to Classify, so the embedded http.Client has none.
func NewClient(baseURL string, inputSize int) *Client {
	return &Client{
		baseURL:   baseURL,
		inputSize: inputSize,
		client:    &http.Client{},
	}
}

type predictResponse struct {
	Success     bool `json:"success"`
	Predictions []struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	} `json:"predictions"`
	ProcessingTime float64 `json:"processing_time"`
}

// Classify sends one image to the backend and returns its raw scores.
// The tensor is the preprocessing contract check: the backend transport
// carries the original bytes, but a tensor that does not match the model
// input shape means the pipeline is broken and must not dispatch.
func (c *Client) Classify(ctx context.Context, imageBytes []byte, tensor *imaging.Tensor) (*RawScores, error) {
	if err := tensor.Validate(c.inputSize); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := part.Write(imageBytes); err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBackend, resp.StatusCode)
	}

	var parsed predictResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed response body: %v", ErrBackend, err)
	}

	if !parsed.Success {
		return nil, fmt.Errorf("%w: backend reported failure", ErrBackend)
	}

	if len(parsed.Predictions) == 0 {
		return nil, ErrEmptyResult
	}

	result := &RawScores{
		Labels:         make([]string, len(parsed.Predictions)),
		Scores:         make([]float64, len(parsed.Predictions)),
		ProcessingTime: parsed.ProcessingTime,
		Raw:            json.RawMessage(raw),
	}
	for i, p := range parsed.Predictions {
		result.Labels[i] = p.Label
		result.Scores[i] = p.Score
	}

	return result, nil
}

// CheckHealth probes GET /health. Used by operational monitoring, never in
// the classify path.
func (c *Client) CheckHealth(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBackend, resp.StatusCode)
	}

	var health Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("%w: malformed health body: %v", ErrBackend, err)
	}

	return &health, nil
}

// classifyError maps transport failures onto the client's error taxonomy
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
