// Package brain talks to the inference backend. The backend speaks the
// Anthropic messages API shape: one POST per inference, JSON in and out.
package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
)

const apiVersion = "2023-06-01"

var (
	// ErrAuthentication is reported when the backend rejects the API key.
	ErrAuthentication = errors.New("authentication failed")

	// ErrInvalidRequest is reported when the backend rejects the request
	// itself. Retrying cannot help.
	ErrInvalidRequest = errors.New("invalid inference request")

	// ErrExhausted is reported when all retries failed.
	ErrExhausted = errors.New("inference retries exhausted")
)

// Config defines brain configuration.
type Config struct {
	// Endpoint is the base URL of the inference backend.
	Endpoint string
	// APIKey authenticates against the backend.
	APIKey string
	// Model is the model requested for inference.
	Model string
	// MaxTokens limits the model output per inference.
	MaxTokens int
	// RequestTimeout bounds a single HTTP request.
	RequestTimeout time.Duration
	// MaxRetries is the number of retries after a retryable failure.
	MaxRetries int
	// RetryBaseDelay is the backoff delay of the first retry; it doubles
	// with every further one, capped at 30s.
	RetryBaseDelay time.Duration
}

// DefaultConfig returns the default brain configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint:       "https://api.anthropic.com",
		Model:          "claude-sonnet-4-5",
		MaxTokens:      4096,
		RequestTimeout: 2 * time.Minute,
		MaxRetries:     3,
		RetryBaseDelay: 500 * time.Millisecond,
	}
}

// ConfigFromEnv builds the configuration from environment variables:
// SHELLY_BRAIN_API_KEY (required), SHELLY_BRAIN_ENDPOINT and
// SHELLY_BRAIN_MODEL (optional).
func ConfigFromEnv() (Config, error) {
	config := DefaultConfig()

	config.APIKey = os.Getenv("SHELLY_BRAIN_API_KEY")
	if config.APIKey == "" {
		return Config{}, errors.New("SHELLY_BRAIN_API_KEY is not set")
	}
	if endpoint := os.Getenv("SHELLY_BRAIN_ENDPOINT"); endpoint != "" {
		config.Endpoint = endpoint
	}
	if model := os.Getenv("SHELLY_BRAIN_MODEL"); model != "" {
		config.Model = model
	}

	return config, nil
}

// Brain is the inference client.
type Brain struct {
	config Config
	client *http.Client
}

// New creates new brain.
func New(config Config) *Brain {
	return &Brain{
		config: config,
		client: &http.Client{Timeout: config.RequestTimeout},
	}
}

// Model returns the configured model.
func (b *Brain) Model() string {
	return b.config.Model
}

// MaxTokens returns the configured output token limit.
func (b *Brain) MaxTokens() int {
	return b.config.MaxTokens
}

// Infer runs one inference, retrying retryable failures with exponential
// backoff.
func (b *Brain) Infer(ctx context.Context, req Request) (*Response, error) {
	log := logger.Get(ctx)
	start := time.Now()

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, retryable, err := b.send(ctx, req)
		if err == nil {
			log.Info("Inference completed",
				zap.String("model", resp.Model),
				zap.String("stopReason", resp.StopReason),
				zap.Int("inputTokens", resp.Usage.InputTokens),
				zap.Int("outputTokens", resp.Usage.OutputTokens),
				zap.Duration("latency", time.Since(start)),
				zap.Int("attempt", attempt+1))
			return resp, nil
		}
		if !retryable {
			return nil, err
		}

		lastErr = err
		if attempt >= b.config.MaxRetries {
			break
		}

		delay := min(b.config.RetryBaseDelay<<attempt, 30*time.Second)
		log.Warn("Inference failed, retrying",
			zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		case <-time.After(delay):
		}
	}

	return nil, errors.Wrapf(ErrExhausted, "last error: %s", lastErr)
}

func (b *Brain) send(ctx context.Context, req Request) (*Response, bool, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, false, errors.WithStack(err)
	}

	url := strings.TrimSuffix(b.config.Endpoint, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, errors.WithStack(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.config.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		// Transport failures are worth retrying.
		return nil, true, errors.WithStack(err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, true, errors.WithStack(err)
	}

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		resp := &Response{}
		if err := json.Unmarshal(respBody, resp); err != nil {
			return nil, false, errors.Wrap(err, "decoding inference response")
		}
		return resp, false, nil
	case httpResp.StatusCode == http.StatusUnauthorized:
		return nil, false, errors.Wrapf(ErrAuthentication, "%s", respBody)
	case httpResp.StatusCode == http.StatusBadRequest:
		return nil, false, errors.Wrapf(ErrInvalidRequest, "%s", respBody)
	case httpResp.StatusCode >= 500:
		return nil, true, errors.Errorf("backend error: HTTP %d: %s", httpResp.StatusCode, respBody)
	default:
		return nil, false, errors.Errorf("HTTP %d: %s", httpResp.StatusCode, respBody)
	}
}
