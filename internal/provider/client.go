package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/config"
)

// GenerateRequest is the payload handed to the image-generation provider.
type GenerateRequest struct {
	ImageURL string `json:"image_url"`
	StyleID  string `json:"style_id"`
}

// GenerateResult is the provider's terminal answer for one job.
type GenerateResult struct {
	OutputURLs []string `json:"output_urls"`
}

// Client is the outbound contract to the image-generation provider. The
// call is synchronous from the dispatcher's point of view; the HTTP
// implementation enforces the configured job timeout.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
	config     *config.ProviderConfig
}

func NewHTTPClient(cfg *config.ProviderConfig, logger *logrus.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.JobTimeout,
		},
		logger: logger,
		config: cfg,
	}
}

func (c *HTTPClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provider request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.JobTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.WithFields(logrus.Fields{
			"status":   resp.StatusCode,
			"style_id": req.StyleID,
		}).Warn("Provider returned non-OK status")
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var result GenerateResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}

	if len(result.OutputURLs) == 0 {
		return nil, fmt.Errorf("provider returned no outputs")
	}

	return &result, nil
}
