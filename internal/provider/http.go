package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPProvider is the generic REST adapter used when no provider-specific
// SDK integration is plugged in. Initialize verifies the endpoint is
// reachable; HealthCheck probes the provider's health path.
type HTTPProvider struct {
	logger *zap.Logger
	name   string

	baseURL    string
	healthPath string
	apiKey     string
	client     *http.Client
}

// NewHTTPProvider builds a REST adapter from static config.
func NewHTTPProvider(config Config, logger *zap.Logger) (*HTTPProvider, error) {
	config = config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("provider %s: base_url is required", config.Name)
	}

	return &HTTPProvider{
		logger:     logger,
		name:       config.Name,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		healthPath: "/health",
		apiKey:     config.APIKey,
		client:     &http.Client{Timeout: config.Timeout},
	}, nil
}

// SetHealthPath overrides the default /health probe path.
func (p *HTTPProvider) SetHealthPath(path string) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	p.healthPath = path
}

func (p *HTTPProvider) Name() string { return p.name }

// Initialize re-establishes the provider session. For the REST adapter
// this is a reachability probe; SDK adapters renew tokens here.
func (p *HTTPProvider) Initialize(ctx context.Context, config Config) error {
	if config.Timeout > 0 {
		p.client.Timeout = config.Timeout
	}
	if err := p.probe(ctx); err != nil {
		return fmt.Errorf("initialize %s: %w", p.name, err)
	}
	p.logger.Debug("Provider session established", zap.String("provider", p.name))
	return nil
}

func (p *HTTPProvider) HealthCheck(ctx context.Context) error {
	return p.probe(ctx)
}

func (p *HTTPProvider) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+p.healthPath, nil)
	if err != nil {
		return err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s returned %d", p.baseURL+p.healthPath, resp.StatusCode)
	}

	p.logger.Debug("Provider probe",
		zap.String("provider", p.name),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
