package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/gosuda/chatgate/internal/domain"
)

const maxResponseBytes = 1 << 20

// HTTPConfig configures the upstream model endpoint.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration

	// OAuth2 client credentials; token fetching is skipped when TokenURL is empty.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// RequestsPerSecond throttles upstream calls across all sessions; zero disables it.
	RequestsPerSecond float64
	Burst             int
}

type httpRequest struct {
	SessionID string `json:"session_id"`
	User      string `json:"user"`
	Account   string `json:"account,omitempty"`
	Asset     string `json:"asset"`
	Command   string `json:"command"`
}

type httpResponse struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// HTTPExecutor forwards authorized commands to an upstream HTTP endpoint.
type HTTPExecutor struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPExecutor builds an executor. ctx scopes the OAuth2 token source.
func NewHTTPExecutor(ctx context.Context, cfg HTTPConfig) *HTTPExecutor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	if cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		client = cc.Client(ctx)
		client.Timeout = timeout
	}

	e := &HTTPExecutor{url: cfg.URL, client: client}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return e
}

func (e *HTTPExecutor) Execute(ctx context.Context, s *domain.Session, command string) (string, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("executor.HTTPExecutor.Execute: rate limit: %w", err)
		}
	}

	body, err := json.Marshal(httpRequest{
		SessionID: s.ID.String(),
		User:      s.UserRef,
		Account:   s.AccountRef,
		Asset:     s.AssetRef,
		Command:   command,
	})
	if err != nil {
		return "", fmt.Errorf("executor.HTTPExecutor.Execute: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("executor.HTTPExecutor.Execute: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("executor.HTTPExecutor.Execute: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("executor.HTTPExecutor.Execute: read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("executor.HTTPExecutor.Execute: upstream status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out httpResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("executor.HTTPExecutor.Execute: decode: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("executor.HTTPExecutor.Execute: upstream: %s", out.Error)
	}

	return out.Output, nil
}
