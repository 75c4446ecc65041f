// Package normalize turns raw scraped text into structured product fields
// through an LLM chat completion API with OAuth-style access tokens.
package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"bank-products/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrUnavailable means the gateway cannot serve any request, e.g. the token
// endpoint rejected the credentials. Callers fall back to regex extraction.
var ErrUnavailable = errors.New("normalization gateway unavailable")

// tokenLeeway renews the access token this long before it expires.
const tokenLeeway = 60 * time.Second

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"` // unix milliseconds
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Gateway is the single owner of the shared access token. One call is in
// flight at a time and calls are spaced by a rate limiter.
type Gateway struct {
	cfg     config.LLMConfig
	client  *resty.Client
	limiter *rate.Limiter
	log     *logrus.Logger
	now     func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewGateway(cfg config.LLMConfig, log *logrus.Logger) *Gateway {
	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Accept", "application/json")

	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 1
	}
	return &Gateway{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log,
		now:     time.Now,
	}
}

// Complete sends one chat completion and returns the assistant message content.
// A 401 drops the cached token and retries once with a fresh one.
func (g *Gateway) Complete(ctx context.Context, messages []Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body := completionRequest{Model: g.cfg.Model, Messages: messages, Temperature: 0.1}
	for attempt := 0; attempt < 2; attempt++ {
		token, err := g.accessToken(ctx)
		if err != nil {
			return "", err
		}

		resp, err := g.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(body).
			Post(strings.TrimRight(g.cfg.BaseURL, "/") + "/chat/completions")
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		if resp.StatusCode() == http.StatusUnauthorized {
			g.token = ""
			if attempt == 0 {
				g.log.Debug("Access token rejected, renewing")
				continue
			}
			return "", fmt.Errorf("%w: completion unauthorized after token renewal", ErrUnavailable)
		}
		if resp.IsError() {
			return "", fmt.Errorf("chat completion: status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
		}

		var out completionResponse
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return "", fmt.Errorf("decode completion: %w", err)
		}
		if len(out.Choices) == 0 {
			return "", errors.New("chat completion returned no choices")
		}
		return out.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("%w: completion unauthorized", ErrUnavailable)
}

// accessToken must be called with g.mu held.
func (g *Gateway) accessToken(ctx context.Context) (string, error) {
	if g.token != "" && g.now().Add(tokenLeeway).Before(g.expiresAt) {
		return g.token, nil
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Basic "+g.cfg.AuthKey).
		SetHeader("RqUID", uuid.NewString()).
		SetFormData(map[string]string{"scope": g.cfg.Scope}).
		Post(g.cfg.AuthURL)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: token request: status %d", ErrUnavailable, resp.StatusCode())
	}

	var tok tokenResponse
	if err := json.Unmarshal(resp.Body(), &tok); err != nil || tok.AccessToken == "" {
		return "", fmt.Errorf("%w: malformed token response", ErrUnavailable)
	}
	g.token = tok.AccessToken
	g.expiresAt = time.UnixMilli(tok.ExpiresAt)
	g.log.WithField("expires_at", g.expiresAt.Format(time.RFC3339)).Debug("Obtained gateway access token")
	return g.token, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
