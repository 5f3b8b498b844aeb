package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/flowcanvas/authcore/internal/auth/domain"
	"github.com/flowcanvas/authcore/pkg/slogx"
)

// Exchange defaults. The request timeout bounds each individual provider
// call; the retry policy bounds how many calls we make. Together they cap
// the worst-case callback latency.
const (
	DefaultExchangeTimeout = 10 * time.Second
	DefaultExchangeTries   = 3
	DefaultInitialBackoff  = 250 * time.Millisecond
)

// maxProviderResponseBytes caps how much of a provider response we will
// read. Token responses are small; anything bigger is garbage.
const maxProviderResponseBytes = 1 << 20

// ProviderConfig describes one upstream OAuth provider.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Endpoint     oauth2.Endpoint
	RevokeURL    string
}

// Validate reports configuration problems. These are fatal at startup,
// not recoverable at request time.
func (p ProviderConfig) Validate() error {
	switch {
	case p.Name == "":
		return errors.New("service: provider name is required")
	case p.ClientID == "":
		return errors.New("service: provider client id is required")
	case p.Endpoint.AuthURL == "":
		return errors.New("service: provider authorization endpoint is required")
	case p.Endpoint.TokenURL == "":
		return errors.New("service: provider token endpoint is required")
	}
	return nil
}

// ProviderTokens is the raw token response from a provider. The caller
// owns persisting/encrypting it; this core just hands it over.
type ProviderTokens struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	TokenType    string         `json:"token_type,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	ExpiresIn    int64          `json:"expires_in,omitempty"`
	Raw          map[string]any `json:"-"`
}

// OAuthExchangeCoordinator performs the authorization-code-for-token
// exchange with the upstream provider: state bookkeeping on this side,
// bounded-retry HTTP on the other.
//
// This is the one place third-party tokens pass through the core. Nothing
// here may log the authorization code, the code verifier, or any token
// value.
type OAuthExchangeCoordinator struct {
	States *OAuthStateStore
	Client *http.Client

	// Limiter, when set, throttles outbound provider calls so a burst of
	// callbacks can't trip the provider's own rate limits.
	Limiter *rate.Limiter

	MaxTries       uint
	InitialBackoff time.Duration
	RequestTimeout time.Duration

	Audit Auditor
}

// GenerateAuthorizationURL creates state + PKCE and builds the provider
// authorization URL for the user agent to be redirected to.
func (c *OAuthExchangeCoordinator) GenerateAuthorizationURL(ctx context.Context, provider ProviderConfig, correlation string) (string, error) {
	if err := provider.Validate(); err != nil {
		return "", err
	}

	created, err := c.States.Create(ctx, correlation)
	if err != nil {
		return "", err
	}

	cfg := oauth2.Config{
		ClientID:    provider.ClientID,
		RedirectURL: provider.RedirectURL,
		Scopes:      provider.Scopes,
		Endpoint:    provider.Endpoint,
	}

	authURL := cfg.AuthCodeURL(created.State,
		oauth2.SetAuthURLParam("code_challenge", created.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("nonce", created.Nonce),
	)

	emit(ctx, c.Audit, domain.AuditEvent{
		Action:  domain.AuditOAuthAuthorizeURL,
		Subject: correlation,
		Outcome: domain.AuditOutcomeSuccess,
	})

	return authURL, nil
}

// Exchange consumes the callback state and trades the authorization code
// for provider tokens. State consumption happens first and is
// irreversible: a failed exchange does not resurrect the state.
func (c *OAuthExchangeCoordinator) Exchange(ctx context.Context, provider ProviderConfig, code, state string) (*ProviderTokens, error) {
	if err := provider.Validate(); err != nil {
		return nil, err
	}

	record, err := c.States.Consume(ctx, state)
	if err != nil {
		// A missing state is a client problem; a store outage is ours.
		ev := domain.AuditEvent{
			Action:  domain.AuditOAuthExchange,
			Outcome: domain.AuditOutcomeError,
		}
		if errors.Is(err, domain.ErrStateNotFound) {
			ev.Outcome = domain.AuditOutcomeDenied
			ev.Reason = domain.ReasonInvalidState
		}
		emit(ctx, c.Audit, ev)
		return nil, err
	}

	tokens, err := c.exchangeWithRetry(ctx, provider, code, record.CodeVerifier)
	if err != nil {
		emit(ctx, c.Audit, domain.AuditEvent{
			Action:  domain.AuditOAuthExchange,
			Subject: record.Correlation,
			Outcome: domain.AuditOutcomeError,
		})
		return nil, fmt.Errorf("%w: %v", domain.ErrExchangeFailed, err)
	}

	emit(ctx, c.Audit, domain.AuditEvent{
		Action:  domain.AuditOAuthExchange,
		Subject: record.Correlation,
		Outcome: domain.AuditOutcomeSuccess,
	})

	return tokens, nil
}

// HandleCallback is an alias for Exchange, named for the redirect leg it
// serves.
func (c *OAuthExchangeCoordinator) HandleCallback(ctx context.Context, provider ProviderConfig, code, state string) (*ProviderTokens, error) {
	return c.Exchange(ctx, provider, code, state)
}

// RevokeProviderToken tells the provider to revoke a token it issued.
// Best effort, single attempt; providers without a revocation endpoint
// get an error rather than a silent no-op.
func (c *OAuthExchangeCoordinator) RevokeProviderToken(ctx context.Context, provider ProviderConfig, token string) error {
	if provider.RevokeURL == "" {
		return errors.New("service: provider has no revocation endpoint")
	}

	form := url.Values{}
	form.Set("token", token)
	form.Set("client_id", provider.ClientID)
	if provider.ClientSecret != "" {
		form.Set("client_secret", provider.ClientSecret)
	}

	status, _, err := c.postForm(ctx, provider.RevokeURL, form)
	if err != nil {
		return fmt.Errorf("service: provider revoke: %w", err)
	}
	if status >= 300 {
		return fmt.Errorf("service: provider revoke failed: status=%d", status)
	}

	emit(ctx, c.Audit, domain.AuditEvent{
		Action:  domain.AuditOAuthRevoke,
		Outcome: domain.AuditOutcomeSuccess,
	})

	return nil
}

// exchangeWithRetry retries transient failures (network errors, 5xx) with
// exponential backoff and a bounded try count. Provider rejections (4xx)
// are permanent: retrying a bad code just burns the retry budget.
func (c *OAuthExchangeCoordinator) exchangeWithRetry(ctx context.Context, provider ProviderConfig, code, verifier string) (*ProviderTokens, error) {
	tries := c.MaxTries
	if tries == 0 {
		tries = DefaultExchangeTries
	}

	expBackoff := backoff.NewExponentialBackOff()
	if c.InitialBackoff > 0 {
		expBackoff.InitialInterval = c.InitialBackoff
	} else {
		expBackoff.InitialInterval = DefaultInitialBackoff
	}

	attempt := 0
	operation := func() (*ProviderTokens, error) {
		attempt++
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}

		tokens, err := c.postTokenRequest(ctx, provider, code, verifier)
		if err != nil {
			// Reason only, never the code or verifier.
			slogx.FromContext(ctx).Warn("provider token exchange attempt failed",
				"provider", provider.Name,
				"attempt", attempt,
			)
			return nil, err
		}
		return tokens, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(tries),
	)
}

// postTokenRequest performs one token-endpoint POST.
func (c *OAuthExchangeCoordinator) postTokenRequest(ctx context.Context, provider ProviderConfig, code, verifier string) (*ProviderTokens, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", provider.ClientID)
	if provider.ClientSecret != "" {
		form.Set("client_secret", provider.ClientSecret)
	}
	if provider.RedirectURL != "" {
		form.Set("redirect_uri", provider.RedirectURL)
	}
	if verifier != "" {
		form.Set("code_verifier", verifier)
	}

	status, body, err := c.postForm(ctx, provider.Endpoint.TokenURL, form)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}

	switch {
	case status >= 500:
		return nil, fmt.Errorf("provider error: status=%d", status)
	case status >= 300:
		return nil, backoff.Permanent(fmt.Errorf("provider rejected exchange: status=%d", status))
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode token response: %w", err))
	}

	tokens := &ProviderTokens{
		AccessToken:  stringValue(raw["access_token"]),
		RefreshToken: stringValue(raw["refresh_token"]),
		TokenType:    stringValue(raw["token_type"]),
		Scope:        stringValue(raw["scope"]),
		Raw:          raw,
	}
	if exp, ok := raw["expires_in"].(float64); ok {
		tokens.ExpiresIn = int64(exp)
	}
	if tokens.AccessToken == "" {
		return nil, backoff.Permanent(errors.New("provider response missing access_token"))
	}

	return tokens, nil
}

// postForm performs one form-encoded POST under the request timeout and
// returns the status and (size-capped) body.
func (c *OAuthExchangeCoordinator) postForm(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	timeout := c.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, body, nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
