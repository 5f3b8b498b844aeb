package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/flowcanvas/authcore/internal/auth/domain"
	"github.com/flowcanvas/authcore/pkg/cryptox"
)

func newExchangeFixture(t *testing.T) *OAuthExchangeCoordinator {
	t.Helper()
	clock := newFakeClock()
	states := NewOAuthStateStore(newMemStore(clock))
	states.Now = clock.Now

	return &OAuthExchangeCoordinator{
		States:         states,
		Client:         &http.Client{},
		Limiter:        rate.NewLimiter(rate.Inf, 1),
		MaxTries:       3,
		InitialBackoff: time.Millisecond,
		RequestTimeout: 2 * time.Second,
	}
}

func testProvider(srvURL string) ProviderConfig {
	return ProviderConfig{
		Name:         "acme",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURL:  "https://app.example/callback",
		Scopes:       []string{"openid", "email"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  srvURL + "/authorize",
			TokenURL: srvURL + "/token",
		},
		RevokeURL: srvURL + "/revoke",
	}
}

func TestGenerateAuthorizationURL(t *testing.T) {
	coord := newExchangeFixture(t)
	provider := testProvider("https://provider.example")
	ctx := context.Background()

	rawURL, err := coord.GenerateAuthorizationURL(ctx, provider, "flow-1")
	require.NoError(t, err)

	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	require.Equal(t, "/authorize", u.Path)

	q := u.Query()
	require.Equal(t, "client-1", q.Get("client_id"))
	require.Equal(t, "https://app.example/callback", q.Get("redirect_uri"))
	require.Equal(t, "openid email", q.Get("scope"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("state"))
	require.NotEmpty(t, q.Get("nonce"))

	// The URL carries only the challenge; the verifier stays server-side
	// and must hash to it.
	record, err := coord.States.Consume(ctx, q.Get("state"))
	require.NoError(t, err)
	require.Equal(t, q.Get("nonce"), record.Nonce)
	require.True(t, cryptox.VerifyPKCE(q.Get("code_challenge"), record.CodeVerifier))
	require.NotContains(t, rawURL, record.CodeVerifier)
}

func TestGenerateAuthorizationURLBadProvider(t *testing.T) {
	coord := newExchangeFixture(t)

	_, err := coord.GenerateAuthorizationURL(context.Background(), ProviderConfig{Name: "x"}, "")
	require.ErrorContains(t, err, "client id")
}

func TestExchangeSuccess(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"bearer","scope":"openid","expires_in":3600}`))
	}))
	defer srv.Close()

	coord := newExchangeFixture(t)
	provider := testProvider(srv.URL)
	ctx := context.Background()

	created, err := coord.States.Create(ctx, "flow-1")
	require.NoError(t, err)

	tokens, err := coord.Exchange(ctx, provider, "auth-code-1", created.State)
	require.NoError(t, err)
	require.Equal(t, "at-1", tokens.AccessToken)
	require.Equal(t, "rt-1", tokens.RefreshToken)
	require.Equal(t, "bearer", tokens.TokenType)
	require.Equal(t, int64(3600), tokens.ExpiresIn)

	require.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	require.Equal(t, "auth-code-1", gotForm.Get("code"))
	require.Equal(t, "client-1", gotForm.Get("client_id"))
	require.Equal(t, "secret-1", gotForm.Get("client_secret"))
	require.Equal(t, created.CodeVerifier, gotForm.Get("code_verifier"))
	require.Equal(t, "https://app.example/callback", gotForm.Get("redirect_uri"))

	// State is single use even after a successful exchange.
	_, err = coord.Exchange(ctx, provider, "auth-code-1", created.State)
	require.ErrorIs(t, err, domain.ErrStateNotFound)
}

func TestExchangeRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"access_token":"at-1"}`))
	}))
	defer srv.Close()

	coord := newExchangeFixture(t)
	ctx := context.Background()

	created, err := coord.States.Create(ctx, "")
	require.NoError(t, err)

	tokens, err := coord.Exchange(ctx, testProvider(srv.URL), "code", created.State)
	require.NoError(t, err)
	require.Equal(t, "at-1", tokens.AccessToken)
	require.Equal(t, int32(3), calls.Load())
}

func TestExchangeGivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	coord := newExchangeFixture(t)
	ctx := context.Background()

	created, err := coord.States.Create(ctx, "")
	require.NoError(t, err)

	_, err = coord.Exchange(ctx, testProvider(srv.URL), "code", created.State)
	require.ErrorIs(t, err, domain.ErrExchangeFailed)
	require.Equal(t, int32(3), calls.Load())
}

func TestExchangeRejectionIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	coord := newExchangeFixture(t)
	ctx := context.Background()

	created, err := coord.States.Create(ctx, "")
	require.NoError(t, err)

	_, err = coord.Exchange(ctx, testProvider(srv.URL), "bad-code", created.State)
	require.ErrorIs(t, err, domain.ErrExchangeFailed)

	// A 4xx means the code is bad; retrying cannot fix it.
	require.Equal(t, int32(1), calls.Load())
}

func TestExchangeMissingAccessTokenIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"token_type":"bearer"}`))
	}))
	defer srv.Close()

	coord := newExchangeFixture(t)
	ctx := context.Background()

	created, err := coord.States.Create(ctx, "")
	require.NoError(t, err)

	_, err = coord.Exchange(ctx, testProvider(srv.URL), "code", created.State)
	require.ErrorIs(t, err, domain.ErrExchangeFailed)
	require.Equal(t, int32(1), calls.Load())
}

func TestExchangeUnknownStateSkipsProviderCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	coord := newExchangeFixture(t)

	_, err := coord.Exchange(context.Background(), testProvider(srv.URL), "code", "forged-state")
	require.ErrorIs(t, err, domain.ErrStateNotFound)
	require.Equal(t, int32(0), calls.Load())
}

func TestExchangeRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	coord := newExchangeFixture(t)
	coord.RequestTimeout = 50 * time.Millisecond
	coord.MaxTries = 1
	ctx := context.Background()

	created, err := coord.States.Create(ctx, "")
	require.NoError(t, err)

	_, err = coord.Exchange(ctx, testProvider(srv.URL), "code", created.State)
	require.ErrorIs(t, err, domain.ErrExchangeFailed)
}

func TestRevokeProviderToken(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
	}))
	defer srv.Close()

	coord := newExchangeFixture(t)
	provider := testProvider(srv.URL)

	require.NoError(t, coord.RevokeProviderToken(context.Background(), provider, "at-1"))
	require.Equal(t, "at-1", gotForm.Get("token"))
	require.Equal(t, "client-1", gotForm.Get("client_id"))

	provider.RevokeURL = ""
	err := coord.RevokeProviderToken(context.Background(), provider, "at-1")
	require.ErrorContains(t, err, "no revocation endpoint")
}

func TestRevokeProviderTokenFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	coord := newExchangeFixture(t)

	err := coord.RevokeProviderToken(context.Background(), testProvider(srv.URL), "at-1")
	require.ErrorContains(t, err, "status=503")
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (a *recordingAuditor) Record(_ context.Context, ev domain.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *recordingAuditor) last(t *testing.T) domain.AuditEvent {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.events)
	return a.events[len(a.events)-1]
}

func TestExchangeAuditSeparatesOutageFromBadState(t *testing.T) {
	clock := newFakeClock()
	kv := newMemStore(clock)
	states := NewOAuthStateStore(kv)
	states.Now = clock.Now

	audit := &recordingAuditor{}
	coord := &OAuthExchangeCoordinator{States: states, Audit: audit}
	provider := testProvider("https://provider.example")
	ctx := context.Background()

	// A state nobody issued is the client's fault.
	_, err := coord.Exchange(ctx, provider, "code", "forged-state")
	require.ErrorIs(t, err, domain.ErrStateNotFound)
	ev := audit.last(t)
	require.Equal(t, domain.AuditOutcomeDenied, ev.Outcome)
	require.Equal(t, domain.ReasonInvalidState, ev.Reason)

	// A store outage is not.
	created, err := states.Create(ctx, "")
	require.NoError(t, err)
	kv.setFailing(true)

	_, err = coord.Exchange(ctx, provider, "code", created.State)
	require.ErrorIs(t, err, domain.ErrServiceUnavailable)
	ev = audit.last(t)
	require.Equal(t, domain.AuditOutcomeError, ev.Outcome)
	require.Empty(t, ev.Reason)
}

func TestProviderConfigValidate(t *testing.T) {
	valid := testProvider("https://provider.example")
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*ProviderConfig)
	}{
		{"missing name", func(p *ProviderConfig) { p.Name = "" }},
		{"missing client id", func(p *ProviderConfig) { p.ClientID = "" }},
		{"missing auth url", func(p *ProviderConfig) { p.Endpoint.AuthURL = "" }},
		{"missing token url", func(p *ProviderConfig) { p.Endpoint.TokenURL = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := testProvider("https://provider.example")
			tc.mutate(&p)
			require.Error(t, p.Validate())
		})
	}
}
