package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowcanvas/authcore/internal/auth/domain"
	"github.com/flowcanvas/authcore/internal/auth/store"
	"github.com/flowcanvas/authcore/pkg/cryptox"
)

// stateKeyPrefix namespaces OAuth state records in the shared store.
const stateKeyPrefix = "oauthstate/"

// DefaultStateTTL bounds how long an authorization redirect may stay
// outstanding before the callback arrives.
const DefaultStateTTL = 10 * time.Minute

// StateRecord is what gets stored against an opaque state string between
// generating the authorization URL and handling the callback.
type StateRecord struct {
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	Correlation  string    `json:"correlation,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreatedState is returned by Create: the opaque state plus the PKCE pair
// for building the authorization URL. Only the challenge may leave the
// server; the verifier stays in the record.
type CreatedState struct {
	State         string
	Nonce         string
	CodeVerifier  string
	CodeChallenge string
}

// OAuthStateStore generates and single-use-validates state/nonce pairs for
// the authorization-code flow.
type OAuthStateStore struct {
	KV  store.Store
	TTL time.Duration
	Now func() time.Time
}

// NewOAuthStateStore builds a state store with the default TTL.
func NewOAuthStateStore(kv store.Store) *OAuthStateStore {
	return &OAuthStateStore{KV: kv, TTL: DefaultStateTTL}
}

// Create generates a fresh state, nonce, and PKCE pair and stores the
// record under the state with a bounded TTL.
func (s *OAuthStateStore) Create(ctx context.Context, correlation string) (*CreatedState, error) {
	state, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}
	nonce, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return nil, err
	}
	pkce, err := cryptox.GeneratePKCE()
	if err != nil {
		return nil, err
	}

	record, err := json.Marshal(StateRecord{
		Nonce:        nonce,
		CodeVerifier: pkce.Verifier,
		Correlation:  correlation,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("service: marshal state record: %w", err)
	}

	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}

	ok, err := s.KV.SetIfAbsent(ctx, stateKeyPrefix+state, record, ttl)
	if err != nil {
		return nil, fmt.Errorf("%w: state store: %v", domain.ErrServiceUnavailable, err)
	}
	if !ok {
		// 256 bits of state colliding means the RNG is broken.
		return nil, errors.New("service: state collision")
	}

	return &CreatedState{
		State:         state,
		Nonce:         nonce,
		CodeVerifier:  pkce.Verifier,
		CodeChallenge: pkce.Challenge,
	}, nil
}

// Consume atomically retrieves and deletes a state record. Never-issued,
// already-consumed, and expired all come back as the same ErrStateNotFound
// so callers (and their timing) can't distinguish which case applied.
func (s *OAuthStateStore) Consume(ctx context.Context, state string) (*StateRecord, error) {
	if state == "" {
		return nil, domain.ErrStateNotFound
	}

	raw, err := s.KV.GetAndDelete(ctx, stateKeyPrefix+state)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrStateNotFound
		}
		return nil, fmt.Errorf("%w: state store: %v", domain.ErrServiceUnavailable, err)
	}

	var record StateRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("service: decode state record: %w", err)
	}

	return &record, nil
}

func (s *OAuthStateStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
