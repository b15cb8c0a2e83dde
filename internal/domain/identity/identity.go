package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
)

// Principal is the authenticated owner every piece of stored data is
// scoped to. All domain operations take it as an explicit parameter;
// nothing in this service reads an owner out of ambient state.
type Principal struct {
	ID string
}

func (p Principal) Valid() bool {
	return p.ID != ""
}

var ErrUnauthenticated = errors.New("identity: unauthenticated")

// Resolver turns request credentials into a Principal. The HTTP layer
// is the only caller; domain code receives the already-resolved value.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (Principal, error)
}

// TokenResolver maps static bearer tokens to principal IDs. Production
// deployments sit behind a gateway that issues these tokens; the
// service itself never mints identities.
type TokenResolver struct {
	tokens map[string]string
}

// NewTokenResolver parses a "token1:user1,token2:user2" mapping.
func NewTokenResolver(mapping string) *TokenResolver {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(mapping, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		tokens[parts[0]] = parts[1]
	}
	return &TokenResolver{tokens: tokens}
}

func (r *TokenResolver) Resolve(_ context.Context, credential string) (Principal, error) {
	if credential == "" {
		return Principal{}, ErrUnauthenticated
	}
	for token, owner := range r.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(credential)) == 1 {
			return Principal{ID: owner}, nil
		}
	}
	return Principal{}, ErrUnauthenticated
}

// HeaderResolver trusts an upstream-injected owner header. Intended
// for deployments where an authenticating proxy terminates user auth.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(_ context.Context, credential string) (Principal, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Principal{}, ErrUnauthenticated
	}
	return Principal{ID: credential}, nil
}
