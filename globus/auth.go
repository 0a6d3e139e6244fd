package globus

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"flowrunner/flows"
)

// Identity is the user a credential belongs to.
type Identity struct {
	Sub               string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	Name              string `json:"name,omitempty"`
}

// AuthClient runs the native-app consent flow and resolves identities.
type AuthClient struct {
	config   *oauth2.Config
	verifier string
	rest     *restClient
}

// NewAuthClient prepares a PKCE consent flow for clientID requesting scopes.
func NewAuthClient(authURL, clientID string, scopes []string, tokens *TokenStore, opts ...Option) *AuthClient {
	rest := newRestClient(authURL, tokens, opts)
	return &AuthClient{
		config: &oauth2.Config{
			ClientID:    clientID,
			RedirectURL: NativeRedirectURL,
			Scopes:      scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   rest.baseURL + "/v2/oauth2/authorize",
				TokenURL:  rest.baseURL + "/v2/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		verifier: oauth2.GenerateVerifier(),
		rest:     rest,
	}
}

// AuthorizeURL is the URL the user opens to consent; it shows a code to paste back.
func (a *AuthClient) AuthorizeURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(a.verifier))
}

// Exchange trades the pasted code for tokens, one per resource server.
func (a *AuthClient) Exchange(ctx context.Context, code string) (*TokenStore, error) {
	if code == "" {
		return nil, flows.Validationf("authorization code is empty")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.rest.http)
	token, err := a.config.Exchange(ctx, code, oauth2.VerifierOption(a.verifier))
	if err != nil {
		return nil, flows.Authorizationf("failed to exchange authorization code").WithCause(err)
	}

	store := NewTokenStore()
	resourceServer, _ := token.Extra("resource_server").(string)
	scope, _ := token.Extra("scope").(string)
	store.Add(resourceServer, splitScopes(scope), token)

	others, _ := token.Extra("other_tokens").([]any)
	for _, item := range others {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		other := &oauth2.Token{TokenType: "Bearer"}
		other.AccessToken, _ = raw["access_token"].(string)
		other.RefreshToken, _ = raw["refresh_token"].(string)
		if expiresIn, ok := raw["expires_in"].(float64); ok && expiresIn > 0 {
			other.Expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
		}
		otherServer, _ := raw["resource_server"].(string)
		otherScope, _ := raw["scope"].(string)
		store.Add(otherServer, splitScopes(otherScope), other)
	}
	return store, nil
}

// UseTokens replaces the store used by Identity, typically with the result of Exchange.
func (a *AuthClient) UseTokens(tokens *TokenStore) {
	a.rest.tokens = tokens
}

// Identity resolves the credential held for the openid scope to a user record.
func (a *AuthClient) Identity(ctx context.Context) (*Identity, error) {
	identity := &Identity{}
	if err := a.rest.do(ctx, http.MethodGet, "/v2/oauth2/userinfo", nil, OpenIDScope, nil, identity); err != nil {
		return nil, err
	}
	if identity.Sub == "" {
		return nil, flows.NotFoundf("userinfo returned no subject")
	}
	return identity, nil
}
