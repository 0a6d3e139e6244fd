package globus

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"flowrunner/flows"
)

// expiryLeeway treats tokens about to expire as already expired.
const expiryLeeway = 30 * time.Second

// TokenStore maps scopes and resource servers to bearer tokens. It is passed explicitly to
// every client; there is no process-wide token cache.
type TokenStore struct {
	byScope          map[string]*Grant
	byResourceServer map[string]*Grant
	now              func() time.Time
}

// Grant is a token together with what it was issued for.
type Grant struct {
	ResourceServer string
	Scopes         []string
	Token          *oauth2.Token
}

func NewTokenStore() *TokenStore {
	return &TokenStore{
		byScope:          make(map[string]*Grant),
		byResourceServer: make(map[string]*Grant),
		now:              time.Now,
	}
}

// Add registers token for resourceServer and every scope in scopes.
func (s *TokenStore) Add(resourceServer string, scopes []string, token *oauth2.Token) {
	grant := &Grant{ResourceServer: resourceServer, Scopes: scopes, Token: token}
	if resourceServer != "" {
		s.byResourceServer[resourceServer] = grant
	}
	for _, scope := range scopes {
		s.byScope[scope] = grant
	}
}

// Token returns a valid token for scope, falling back to a resource-server match.
func (s *TokenStore) Token(scope string) (*oauth2.Token, error) {
	grant, ok := s.byScope[scope]
	if !ok {
		grant, ok = s.byResourceServer[scope]
	}
	if !ok || grant.Token == nil || grant.Token.AccessToken == "" {
		return nil, flows.Authorizationf("no credential for scope %s; run login and consent to it", scope)
	}
	if expiry := grant.Token.Expiry; !expiry.IsZero() && !s.now().Add(expiryLeeway).Before(expiry) {
		return nil, flows.Authorizationf("credential for scope %s expired at %s; run login again", scope, expiry.Format(time.RFC3339))
	}
	return grant.Token, nil
}

// Grants returns the distinct grants ordered by resource server.
func (s *TokenStore) Grants() []*Grant {
	seen := make(map[*Grant]bool)
	var out []*Grant
	for _, grant := range s.byScope {
		if !seen[grant] {
			seen[grant] = true
			out = append(out, grant)
		}
	}
	for _, grant := range s.byResourceServer {
		if !seen[grant] {
			seen[grant] = true
			out = append(out, grant)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ResourceServer < out[j].ResourceServer
	})
	return out
}

// Len is the number of distinct grants.
func (s *TokenStore) Len() int {
	return len(s.Grants())
}

func splitScopes(scope string) []string {
	return strings.Fields(scope)
}
