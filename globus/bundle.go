package globus

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/viant/scy"
	"golang.org/x/oauth2"

	"flowrunner/flows"
)

// BundleSource says where the pre-provisioned credential bundle comes from.
type BundleSource struct {
	// Data is the bundle itself, base64 encoded or plain JSON (GLOBUS_DATA).
	Data string
	// URL locates the bundle for scy (file, mem, gs, s3 ...); Key optionally decrypts it.
	URL string
	Key string
}

type bundleEntry struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	Scope            string `json:"scope"`
	ResourceServer   string `json:"resource_server"`
	ExpiresAtSeconds int64  `json:"expires_at_seconds,omitempty"`
	ExpiresIn        int64  `json:"expires_in,omitempty"`
}

type bundleDocument struct {
	Tokens map[string]bundleEntry `json:"tokens"`
}

type tokenResponse struct {
	bundleEntry
	OtherTokens []bundleEntry `json:"other_tokens"`
}

// LoadBundle reads the credential bundle. A missing bundle is a configuration error.
func LoadBundle(ctx context.Context, source BundleSource) (*TokenStore, error) {
	switch {
	case source.Data != "":
		data, err := decodeData(source.Data)
		if err != nil {
			return nil, flows.Configf("credential bundle is neither JSON nor base64").WithCause(err)
		}
		return DecodeBundle(data)
	case source.URL != "":
		resource := scy.NewResource(nil, source.URL, source.Key)
		secret, err := scy.New().Load(ctx, resource)
		if err != nil {
			return nil, flows.Configf("failed to load credential bundle from %s", source.URL).WithCause(err)
		}
		return DecodeBundle([]byte(secret.String()))
	default:
		return nil, flows.Configf("no credential bundle: set GLOBUS_DATA or GLOBUS_TOKENS_URL, or run login")
	}
}

func decodeData(data string) ([]byte, error) {
	trimmed := strings.TrimSpace(data)
	if strings.HasPrefix(trimmed, "{") {
		return []byte(trimmed), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return base64.RawURLEncoding.DecodeString(strings.TrimRight(trimmed, "="))
	}
	return decoded, nil
}

// DecodeBundle accepts {"tokens": {rs: token}}, a bare {rs: token} map, or a Globus Auth
// token response with other_tokens.
func DecodeBundle(data []byte) (*TokenStore, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, flows.Configf("failed to decode credential bundle").WithCause(err)
	}

	var entries map[string]bundleEntry
	switch {
	case probe["tokens"] != nil:
		var doc bundleDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, flows.Configf("failed to decode credential bundle").WithCause(err)
		}
		entries = doc.Tokens
	case probe["access_token"] != nil:
		var response tokenResponse
		if err := json.Unmarshal(data, &response); err != nil {
			return nil, flows.Configf("failed to decode token response").WithCause(err)
		}
		entries = map[string]bundleEntry{response.ResourceServer: response.bundleEntry}
		for _, other := range response.OtherTokens {
			entries[other.ResourceServer] = other
		}
	default:
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, flows.Configf("failed to decode credential bundle").WithCause(err)
		}
	}

	store := NewTokenStore()
	for key, entry := range entries {
		if entry.AccessToken == "" {
			continue
		}
		resourceServer := entry.ResourceServer
		if resourceServer == "" {
			resourceServer = key
		}
		store.Add(resourceServer, splitScopes(entry.Scope), entry.token())
	}
	if store.Len() == 0 {
		return nil, flows.Configf("credential bundle holds no tokens")
	}
	return store, nil
}

func (e bundleEntry) token() *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  e.AccessToken,
		RefreshToken: e.RefreshToken,
		TokenType:    e.TokenType,
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	switch {
	case e.ExpiresAtSeconds > 0:
		token.Expiry = time.Unix(e.ExpiresAtSeconds, 0)
	case e.ExpiresIn > 0:
		token.Expiry = time.Now().Add(time.Duration(e.ExpiresIn) * time.Second)
	}
	return token
}

// EncodeBundle serialises store in the {"tokens": {...}} form understood by DecodeBundle.
func EncodeBundle(store *TokenStore) ([]byte, error) {
	doc := bundleDocument{Tokens: make(map[string]bundleEntry)}
	for _, grant := range store.Grants() {
		entry := bundleEntry{
			AccessToken:    grant.Token.AccessToken,
			RefreshToken:   grant.Token.RefreshToken,
			TokenType:      grant.Token.TokenType,
			Scope:          strings.Join(grant.Scopes, " "),
			ResourceServer: grant.ResourceServer,
		}
		if !grant.Token.Expiry.IsZero() {
			entry.ExpiresAtSeconds = grant.Token.Expiry.Unix()
		}
		doc.Tokens[grant.ResourceServer] = entry
	}
	return json.MarshalIndent(doc, "", "  ")
}
