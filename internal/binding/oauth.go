package binding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/mfateev/codemode-sandbox/internal/vault"
)

// oauthCredential is the vault.Credential.Data shape for kind "oauth_token".
type oauthCredential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

// NewOAuthHTTPClientFactory returns a Factory that wraps an *http.Client's
// Transport in an oauth2.Transport sourced from the binding's stored
// credential. The access token is never observable to the isolate: the
// isolate only ever sees the binding name and method results, per
// spec.md §8 Invariant 2.
func NewOAuthHTTPClientFactory() Factory {
	return func(cred vault.Credential) (any, error) {
		var oc oauthCredential
		if err := json.Unmarshal(cred.Data, &oc); err != nil {
			return nil, fmt.Errorf("decode oauth credential: %w", err)
		}
		tokenType := oc.TokenType
		if tokenType == "" {
			tokenType = "Bearer"
		}
		src := oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken:  oc.AccessToken,
			RefreshToken: oc.RefreshToken,
			TokenType:    tokenType,
		})
		return &http.Client{
			Transport: &oauth2.Transport{
				Source: oauth2.ReuseTokenSource(nil, src),
			},
		}, nil
	}
}

// HTTPBindingClient is a minimal method set exposed to bindings of kind
// "http": Get/Post, returning JSON-serializable responses rather than the
// raw *http.Response the isolate must never see.
type HTTPBindingClient struct {
	Client  *http.Client
	BaseURL string
}

// Get performs an authenticated GET against BaseURL+path.
func (c *HTTPBindingClient) Get(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Post performs an authenticated POST against BaseURL+path with a JSON body.
func (c *HTTPBindingClient) Post(ctx context.Context, path string, body map[string]any) (map[string]any, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *HTTPBindingClient) do(req *http.Request) (map[string]any, error) {
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return map[string]any{"status": resp.StatusCode}, nil
}
