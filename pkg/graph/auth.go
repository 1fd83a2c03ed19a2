package graph

import (
	"context"
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultAuthority = "https://login.microsoftonline.com"
	graphScope       = "https://graph.microsoft.com/.default"
)

// Credentials selects how requests are authorized. AccessToken wins over
// the client credentials flow when both are set.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	AccessToken  string
	// Authority overrides the login endpoint, mainly for tests.
	Authority string
}

// TokenSource returns a token source for the configured credentials.
func (c Credentials) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	if c.AccessToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: c.AccessToken,
			TokenType:   "Bearer",
		}), nil
	}

	if c.TenantID == "" || c.ClientID == "" || c.ClientSecret == "" {
		return nil, pkgerrors.New("either an access token or tenant id, client id and client secret are required")
	}

	authority := c.Authority
	if authority == "" {
		authority = defaultAuthority
	}

	cfg := clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(authority, "/"), c.TenantID),
		Scopes:       []string{graphScope},
	}

	return cfg.TokenSource(ctx), nil
}
