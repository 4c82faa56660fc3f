package zoho

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

const tokenURL = "https://accounts.zoho.com/oauth/v2/token"

// TokenProvider yields a live access token, refreshing it transparently when
// expired or absent.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Auth exchanges a long-lived Zoho refresh token for short-lived access
// tokens. The oauth2 ReuseTokenSource caches the token until expiry and
// serializes refreshes, so concurrent callers share a single in-flight
// refresh.
type Auth struct {
	ts oauth2.TokenSource
}

func NewAuth(clientID, clientSecret, refreshToken string) *Auth {
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ts := conf.TokenSource(context.Background(), &oauth2.Token{RefreshToken: refreshToken})
	return &Auth{ts: ts}
}

// Token returns a valid access token, refreshing if needed.
func (a *Auth) Token(ctx context.Context) (string, error) {
	tok, err := a.ts.Token()
	if err != nil {
		return "", fmt.Errorf("failed to refresh access token: %w", err)
	}
	return tok.AccessToken, nil
}
