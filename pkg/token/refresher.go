package token

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// OAuthRefresher refreshes tokens against Config.Endpoint.TokenURL.
type OAuthRefresher struct {
	Config *oauth2.Config
	// HTTPClient is used for the token request when set.
	HTTPClient *http.Client
}

func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if r.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTPClient)
	}
	// A token carrying only a refresh token is never valid, so Token()
	// always hits the endpoint.
	return r.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}
