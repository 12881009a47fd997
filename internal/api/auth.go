package api

import (
	"context"
	"fmt"
	"net/url"
)

// TokenResponse is the body of a successful token exchange.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
}

// Token exchanges credentials using the password grant. Invalid
// credentials surface as ErrUnauthorized or a 400 StatusError depending on
// the backend. A 401 here clears any stored token but never redirects.
func (c *Client) Token(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", username)
	form.Set("password", password)

	var resp TokenResponse
	if err := c.PostForm(ctx, c.authPath, form, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("api: token response without access_token")
	}
	return resp.AccessToken, nil
}
