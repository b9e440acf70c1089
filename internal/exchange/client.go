// Package exchange talks to OAuth provider token endpoints and classifies
// their failures as transient or permanent.
package exchange

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/dtravers/tokenward/internal/config"
)

// Result holds the outcome of a successful refresh-grant exchange.
type Result struct {
	AccessSecret  []byte
	RefreshSecret []byte // empty when the provider did not rotate it
	TokenKind     string
	ExpiresAt     time.Time
}

// Exchanger performs the refresh grant against a provider's token endpoint.
type Exchanger interface {
	Refresh(ctx context.Context, provider string, refreshSecret []byte) (*Result, error)
}

// Client is the production Exchanger backed by golang.org/x/oauth2.
type Client struct {
	providers map[string]config.ProviderConfig
}

// NewClient creates an exchange client for the configured providers.
func NewClient(providers map[string]config.ProviderConfig) *Client {
	return &Client{providers: providers}
}

// Refresh exchanges a refresh secret for fresh token material.
// Unrecoverable failures come back as *PermanentError, everything worth
// retrying as *TransientError.
func (c *Client) Refresh(ctx context.Context, provider string, refreshSecret []byte) (*Result, error) {
	pc, ok := c.providers[provider]
	if !ok {
		return nil, &PermanentError{Reason: "provider not configured: " + provider}
	}

	conf := &oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		Scopes:       pc.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  pc.AuthURL,
			TokenURL: pc.TokenURL,
		},
	}

	seed := &oauth2.Token{
		RefreshToken: string(refreshSecret),
		// Expiry in the past forces the token source to refresh.
		Expiry: time.Now().Add(-time.Hour),
	}

	token, err := conf.TokenSource(ctx, seed).Token()
	if err != nil {
		return nil, classify(err)
	}

	res := &Result{
		AccessSecret: []byte(token.AccessToken),
		TokenKind:    token.TokenType,
		ExpiresAt:    token.Expiry,
	}
	if token.RefreshToken != "" && token.RefreshToken != string(refreshSecret) {
		res.RefreshSecret = []byte(token.RefreshToken)
	}
	return res, nil
}

// classify maps a raw token-endpoint failure onto the transient/permanent
// taxonomy.
func classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		code := retrieveErr.Response.StatusCode
		switch {
		case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout:
			return &TransientError{Err: err}
		case code >= 400 && code < 500:
			// invalid_grant, revoked consent, bad client: the refresh
			// secret is dead, retrying cannot revive it.
			return &PermanentError{Reason: retrieveErr.ErrorCode, Err: err}
		default:
			return &TransientError{Err: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransientError{Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Err: err}
	}

	// Unknown failure shape: assume transient so a flaky provider does not
	// cost users their credentials.
	return &TransientError{Err: err}
}
