// Package googleauth exposes the oauth2.TokenSource-shaped auth
// contract that any concrete Calendar/Gmail/Contacts tool
// implementation needs, without the kernel depending on Google's API
// client libraries itself. Individual tool implementations are
// external collaborators behind a narrow interface; this package is
// that interface's one concrete instance, exercised by cmd/bantzd's
// tool registration. It uses a refresh-token flow rather than a
// per-request login, since a voice assistant's Google access is a
// standing grant configured once.
package googleauth

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes used by the kernel's default Calendar/Gmail/Contacts tool
// registrations.
var Scopes = []string{
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/contacts.readonly",
}

// Config holds the client credentials and standing refresh token for
// one Google account, configured once at process start (an external
// secrets store supplies these values; this package only consumes
// them).
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Scopes       []string
}

// NewTokenSource builds an oauth2.TokenSource that transparently
// refreshes an access token from cfg's standing refresh token. The
// returned source is what a tool implementation's HTTP client wraps via
// oauth2.NewClient; the kernel itself never calls this.
func NewTokenSource(ctx context.Context, cfg Config) (oauth2.TokenSource, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("googleauth: client id and secret are required")
	}
	if cfg.RefreshToken == "" {
		return nil, errors.New("googleauth: refresh token is required")
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = Scopes
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       scopes,
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	return oauthCfg.TokenSource(ctx, token), nil
}

// HTTPClient returns an *http.Client pre-wired to attach a fresh bearer
// token from src to every outgoing request, the shape every Calendar /
// Gmail / Contacts tool implementation's underlying API client expects.
func HTTPClient(ctx context.Context, src oauth2.TokenSource) (*http.Client, error) {
	if src == nil {
		return nil, errors.New("googleauth: nil token source")
	}
	return oauth2.NewClient(ctx, src), nil
}
