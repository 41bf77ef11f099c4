// Package auth handles OAuth 2.0 for the Google Calendar backend: loading
// client credentials, the first-run interactive authorization, and keeping
// refreshed tokens saved.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
)

// googleCredentials matches the JSON file downloaded from the Google Cloud
// Console; desktop apps use "installed", others "web".
type googleCredentials struct {
	Installed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"installed"`
	Web struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"web"`
}

// LoadOAuthConfig reads a Google credentials file and builds the OAuth
// config with calendar scopes.
func LoadOAuthConfig(path string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds googleCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	clientID, clientSecret := creds.Installed.ClientID, creds.Installed.ClientSecret
	if clientID == "" {
		clientID, clientSecret = creds.Web.ClientID, creds.Web.ClientSecret
	}
	if clientID == "" {
		return nil, fmt.Errorf("no client_id in credentials file (expected 'installed' or 'web' section)")
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Scopes:       []string{gcal.CalendarScope, gcal.CalendarEventsScope},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}, nil
}

// autoSaveTokenSource wraps an oauth2.TokenSource and persists the token
// whenever a refresh produces a new one.
type autoSaveTokenSource struct {
	source    oauth2.TokenSource
	store     TokenStore
	lastToken *oauth2.Token
}

func (a *autoSaveTokenSource) Token() (*oauth2.Token, error) {
	token, err := a.source.Token()
	if err != nil {
		return nil, err
	}

	if a.lastToken == nil || a.lastToken.AccessToken != token.AccessToken {
		if err := a.store.SaveToken(token); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
		a.lastToken = token
	}

	return token, nil
}

// AuthenticatedClient returns an HTTP client carrying OAuth credentials.
// With no stored token it runs the interactive flow, reading the
// authorization code from codeReader (stdin in the binaries; a buffer in
// tests).
func AuthenticatedClient(ctx context.Context, oauthConfig *oauth2.Config, store TokenStore, codeReader io.Reader) (*http.Client, error) {
	token, err := store.LoadToken()
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	if token == nil {
		authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)

		fmt.Println("Please visit the following URL to authorize the application:")
		fmt.Println(authURL)
		fmt.Print("Enter the authorization code: ")

		var code string
		if _, err := fmt.Fscanln(codeReader, &code); err != nil {
			return nil, fmt.Errorf("failed to read authorization code: %w", err)
		}

		token, err = oauthConfig.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
		}

		if err := store.SaveToken(token); err != nil {
			return nil, fmt.Errorf("failed to save token: %w", err)
		}
	}

	source := &autoSaveTokenSource{
		source:    oauth2.ReuseTokenSource(token, oauthConfig.TokenSource(ctx, token)),
		store:     store,
		lastToken: token,
	}

	return oauth2.NewClient(ctx, source), nil
}
