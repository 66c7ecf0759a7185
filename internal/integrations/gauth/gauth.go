// Package gauth builds Google API HTTP clients from service-account keys.
package gauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2/google"
)

// HTTPClient returns an OAuth2 client authorised as the service account in
// credentialsJSON for scopes.
func HTTPClient(ctx context.Context, credentialsJSON []byte, scopes ...string) (*http.Client, error) {
	if len(credentialsJSON) == 0 {
		return nil, errors.New("gauth: service account credentials are empty")
	}
	if len(scopes) == 0 {
		return nil, errors.New("gauth: at least one scope is required")
	}
	cfg, err := google.JWTConfigFromJSON(credentialsJSON, scopes...)
	if err != nil {
		return nil, fmt.Errorf("gauth: parse service account: %w", err)
	}
	return cfg.Client(ctx), nil
}
