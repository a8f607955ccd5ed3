package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gogithub "github.com/google/go-github/v62/github"
)

// Credentials authenticate both git transport and REST API calls
type Credentials interface {
	// Token returns the secret used as the HTTPS git password
	Token(ctx context.Context) (string, error)
	// Username pairs with Token for HTTPS basic auth
	Username() string
	// Transport wraps base with API authentication
	Transport(base http.RoundTripper) http.RoundTripper
}

// AppAuth provides GitHub App installation authentication
type AppAuth struct {
	transport *ghinstallation.Transport
	mu        sync.RWMutex
}

// NewAppAuth creates a new GitHub App authenticator
func NewAppAuth(appID int64, privateKey []byte, installationID int64) (*AppAuth, error) {
	transport, err := ghinstallation.New(
		http.DefaultTransport,
		appID,
		installationID,
		privateKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub App transport: %w", err)
	}

	return &AppAuth{
		transport: transport,
	}, nil
}

// Token returns a valid installation access token
// Tokens are automatically refreshed by ghinstallation when expired
func (a *AppAuth) Token(ctx context.Context) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	token, err := a.transport.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get installation token: %w", err)
	}

	return token, nil
}

// Username is the fixed user GitHub expects with installation tokens
func (a *AppAuth) Username() string { return "x-access-token" }

// Transport returns the installation transport. Its base transport is
// fixed at construction.
func (a *AppAuth) Transport(http.RoundTripper) http.RoundTripper {
	return a.transport
}

// UserToken authenticates as a user with a personal access token
type UserToken struct {
	User   string
	Secret string
}

// NewUserToken validates and wraps user credentials
func NewUserToken(user, token string) (*UserToken, error) {
	if user == "" || token == "" {
		return nil, errors.New("missing user credentials (name or token)")
	}
	return &UserToken{User: user, Secret: token}, nil
}

func (u *UserToken) Token(context.Context) (string, error) { return u.Secret, nil }

func (u *UserToken) Username() string { return u.User }

// Transport sends the user and token as basic auth on every request
func (u *UserToken) Transport(base http.RoundTripper) http.RoundTripper {
	return &gogithub.BasicAuthTransport{Username: u.User, Password: u.Secret, Transport: base}
}
