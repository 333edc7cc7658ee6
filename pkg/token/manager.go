// Package token exchanges a long-lived refresh token for short-lived Fleet API access tokens.
//
// A [Manager] holds at most one access token. [Manager.ValidToken] returns the held token while it
// is unexpired and performs a synchronous refresh otherwise. Concurrent refreshes are coalesced so
// that at most one request to the authorization server is in flight at any time.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/teslamotors/fleet-mcp/internal/log"
)

const (
	// DefaultTokenURL is Tesla's OAuth token endpoint.
	DefaultTokenURL = "https://auth.tesla.com/oauth2/v3/token"
	// DefaultTimeout bounds each request to the authorization server.
	DefaultTimeout = 30 * time.Second

	maxResponseLength = 100000
)

// DefaultScopes are requested when refreshing unless the Manager is configured otherwise.
var DefaultScopes = []string{"openid", "offline_access", "vehicle_device_data", "vehicle_cmds", "vehicle_charging_cmds"}

// Credentials identify the client application and the user grant.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

func (c *Credentials) validate() error {
	switch {
	case c.ClientID == "":
		return &ConfigError{Field: "client_id"}
	case c.ClientSecret == "":
		return &ConfigError{Field: "client_secret"}
	case c.RefreshToken == "":
		return &ConfigError{Field: "refresh_token"}
	}
	return nil
}

// Store supplies Credentials to a Manager.
type Store interface {
	// Credentials returns the currently configured credentials. Missing values are returned as
	// empty strings; the error is reserved for failures reading the underlying storage.
	Credentials() (Credentials, error)

	// SaveRefreshToken persists a rotated refresh token.
	SaveRefreshToken(refreshToken string) error
}

// Manager owns the access token used by Fleet API clients.
type Manager struct {
	TokenURL string
	Scopes   []string
	Client   *http.Client
	// Now returns the current time. Tests replace it with a synthetic clock.
	Now func() time.Time

	store Store
	group singleflight.Group

	lock  sync.Mutex
	token *oauth2.Token
}

// NewManager returns a Manager that loads credentials from store.
func NewManager(store Store) *Manager {
	return &Manager{
		TokenURL: DefaultTokenURL,
		Scopes:   DefaultScopes,
		Client:   &http.Client{Timeout: DefaultTimeout},
		Now:      time.Now,
		store:    store,
	}
}

// Current returns the held token without checking its expiry, or nil if no token has been
// obtained yet.
func (m *Manager) Current() *oauth2.Token {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.token
}

// SetToken replaces the held access token. It's intended for tools that obtain an access token
// through another grant.
func (m *Manager) SetToken(token *oauth2.Token) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.token = token
}

// ValidToken returns an access token that has not expired at the instant of return.
//
// If no token is held, or the held token expires at or before the current time, ValidToken
// refreshes it first.
func (m *Manager) ValidToken(ctx context.Context) (*oauth2.Token, error) {
	if token := m.unexpired(); token != nil {
		return token, nil
	}
	return m.coalesce(ctx, func(ctx context.Context) (*oauth2.Token, error) {
		// Another caller may have completed a refresh while this one waited.
		if token := m.unexpired(); token != nil {
			return token, nil
		}
		return m.refresh(ctx)
	})
}

// Refresh exchanges the stored refresh token for a new access token.
func (m *Manager) Refresh(ctx context.Context) (*oauth2.Token, error) {
	return m.coalesce(ctx, m.refresh)
}

func (m *Manager) unexpired() *oauth2.Token {
	if token := m.Current(); token != nil && m.Now().Before(token.Expiry) {
		return token
	}
	return nil
}

// coalesce runs fn unless a refresh is already in flight, in which case it waits for that
// refresh's result instead. Each caller may abandon the wait when its own ctx expires; the
// refresh itself continues for the benefit of the other callers.
func (m *Manager) coalesce(ctx context.Context, fn func(context.Context) (*oauth2.Token, error)) (*oauth2.Token, error) {
	result := m.group.DoChan("refresh", func() (interface{}, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, &AuthError{Reason: "refresh abandoned", Err: ctx.Err()}
	case r := <-result:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*oauth2.Token), nil
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (m *Manager) refresh(ctx context.Context) (*oauth2.Token, error) {
	if m.store == nil {
		return nil, &AuthError{Reason: "no credential store configured"}
	}
	creds, err := m.store.Credentials()
	if err != nil {
		return nil, &AuthError{Reason: "could not load credentials", Err: err}
	}
	if err := creds.validate(); err != nil {
		return nil, &AuthError{Reason: "incomplete credentials", Err: err}
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"refresh_token": {creds.RefreshToken},
		"scope":         {strings.Join(m.Scopes, " ")},
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, m.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthError{Reason: "error constructing token request", Err: err}
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("Accept", "application/json")

	log.Debug("Refreshing access token using %s", m.TokenURL)
	response, err := m.Client.Do(request)
	if err != nil {
		return nil, &AuthError{Reason: "token request failed", Err: err}
	}
	defer response.Body.Close()

	body, err := io.ReadAll(&io.LimitedReader{R: response.Body, N: maxResponseLength})
	if err != nil {
		return nil, &AuthError{Reason: "error reading token response", Status: response.StatusCode, Err: err}
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, &AuthError{
			Reason: fmt.Sprintf("authorization server returned %s", response.Status),
			Status: response.StatusCode,
			Err:    errors.New(strings.TrimSpace(string(body))),
		}
	}

	var reply tokenResponse
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, &AuthError{Reason: "malformed token response", Status: response.StatusCode, Err: err}
	}
	if reply.AccessToken == "" {
		return nil, &AuthError{Reason: "malformed token response: missing access_token", Status: response.StatusCode}
	}
	if reply.ExpiresIn <= 0 {
		return nil, &AuthError{Reason: "malformed token response: missing expires_in", Status: response.StatusCode}
	}

	token := &oauth2.Token{
		AccessToken:  reply.AccessToken,
		TokenType:    reply.TokenType,
		RefreshToken: creds.RefreshToken,
		Expiry:       m.Now().Add(time.Duration(reply.ExpiresIn) * time.Second),
	}
	if reply.RefreshToken != "" && reply.RefreshToken != creds.RefreshToken {
		token.RefreshToken = reply.RefreshToken
		if err := m.store.SaveRefreshToken(reply.RefreshToken); err != nil {
			log.Warning("Failed to persist rotated refresh token: %s", err)
		} else {
			log.Debug("Saved rotated refresh token")
		}
	}

	m.SetToken(token)
	log.Info("Obtained access token valid until %s", token.Expiry.Format(time.RFC3339))
	return token, nil
}
