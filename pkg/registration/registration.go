// Package registration tracks whether an application has been registered as a Fleet API partner,
// and performs that registration.
//
// Fleet API rejects requests from applications that have not registered the domain hosting their
// public key in the region they are calling. [Partner.Register] performs the one-time registration
// and [WriteMarker] records its outcome so that [Marker] can report it to an account.Account.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/teslamotors/fleet-mcp/internal/log"
	"github.com/teslamotors/fleet-mcp/pkg/account"
)

// DefaultPartnerScopes are requested for partner tokens unless configured otherwise.
var DefaultPartnerScopes = []string{"openid", "vehicle_device_data", "vehicle_cmds", "vehicle_charging_cmds"}

// Static is a fixed registration state.
type Static bool

// Registered reports the fixed state.
func (s Static) Registered() bool {
	return bool(s)
}

// Record describes a completed partner registration.
type Record struct {
	Domain       string    `json:"domain"`
	Host         string    `json:"host"`
	PublicKey    string    `json:"public_key,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Marker reports the registration recorded in a file written by [WriteMarker].
type Marker struct {
	Path string
}

// Registered returns true if m.Path contains a registration record. The file is re-read on every
// call so that registering does not require restarting the server.
func (m *Marker) Registered() bool {
	record, err := ReadMarker(m.Path)
	if err != nil {
		log.Debug("Not registered: %s", err)
		return false
	}
	return record.Domain != ""
}

// ReadMarker loads a registration record from filename.
func ReadMarker(filename string) (*Record, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(contents, &record); err != nil {
		return nil, fmt.Errorf("invalid registration file %s: %w", filename, err)
	}
	return &record, nil
}

// WriteMarker saves record to filename, creating parent directories as needed.
func WriteMarker(filename string, record *Record) error {
	encoded, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return err
	}
	return os.WriteFile(filename, append(encoded, '\n'), 0600)
}

// Partner obtains partner tokens with the client-credentials grant.
type Partner struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	// Host is the Fleet API host of the region to register in.
	Host string
	// Client is used for both the token and registration requests. Defaults to
	// http.DefaultClient.
	Client *http.Client
}

func (p *Partner) httpClient(ctx context.Context) *http.Client {
	if p.Client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.Client)
	}
	scopes := p.Scopes
	if len(scopes) == 0 {
		scopes = DefaultPartnerScopes
	}
	config := clientcredentials.Config{
		ClientID:       p.ClientID,
		ClientSecret:   p.ClientSecret,
		TokenURL:       p.TokenURL,
		Scopes:         scopes,
		EndpointParams: url.Values{"audience": {"https://" + p.Host}},
		AuthStyle:      oauth2.AuthStyleInParams,
	}
	return config.Client(ctx)
}

// NormalizeDomain strips the scheme and path from a domain provided by a user.
func NormalizeDomain(domain string) (string, error) {
	domain = strings.TrimSpace(strings.ToLower(domain))
	if u, err := url.Parse(domain); err == nil && u.Host != "" {
		domain = u.Host
	}
	domain = strings.TrimSuffix(domain, "/")
	if domain == "" || strings.ContainsAny(domain, "/: ") {
		return "", fmt.Errorf("invalid domain %q", domain)
	}
	return domain, nil
}

type partnerResponse struct {
	Response struct {
		Domain    string `json:"domain"`
		PublicKey string `json:"public_key"`
	} `json:"response"`
}

// Register registers domain as the partner domain of the client application in p.Host's region.
// Tesla fetches the application's public key from
// https://{domain}/.well-known/appspecific/com.tesla.3p.public-key.pem during this call.
func (p *Partner) Register(ctx context.Context, domain string) (*Record, error) {
	if p.ClientID == "" || p.ClientSecret == "" {
		return nil, errors.New("partner registration requires a client id and client secret")
	}
	if p.Host == "" {
		return nil, errors.New("partner registration requires a Fleet API host")
	}
	domain, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]string{"domain": domain})
	if err != nil {
		return nil, err
	}
	endpoint := (&url.URL{Scheme: "https", Host: p.Host, Path: "/api/1/partner_accounts"}).String()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	log.Debug("Registering %s with %s", domain, p.Host)
	result, err := p.httpClient(ctx).Do(request)
	if err != nil {
		return nil, fmt.Errorf("partner registration failed: %w", err)
	}
	defer result.Body.Close()

	reply, err := io.ReadAll(&io.LimitedReader{R: result.Body, N: account.MaxResponseLength})
	if err != nil {
		return nil, err
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return nil, &account.APIError{Status: result.StatusCode, Body: string(reply)}
	}

	var parsed partnerResponse
	if len(reply) > 0 {
		if err := json.Unmarshal(reply, &parsed); err != nil {
			return nil, fmt.Errorf("invalid partner registration response: %w", err)
		}
	}
	return &Record{
		Domain:       domain,
		Host:         p.Host,
		PublicKey:    parsed.Response.PublicKey,
		RegisteredAt: time.Now().UTC(),
	}, nil
}
