package account

import (
	"bytes"
	"context"
	_ "embed" // Used to embed version for use with user agent
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/teslamotors/fleet-mcp/internal/log"
)

var (
	//go:embed version.txt
	libraryVersion string
)

// DefaultTimeout bounds each Fleet API request.
const DefaultTimeout = 30 * time.Second

// MaxResponseLength caps the size of Fleet API responses.
const MaxResponseLength = 10000000

func buildUserAgent(app string) string {
	library := strings.TrimSpace("tesla-fleet-mcp/" + libraryVersion)
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return library
	}
	path := strings.Split(build.Path, "/")
	if len(path) == 0 {
		return library
	}

	if app == "" {
		app = path[len(path)-1]
		var version string
		if build.Main.Version != "(devel)" && build.Main.Version != "" {
			version = build.Main.Version
		} else {
			for _, info := range build.Settings {
				if info.Key == "vcs.revision" {
					if len(info.Value) > 8 {
						version = info.Value[0:8]
					}
					break
				}
			}
		}

		if version != "" {
			app = fmt.Sprintf("%s/%s", app, version)
		}
	}

	return fmt.Sprintf("%s %s", app, library)
}

// TokenSource supplies access tokens that are valid at the time they're returned.
type TokenSource interface {
	ValidToken(ctx context.Context) (*oauth2.Token, error)
}

// Registration reports whether the application has completed Fleet API partner registration.
type Registration interface {
	Registered() bool
}

// Account allows interaction with the vehicles on a Tesla account through Fleet API.
type Account struct {
	// The default UserAgent is constructed from the global UserAgent, but can be overridden.
	UserAgent string
	// Host is the Fleet API domain. If empty, the domain is derived from the claims of each
	// access token.
	Host   string
	Client *http.Client

	tokens       TokenSource
	registration Registration
}

// oauthPayload holds the access-token claims used to pick a regional Fleet API domain. Tokens are
// not verified; Fleet API does that.
type oauthPayload struct {
	jwt.RegisteredClaims
	OUCode string `json:"ou_code"`
}

var domainRegEx = regexp.MustCompile(`^[A-Za-z0-9-.]+$`) // We're mostly interested in stopping paths; the http package handles the rest.

// DefaultDomain is used when the Fleet API domain can't be derived from the access token.
const DefaultDomain = "fleet-api.prd.na.vn.cloud.tesla.com"

// ValidTeslaDomainSuffix returns true if domain belongs to Tesla.
func ValidTeslaDomainSuffix(domain string) bool {
	return strings.HasSuffix(domain, ".tesla.com") || strings.HasSuffix(domain, ".tesla.cn") || strings.HasSuffix(domain, ".teslamotors.com")
}

func (p *oauthPayload) domain() string {
	domain := DefaultDomain
	ouCodeMatch := fmt.Sprintf(".%s.", strings.ToLower(p.OUCode))
	for _, u := range p.Audience {
		if strings.HasPrefix(u, "https://auth.tesla.") {
			continue
		}
		d, _ := strings.CutPrefix(u, "https://")
		d, _ = strings.CutSuffix(d, "/")
		if !domainRegEx.MatchString(d) {
			continue
		}

		if ValidTeslaDomainSuffix(d) && strings.HasPrefix(d, "fleet-api.") {
			domain = d
			// Prefer domains that contain the ou_code (region)
			if strings.Contains(domain, ouCodeMatch) {
				return domain
			}
		}
	}
	return domain
}

// DomainFromToken returns the Fleet API domain that serves the region of accessToken.
func DomainFromToken(accessToken string) string {
	var payload oauthPayload
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &payload); err != nil {
		log.Debug("Using default Fleet API domain; could not parse access token: %s", err)
		return DefaultDomain
	}
	return payload.domain()
}

// New returns an [Account] that authenticates using tokens.
//
// If registration is not nil, requests fail with a [RegistrationError] until registration reports
// that the application is registered. Optional userAgent can be passed in - otherwise it will be
// generated from code.
func New(tokens TokenSource, registration Registration, userAgent string) *Account {
	return &Account{
		UserAgent:    buildUserAgent(userAgent),
		Client:       &http.Client{Timeout: DefaultTimeout},
		tokens:       tokens,
		registration: registration,
	}
}

func (a *Account) checkRegistration() error {
	if a.registration != nil && !a.registration.Registered() {
		return &RegistrationError{Reason: "complete partner registration before calling Fleet API"}
	}
	return nil
}

func (a *Account) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	if err := a.checkRegistration(); err != nil {
		return nil, err
	}
	token, err := a.tokens.ValidToken(ctx)
	if err != nil {
		return nil, err
	}
	host := a.Host
	if host == "" {
		host = DomainFromToken(token.AccessToken)
	}

	url := fmt.Sprintf("https://%s/%s", host, endpoint)
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("error constructing request to %s: %w", endpoint, err)
	}
	log.Debug("Requesting %s %s...", method, url)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", a.UserAgent)
	token.SetAuthHeader(request)

	response, err := a.Client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("error fetching %s: %w", endpoint, err)
	}
	defer response.Body.Close()

	reader = &io.LimitedReader{R: response.Body, N: MaxResponseLength}
	respBody, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("error reading response from %s: %w", endpoint, err)
	}
	log.Debug("Server returned %d: %s", response.StatusCode, respBody)
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, &APIError{Status: response.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}

// Get sends an HTTP GET request to endpoint.
//
// The endpoint should contain only the path (e.g., "api/1/vehicles"); the domain is determined by
// a.Host or the access token.
func (a *Account) Get(ctx context.Context, endpoint string) ([]byte, error) {
	return a.do(ctx, http.MethodGet, endpoint, nil)
}

// Post sends an HTTP POST request to endpoint. Returns the HTTP body of the response.
func (a *Account) Post(ctx context.Context, endpoint string, data []byte) ([]byte, error) {
	return a.do(ctx, http.MethodPost, endpoint, data)
}

// ListVehicles returns the vehicles on the account, or an empty slice if there are none.
func (a *Account) ListVehicles(ctx context.Context) ([]Vehicle, error) {
	body, err := a.Get(ctx, "api/1/vehicles")
	if err != nil {
		return nil, err
	}
	var reply struct {
		Response []Vehicle `json:"response"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("unable to parse vehicle list: %w", err)
	}
	if reply.Response == nil {
		return []Vehicle{}, nil
	}
	return reply.Response, nil
}

// WakeUp asks Fleet API to wake the vehicle identified by tag (its id or VIN).
//
// WakeUp returns as soon as Fleet API acknowledges the command. The returned Vehicle reflects the
// state reported at that moment, which is typically still asleep; callers that need an online
// vehicle must poll.
func (a *Account) WakeUp(ctx context.Context, tag string) (*Vehicle, error) {
	body, err := a.Post(ctx, fmt.Sprintf("api/1/vehicles/%s/wake_up", tag), []byte{})
	if err != nil {
		return nil, err
	}
	var reply struct {
		Response *Vehicle `json:"response"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("unable to parse wake_up response: %w", err)
	}
	if reply.Response == nil {
		return nil, fmt.Errorf("wake_up response did not include vehicle state")
	}
	return reply.Response, nil
}
