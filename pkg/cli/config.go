/*
Package cli facilitates building command-line applications that talk to Fleet API on behalf of a
user. It defines a [Config] type that can be used to register common command-line flags (using the
Golang flag package) and environment variable equivalents.

A Config is also the credential store for [token.Manager]: it supplies the client id, client
secret, and refresh token, and persists refresh tokens that the authorization server rotates.

The package uses [keyring]'s platform-agnostic interface for storing refresh tokens in an
OS-dependent credential store.

# Examples

	import flag

	config, err := NewConfig(FlagAll)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds command-line flags for OAuth, keyring, etc.
	flag.Parse()
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables
	config.LoadCredentials()          // Prompt for Keyring password if needed

	tokens := config.TokenManager()
	acct := config.Account(tokens)

Alternatively, you can use a [Flag] mask to control what [Config] fields are populated. Note that
config.Flags must be set before calling [flag.Parse] or [Config.ReadFromEnvironment]:

	config, err = NewConfig(FlagClient | FlagToken) // OAuth client and refresh token only.
	config, err = NewConfig(FlagClient | FlagFleet) // Partner registration.
*/
package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/99designs/keyring"

	"github.com/teslamotors/fleet-mcp/internal/log"
	"github.com/teslamotors/fleet-mcp/pkg/account"
	"github.com/teslamotors/fleet-mcp/pkg/registration"
	"github.com/teslamotors/fleet-mcp/pkg/token"
)

// Environment variable names used are used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvTeslaClientID         = "TESLA_CLIENT_ID"
	EnvTeslaClientSecret     = "TESLA_CLIENT_SECRET"
	EnvTeslaRefreshToken     = "TESLA_REFRESH_TOKEN"
	EnvTeslaTokenName        = "TESLA_TOKEN_NAME"
	EnvTeslaTokenFile        = "TESLA_TOKEN_FILE"
	EnvTeslaFleetHost        = "TESLA_FLEET_HOST"
	EnvTeslaAuthURL          = "TESLA_AUTH_URL"
	EnvTeslaTokenURL         = "TESLA_TOKEN_URL"
	EnvTeslaScopes           = "TESLA_SCOPES"
	EnvTeslaRegistrationFile = "TESLA_REGISTRATION_FILE"
	EnvTeslaKeyringType      = "TESLA_KEYRING_TYPE"
	EnvTeslaKeyringPass      = "TESLA_KEYRING_PASSWORD"
	EnvTeslaKeyringPath      = "TESLA_KEYRING_PATH"
	EnvTeslaKeyringDebug     = "TESLA_KEYRING_DEBUG"
)

// DefaultAuthURL is Tesla's OAuth authorization endpoint.
const DefaultAuthURL = "https://auth.tesla.com/oauth2/v3/authorize"

// Flag controls what options should be scanned from the command line and/or environment variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagClient Flag = 1 // Enable OAuth client options (client id/secret, endpoints, scopes).
	FlagToken  Flag = 2 // Enable refresh token options (token file, keyring).
	FlagFleet  Flag = 4 // Enable Fleet API options (host, registration marker).
	FlagAll    Flag = FlagClient | FlagToken | FlagFleet
)

var (
	ErrNoTokenLocation = errors.New("refresh token location not provided")
	ErrKeyNotFound     = keyring.ErrKeyNotFound
)

// Config fields determine how a client authenticates to Tesla's backend.
type Config struct {
	Flags                Flag // Controls which set of environment variables/CLI flags to use.
	ClientID             string
	ClientSecret         string
	RefreshToken         string
	KeyringTokenName     string // Username for refresh token in system keyring
	TokenFilename        string
	FleetHost            string
	AuthURL              string
	TokenURL             string
	Scopes               string // Space-separated OAuth scopes
	RegistrationFilename string
	Backend              keyring.Config
	BackendType          backendType
	Debug                bool // Enable keyring debug messages

	password *string

	// lock guards RefreshToken once the Config is handed to a token.Manager.
	lock sync.Mutex
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags: flags,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getPassword
	c.Backend.FilePasswordFunc = c.getPassword

	return &c, nil
}

func (c *Config) RegisterCommandLineFlags() {
	if c.Flags.isSet(FlagClient) {
		flag.StringVar(&c.ClientID, "client-id", "", "OAuth client `id`. Defaults to $TESLA_CLIENT_ID.")
		flag.StringVar(&c.AuthURL, "auth-url", "", "OAuth authorization `URL`. Defaults to $TESLA_AUTH_URL.")
		flag.StringVar(&c.TokenURL, "token-url", "", "OAuth token `URL`. Defaults to $TESLA_TOKEN_URL.")
		flag.StringVar(&c.Scopes, "scopes", "", "Space-separated OAuth `scopes`. Defaults to $TESLA_SCOPES.")
	}
	if c.Flags.isSet(FlagToken) {
		flag.StringVar(&c.KeyringTokenName, "token-name", "", "System keyring `name` for refresh token. Defaults to $TESLA_TOKEN_NAME.")
		flag.StringVar(&c.TokenFilename, "token-file", "", "`File` containing refresh token. Defaults to $TESLA_TOKEN_FILE.")

		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		flag.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $TESLA_KEYRING_TYPE.")
		flag.StringVar(&c.Backend.FileDir, "keyring-file-dir", keyringDirectory, "keyring `directory` for file-backed keyring types")
		flag.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
	if c.Flags.isSet(FlagFleet) {
		flag.StringVar(&c.FleetHost, "fleet-host", "", "Fleet API `hostname`. Defaults to $TESLA_FLEET_HOST, or a host derived from the access token.")
		flag.StringVar(&c.RegistrationFilename, "registration-file", "", "Partner registration marker `file`. Defaults to $TESLA_REGISTRATION_FILE.")
	}
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will prevent the
// environment from overriding explicit command-line parameters and avoid potentially misleading
// debug log messages.
func (c *Config) ReadFromEnvironment() {
	if c.Flags.isSet(FlagClient) {
		if c.ClientID == "" {
			c.ClientID = os.Getenv(EnvTeslaClientID)
			log.Debug("Set client id to '%s'", c.ClientID)
		}
		if c.ClientSecret == "" {
			c.ClientSecret = os.Getenv(EnvTeslaClientSecret)
			if c.ClientSecret != "" {
				log.Debug("Set client secret to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		if c.AuthURL == "" {
			c.AuthURL = os.Getenv(EnvTeslaAuthURL)
		}
		if c.TokenURL == "" {
			c.TokenURL = os.Getenv(EnvTeslaTokenURL)
		}
		if c.Scopes == "" {
			c.Scopes = os.Getenv(EnvTeslaScopes)
			log.Debug("Set OAuth scopes to '%s'", c.Scopes)
		}
	}
	if c.Flags.isSet(FlagToken) {
		if c.RefreshToken == "" && c.KeyringTokenName == "" && c.TokenFilename == "" {
			c.RefreshToken = os.Getenv(EnvTeslaRefreshToken)
			if c.RefreshToken != "" {
				log.Debug("Set refresh token to %s", strings.Repeat("*", len("hunter2")))
			}

			c.KeyringTokenName = os.Getenv(EnvTeslaTokenName)
			log.Debug("Set refresh token name to '%s'", c.KeyringTokenName)

			c.TokenFilename = os.Getenv(EnvTeslaTokenFile)
			log.Debug("Set refresh token file to '%s'", c.TokenFilename)
		}
		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if err := c.BackendType.Set(os.Getenv(EnvTeslaKeyringType)); err == nil {
				log.Debug("Set keyring type to '%s'", c.BackendType)
			}
		}
		if c.password == nil {
			password := os.Getenv(EnvTeslaKeyringPass)
			c.password = &password
			if len(password) > 0 {
				log.Debug("Set keyring File Password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		if c.Backend.FileDir == "" {
			c.Backend.FileDir = os.Getenv(EnvTeslaKeyringPath)
			log.Debug("Set keyring File Path to '%s'", c.Backend.FileDir)
		}
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvTeslaKeyringDebug)
			log.Debug("Set keyring Debug Logging to '%v'", c.Debug)
		}
	}
	if c.Flags.isSet(FlagFleet) {
		if c.FleetHost == "" {
			c.FleetHost = os.Getenv(EnvTeslaFleetHost)
			log.Debug("Set Fleet API host to '%s'", c.FleetHost)
		}
		if c.RegistrationFilename == "" {
			c.RegistrationFilename = os.Getenv(EnvTeslaRegistrationFile)
			log.Debug("Set registration file to '%s'", c.RegistrationFilename)
		}
	}
}

// LoadCredentials reads the refresh token, prompting for a keyring password if needed. Call this
// method before serving requests to prevent interactive prompts from counting against timeouts.
//
// A missing refresh token is not an error here; the token manager reports it on first use.
func (c *Config) LoadCredentials() error {
	if !c.Flags.isSet(FlagToken) {
		return nil
	}
	_, err := c.refreshToken()
	return err
}

// Credentials implements [token.Store].
func (c *Config) Credentials() (token.Credentials, error) {
	refreshToken, err := c.refreshToken()
	if err != nil {
		return token.Credentials{}, err
	}
	return token.Credentials{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RefreshToken: refreshToken,
	}, nil
}

// refreshToken returns the refresh token from, in order of preference, c.RefreshToken, the token
// file, and the system keyring. The first value found is remembered.
func (c *Config) refreshToken() (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.RefreshToken != "" {
		return c.RefreshToken, nil
	}
	if c.TokenFilename != "" {
		contents, err := os.ReadFile(c.TokenFilename)
		if err == nil {
			c.RefreshToken = strings.TrimSpace(string(contents))
			return c.RefreshToken, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		// If the token file doesn't exist, fall through to trying to load from the system keyring.
		log.Debug("Refresh token file %s does not exist", c.TokenFilename)
	}
	if c.KeyringTokenName == "" {
		return "", nil
	}
	refreshToken, err := c.LoadTokenFromKeyring()
	if errors.Is(err, ErrKeyNotFound) {
		log.Debug("No refresh token named '%s' in keyring", c.KeyringTokenName)
		return "", nil
	}
	if err != nil {
		return "", err
	}
	c.RefreshToken = refreshToken
	return refreshToken, nil
}

// SaveRefreshToken implements [token.Store]. The token is written to the token file if one is
// configured, otherwise to the system keyring if a token name is configured. It is always retained
// in memory for subsequent refreshes.
func (c *Config) SaveRefreshToken(refreshToken string) error {
	c.lock.Lock()
	c.RefreshToken = refreshToken
	c.lock.Unlock()

	if c.TokenFilename != "" {
		if err := os.WriteFile(c.TokenFilename, []byte(refreshToken+"\n"), 0600); err != nil {
			return fmt.Errorf("failed to write refresh token: %w", err)
		}
		return nil
	}
	if c.KeyringTokenName != "" {
		return c.SaveTokenToKeyring(refreshToken)
	}
	return ErrNoTokenLocation
}

// ScopeList returns the configured OAuth scopes, or [token.DefaultScopes] if none are configured.
func (c *Config) ScopeList() []string {
	scopes := strings.FieldsFunc(c.Scopes, func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(scopes) == 0 {
		return token.DefaultScopes
	}
	return scopes
}

// TokenManager returns a token manager that draws credentials from c.
func (c *Config) TokenManager() *token.Manager {
	m := token.NewManager(c)
	if c.TokenURL != "" {
		m.TokenURL = c.TokenURL
	}
	m.Scopes = c.ScopeList()
	return m
}

// Registration returns the partner registration state. Without a registration file, the
// application is assumed to be registered.
func (c *Config) Registration() account.Registration {
	if c.RegistrationFilename == "" {
		return registration.Static(true)
	}
	return &registration.Marker{Path: c.RegistrationFilename}
}

// Account returns a Fleet API client that authenticates using tokens.
func (c *Config) Account(tokens account.TokenSource, userAgent string) *account.Account {
	acct := account.New(tokens, c.Registration(), userAgent)
	acct.Host = c.FleetHost
	return acct
}
