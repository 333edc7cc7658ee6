// Utility for obtaining a Fleet API refresh token

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/teslamotors/fleet-mcp/internal/log"
	"github.com/teslamotors/fleet-mcp/pkg/account"
	"github.com/teslamotors/fleet-mcp/pkg/cli"
	"github.com/teslamotors/fleet-mcp/pkg/token"
)

const defaultRedirectURI = "http://localhost:8642/callback"

const usageText = `
Runs the OAuth authorization-code flow (with PKCE) against Tesla's authorization server and saves
the resulting refresh token to the configured token file or system keyring. If neither is
configured, the refresh token is written to stdout.

Open the printed URL in a browser and sign in. When the redirect URI points at localhost, the
program receives the authorization code directly; otherwise (or with -manual) paste the URL the
browser was redirected to.`

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "usage: %s [OPTION...]\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, usageText)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "OPTIONS:")
	flag.PrintDefaults()
}

// authorizationCode extracts the authorization code from the URL the authorization server
// redirected to.
func authorizationCode(redirected *url.URL, state string) (string, error) {
	query := redirected.Query()
	if e := query.Get("error"); e != "" {
		if description := query.Get("error_description"); description != "" {
			return "", fmt.Errorf("authorization failed: %s: %s", e, description)
		}
		return "", fmt.Errorf("authorization failed: %s", e)
	}
	if query.Get("state") != state {
		return "", errors.New("authorization response has unexpected state")
	}
	code := query.Get("code")
	if code == "" {
		return "", errors.New("authorization response is missing code")
	}
	return code, nil
}

// readPastedCode reads a redirect URL from r.
func readPastedCode(r *bufio.Reader, state string) (string, error) {
	fmt.Fprint(os.Stderr, "Redirected URL: ")
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	redirected, err := url.Parse(strings.TrimSpace(line))
	if err != nil {
		return "", err
	}
	return authorizationCode(redirected, state)
}

// awaitCallback serves redirectURI until it receives an authorization response.
func awaitCallback(ctx context.Context, redirectURI *url.URL, state string) (string, error) {
	listener, err := net.Listen("tcp", redirectURI.Host)
	if err != nil {
		return "", err
	}
	return serveCallback(ctx, listener, redirectURI.Path, state)
}

// serveCallback serves path on listener until it receives an authorization response or the server
// fails. The listener is closed on return.
func serveCallback(ctx context.Context, listener net.Listener, path, state string) (string, error) {
	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)
	send := func(r result) {
		select {
		case results <- r:
		default:
		}
	}

	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		code, err := authorizationCode(r.URL, state)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
		} else {
			fmt.Fprintln(w, "Authorization complete. You may close this window.")
		}
		send(result{code, err})
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			send(result{err: fmt.Errorf("callback server failed: %w", err)})
		}
	}()
	defer server.Close()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-results:
		return r.code, r.err
	}
}

func main() {
	var (
		redirectURI string
		manual      bool
		status      = 1
	)
	defer func() {
		os.Exit(status)
	}()

	config, err := cli.NewConfig(cli.FlagAll)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential configuration: %s\n", err)
		return
	}
	config.RegisterCommandLineFlags()
	flag.StringVar(&redirectURI, "redirect-uri", defaultRedirectURI, "OAuth redirect `URI` registered for the application")
	flag.BoolVar(&manual, "manual", false, "Paste the redirected URL instead of listening for it")
	flag.Usage = usage
	flag.Parse()
	config.ReadFromEnvironment()
	if config.Debug {
		log.SetLevel(log.LevelDebug)
	}

	if config.ClientID == "" || config.ClientSecret == "" {
		fmt.Fprintf(os.Stderr, "Must provide client id (-client-id or $%s) and client secret ($%s)\n", cli.EnvTeslaClientID, cli.EnvTeslaClientSecret)
		return
	}
	redirect, err := url.Parse(redirectURI)
	if err != nil || redirect.Host == "" {
		fmt.Fprintf(os.Stderr, "Invalid redirect URI %q\n", redirectURI)
		return
	}

	authURL := config.AuthURL
	if authURL == "" {
		authURL = cli.DefaultAuthURL
	}
	tokenURL := config.TokenURL
	if tokenURL == "" {
		tokenURL = token.DefaultTokenURL
	}
	fleetHost := config.FleetHost
	if fleetHost == "" {
		fleetHost = account.DefaultDomain
	}
	oauthConfig := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      config.ScopeList(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	verifier := oauth2.GenerateVerifier()
	state := oauth2.GenerateVerifier()
	fmt.Fprintln(os.Stderr, "Open this URL in a browser to authorize access:")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, oauthConfig.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)))
	fmt.Fprintln(os.Stderr, "")

	var code string
	if manual || (redirect.Hostname() != "localhost" && redirect.Hostname() != "127.0.0.1") {
		code, err = readPastedCode(bufio.NewReader(os.Stdin), state)
	} else {
		code, err = awaitCallback(ctx, redirect, state)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return
	}

	tok, err := oauthConfig.Exchange(ctx, code,
		oauth2.VerifierOption(verifier),
		oauth2.SetAuthURLParam("audience", "https://"+fleetHost),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error exchanging authorization code: %s\n", err)
		return
	}
	if tok.RefreshToken == "" {
		fmt.Fprintln(os.Stderr, "Authorization server did not return a refresh token. Include the offline_access scope.")
		return
	}

	err = config.SaveRefreshToken(tok.RefreshToken)
	if errors.Is(err, cli.ErrNoTokenLocation) {
		fmt.Println(tok.RefreshToken)
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "Error saving refresh token: %s\n", err)
		return
	} else {
		fmt.Fprintln(os.Stderr, "Saved refresh token.")
	}
	log.Debug("Access token expires at %s", tok.Expiry)
	status = 0
}
