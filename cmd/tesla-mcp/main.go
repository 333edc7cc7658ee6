package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslamotors/fleet-mcp/internal/log"
	"github.com/teslamotors/fleet-mcp/pkg/account"
	"github.com/teslamotors/fleet-mcp/pkg/cache"
	"github.com/teslamotors/fleet-mcp/pkg/cli"
	"github.com/teslamotors/fleet-mcp/pkg/mcp"
	"github.com/teslamotors/fleet-mcp/pkg/token"
)

const (
	EnvHTTPAddr = "TESLA_MCP_HTTP_ADDR"
	EnvTlsCert  = "TESLA_MCP_TLS_CERT"
	EnvTlsKey   = "TESLA_MCP_TLS_KEY"
	EnvTimeout  = "TESLA_MCP_TIMEOUT"
	EnvVerbose  = "TESLA_VERBOSE"
)

const shutdownTimeout = 10 * time.Second

const nonLocalhostWarning = `
Do not listen on a network interface without adding client authentication. Any client that can
reach the server can read vehicle data and wake vehicles on the configured Tesla account.`

type MCPConfig struct {
	httpAddr     string
	certFilename string
	keyFilename  string
	verbose      bool
	timeout      time.Duration
}

var (
	mcpConfig = &MCPConfig{}
)

func init() {
	flag.StringVar(&mcpConfig.httpAddr, "http", "", "Serve streamable HTTP on `address` (host:port) instead of stdio")
	flag.StringVar(&mcpConfig.certFilename, "cert", "", "TLS certificate chain `file` for HTTP mode")
	flag.StringVar(&mcpConfig.keyFilename, "tls-key", "", "Server TLS private key `file` for HTTP mode")
	flag.BoolVar(&mcpConfig.verbose, "verbose", false, "Enable verbose logging")
	flag.DurationVar(&mcpConfig.timeout, "timeout", account.DefaultTimeout, "Timeout interval for Fleet API and authorization requests")
}

func Usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [OPTION...]\n", os.Args[0])
	fmt.Fprintf(out, "\nA Model Context Protocol server that exposes the vehicles on a Tesla account.\n")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "The server communicates over stdin/stdout unless -http is provided. Logs are written to stderr.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	flag.PrintDefaults()
}

func main() {
	config, err := cli.NewConfig(cli.FlagAll)

	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential configuration: %s\n", err)
		os.Exit(1)
	}

	defer func() {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	}()

	flag.Usage = Usage
	config.RegisterCommandLineFlags()
	flag.Parse()
	if err = readFromEnvironment(); err != nil {
		return
	}
	config.ReadFromEnvironment()

	if mcpConfig.verbose {
		log.SetLevel(log.LevelDebug)
	} else {
		log.SetLevel(log.LevelWarning)
	}

	// Prompt for a keyring password, if needed, before a client is waiting on the server.
	if err = config.LoadCredentials(); err != nil {
		return
	}

	tokens := config.TokenManager()
	tokens.Client = &http.Client{Timeout: mcpConfig.timeout}
	acct := config.Account(tokens, "")
	acct.Client = &http.Client{Timeout: mcpConfig.timeout}

	server := mcp.New(cache.New(acct), acct)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Debug("Loading vehicles")
	if err := server.Prime(ctx); err != nil {
		log.Warning("%s", startupWarning(err))
	}

	if mcpConfig.httpAddr == "" {
		log.Info("Serving MCP over stdio")
		if err = server.Run(ctx); errors.Is(err, context.Canceled) {
			err = nil
		}
		return
	}
	err = serveHTTP(ctx, server.HTTPHandler())
}

// startupWarning explains why the initial vehicle fetch failed. The server keeps running so that
// the client sees later failures as tool errors instead of a broken connection.
func startupWarning(err error) string {
	var regErr *account.RegistrationError
	var configErr *token.ConfigError
	var authErr *token.AuthError
	switch {
	case errors.As(err, &regErr):
		return fmt.Sprintf("%s. Run tesla-mcp-register to register this application, or unset $%s.",
			regErr, cli.EnvTeslaRegistrationFile)
	case errors.As(err, &configErr):
		return fmt.Sprintf("No access token available (%s). Set $%s, $%s, and a refresh token (see -help).",
			configErr, cli.EnvTeslaClientID, cli.EnvTeslaClientSecret)
	case errors.As(err, &authErr):
		return fmt.Sprintf("Could not obtain an access token: %s. Run tesla-mcp-auth to obtain a new refresh token.", authErr)
	}
	return fmt.Sprintf("Initial vehicle fetch failed: %s. Retrying on the next request.", err)
}

func serveHTTP(ctx context.Context, handler http.Handler) error {
	host, _, err := net.SplitHostPort(mcpConfig.httpAddr)
	if err != nil {
		return fmt.Errorf("invalid HTTP address: %w", err)
	}
	if host != "localhost" && host != "127.0.0.1" && host != "::1" {
		fmt.Fprintln(os.Stderr, nonLocalhostWarning)
	}

	httpServer := &http.Server{
		Addr:              mcpConfig.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening on %s", mcpConfig.httpAddr)
		if mcpConfig.certFilename != "" || mcpConfig.keyFilename != "" {
			errCh <- httpServer.ListenAndServeTLS(mcpConfig.certFilename, mcpConfig.keyFilename)
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// readFromEnvironment applies configuration from environment variables.
// Values are not overwritten.
func readFromEnvironment() error {
	if mcpConfig.httpAddr == "" {
		mcpConfig.httpAddr = os.Getenv(EnvHTTPAddr)
	}

	if mcpConfig.certFilename == "" {
		mcpConfig.certFilename = os.Getenv(EnvTlsCert)
	}

	if mcpConfig.keyFilename == "" {
		mcpConfig.keyFilename = os.Getenv(EnvTlsKey)
	}

	if !mcpConfig.verbose {
		if verbose, ok := os.LookupEnv(EnvVerbose); ok {
			mcpConfig.verbose = verbose != "false" && verbose != "0"
		}
	}

	var err error
	if mcpConfig.timeout == account.DefaultTimeout {
		if timeoutEnv, ok := os.LookupEnv(EnvTimeout); ok {
			mcpConfig.timeout, err = time.ParseDuration(timeoutEnv)
			if err != nil {
				return fmt.Errorf("invalid timeout: %s", timeoutEnv)
			}
		}
	}

	return nil
}
