// Utility for generating partner keys and registering with Fleet API

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/teslamotors/fleet-mcp/internal/log"
	"github.com/teslamotors/fleet-mcp/pkg/account"
	"github.com/teslamotors/fleet-mcp/pkg/cli"
	"github.com/teslamotors/fleet-mcp/pkg/registration"
	"github.com/teslamotors/fleet-mcp/pkg/token"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usageText = `
Prepares a Tesla developer application for Fleet API access.

  keygen [DIR]     Creates a key pair in DIR (default: current directory). The public key is
                   written to DIR/.well-known/appspecific/com.tesla.3p.public-key.pem, which must
                   be served from the root of your application's domain. An existing key is reused
                   unless invoked with -f. The public key is written to stdout.
  register DOMAIN  Registers DOMAIN as the application's partner domain in the region served by
                   -fleet-host, and records the registration in -registration-file.
  status           Reports whether the registration file records a completed registration.

The client id and secret are read from the command-line options below or the corresponding
environment variables.`

func cliUsage() {
	usage(flag.CommandLine.Output())
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "usage: %s [OPTION...] keygen|register|status [ARG]\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, usageText)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "OPTIONS:")
	flag.PrintDefaults()
}

func keygen(dir string, overwrite bool) error {
	skey, err := registration.GenerateKey(dir, overwrite)
	if err != nil {
		return err
	}
	publicPEM, err := registration.PublicKeyPEM(&skey.PublicKey)
	if err != nil {
		return err
	}
	os.Stdout.Write(publicPEM)
	writeErr("Private key: %s", filepath.Join(dir, registration.PrivateKeyFile))
	writeErr("Public key:  %s", filepath.Join(dir, filepath.FromSlash(registration.PublicKeyPath)))
	return nil
}

func register(ctx context.Context, config *cli.Config, domain string) error {
	if config.RegistrationFilename == "" {
		return fmt.Errorf("must provide registration file (-registration-file or $%s)", cli.EnvTeslaRegistrationFile)
	}
	host := config.FleetHost
	if host == "" {
		host = account.DefaultDomain
	}
	tokenURL := config.TokenURL
	if tokenURL == "" {
		tokenURL = token.DefaultTokenURL
	}
	partner := &registration.Partner{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     tokenURL,
		Host:         host,
	}
	if config.Scopes != "" {
		partner.Scopes = config.ScopeList()
	}
	record, err := partner.Register(ctx, domain)
	if err != nil {
		return err
	}
	if err := registration.WriteMarker(config.RegistrationFilename, record); err != nil {
		return fmt.Errorf("registered, but failed to record registration: %w", err)
	}
	writeErr("Registered %s with %s", record.Domain, record.Host)
	return nil
}

func main() {
	var (
		overwrite bool
		timeout   time.Duration
	)
	status := 1
	defer func() {
		os.Exit(status)
	}()

	config, err := cli.NewConfig(cli.FlagClient | cli.FlagFleet)
	config.RegisterCommandLineFlags()
	flag.Usage = cliUsage
	flag.BoolVar(&overwrite, "f", false, "Overwrite existing key if it exists")
	flag.BoolVar(&config.Debug, "debug", false, "Enable verbose debugging messages")
	flag.DurationVar(&timeout, "timeout", time.Minute, "Timeout for registration requests")
	flag.Parse()
	if config.Debug {
		log.SetLevel(log.LevelDebug)
	}
	if err != nil {
		writeErr("Failed to load credential configuration: %s", err)
		return
	}
	config.ReadFromEnvironment()

	if flag.NArg() < 1 || flag.NArg() > 2 {
		usage(os.Stderr)
		return
	}

	switch flag.Arg(0) {
	case "keygen":
		dir := flag.Arg(1)
		if dir == "" {
			dir = "."
		}
		if err = keygen(dir, overwrite); err != nil {
			writeErr("Failed to generate key: %s", err)
			return
		}
	case "register":
		if flag.NArg() != 2 {
			writeErr("Must provide the domain to register")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err = register(ctx, config, flag.Arg(1)); err != nil {
			writeErr("Failed to register: %s", err)
			return
		}
	case "status":
		record, err := registration.ReadMarker(config.RegistrationFilename)
		if err != nil {
			writeErr("Not registered: %s", err)
			return
		}
		fmt.Printf("Registered %s with %s at %s\n", record.Domain, record.Host, record.RegisteredAt.Format(time.RFC3339))
	default:
		writeErr("Unrecognized command-line argument.")
		writeErr("")
		usage(os.Stderr)
		return
	}
	status = 0
}
