// Команда devtoken выпускает JWT для локальной разработки и ручных запросов к API.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type options struct {
	secret  string
	issuer  string
	subject string
	name    string
	role    string
	ttl     time.Duration
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fail("%v", err)
	}
	if err := run(os.Stdout, opts); err != nil {
		fail("%v", err)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var opts options
	fs.StringVar(&opts.secret, "secret", os.Getenv("STOREFRONT_JWT_SECRET"), "HS256 secret (fallback: STOREFRONT_JWT_SECRET)")
	fs.StringVar(&opts.issuer, "issuer", "storefront", "token issuer")
	fs.StringVar(&opts.subject, "sub", "", "principal id")
	fs.StringVar(&opts.name, "name", "", "display name")
	fs.StringVar(&opts.role, "role", string(domain.RoleUser), "role: user|admin")
	fs.DurationVar(&opts.ttl, "ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opts.subject == "" {
		return options{}, fmt.Errorf("-sub is required")
	}
	switch domain.Role(opts.role) {
	case domain.RoleUser, domain.RoleAdmin:
	default:
		return options{}, fmt.Errorf("unsupported role %q (use user|admin)", opts.role)
	}
	return opts, nil
}

func run(out io.Writer, opts options) error {
	tokens, err := auth.NewTokenService(opts.secret, auth.WithIssuer(opts.issuer), auth.WithTTL(opts.ttl))
	if err != nil {
		return err
	}
	token, err := tokens.Issue(domain.Principal{ID: opts.subject, Name: opts.name, Role: domain.Role(opts.role)})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
