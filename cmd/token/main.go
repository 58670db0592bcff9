// Package main mints a bearer token for the dispatch trigger or an
// operator, signed with the configured secret.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/phrazzld/resonance/internal/config"
	"github.com/phrazzld/resonance/internal/service/auth"
)

func main() {
	subject := flag.String("subject", "scheduler", "Subject the token is issued to")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := mint(context.Background(), cfg.Auth, *subject, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "failed to mint token: %v\n", err)
		os.Exit(1)
	}
}

func mint(ctx context.Context, cfg config.AuthConfig, subject string, out io.Writer) error {
	if subject == "" {
		return errors.New("subject cannot be empty")
	}
	svc, err := auth.NewJWTService(cfg)
	if err != nil {
		return err
	}
	token, err := svc.GenerateToken(ctx, subject)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
