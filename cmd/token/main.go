package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/o2o/erpsync/internal/infrastructure/auth"
	"github.com/o2o/erpsync/internal/infrastructure/config"
)

func main() {
	var (
		subject string
		scopes  string
		ttl     time.Duration
		asJSON  bool
	)
	flag.StringVar(&subject, "subject", "", "Caller identity recorded in the token (required)")
	flag.StringVar(&scopes, "scopes", "", "Comma separated scopes (default: all)")
	flag.DurationVar(&ttl, "ttl", 0, "Token lifetime (default: auth.token_ttl)")
	flag.BoolVar(&asJSON, "json", false, "Print token, type and expiry as JSON")
	flag.Parse()

	if err := run(subject, scopes, ttl, asJSON); err != nil {
		fmt.Fprintln(os.Stderr, "token:", err)
		os.Exit(1)
	}
}

func run(subject, scopeList string, ttl time.Duration, asJSON bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	tokens, err := auth.NewTokenService(cfg.Auth)
	if err != nil {
		return err
	}

	var names []string
	for _, s := range strings.Split(scopeList, ",") {
		if s = strings.TrimSpace(s); s != "" {
			names = append(names, s)
		}
	}
	scopes, err := auth.ParseScopes(names)
	if err != nil {
		return err
	}

	issued, err := tokens.Issue(subject, scopes, ttl)
	if err != nil {
		return err
	}
	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(issued)
	}
	fmt.Println(issued.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", issued.ExpiresAt.Format(time.RFC3339))
	return nil
}
