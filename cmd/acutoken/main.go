// Command acutoken mints a bearer token for calling the ACU API locally.
//
//	JWT_SECRET=... acutoken -org 6f1c... -user alice@example.com
//	JWT_SECRET=... acutoken -role admin -user ops@bidpack.uk
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/bidpackuk/backend/internal/auth"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "acutoken:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("acutoken", flag.ContinueOnError)
	org := fs.String("org", "", "organization id (required for members)")
	user := fs.String("user", "", "user id or email")
	role := fs.String("role", auth.RoleMember, "member or admin")
	ttl := fs.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("-user is required")
	}

	p := auth.Principal{UserID: *user, Role: *role}
	if *org != "" {
		id, err := uuid.Parse(*org)
		if err != nil {
			return fmt.Errorf("-org: %w", err)
		}
		p.OrgID = id
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "acutoken: JWT_SECRET not set, signing with the development secret")
	}
	tok, err := auth.NewService(secret).IssueToken(p, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
