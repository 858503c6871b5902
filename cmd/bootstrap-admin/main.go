// Command bootstrap-admin creates the first, pre-verified administrator.
// Connection settings come from the CLASSVOTE_* environment.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"classvote.org/internal/app"
	"classvote.org/internal/auth"
	"classvote.org/internal/config"
	"classvote.org/internal/identity"
)

func main() {
	log.SetFlags(0)
	name := flag.String("name", "Administrator", "display name")
	email := flag.String("email", os.Getenv("CLASSVOTE_ADMIN_EMAIL"), "login email")
	password := flag.String("password", "", "password (prefer CLASSVOTE_ADMIN_PASSWORD)")
	flag.Parse()

	if *password == "" {
		*password = os.Getenv("CLASSVOTE_ADMIN_PASSWORD")
	}
	if *email == "" || *password == "" {
		log.Fatal("usage: bootstrap-admin -email admin@college.edu (password via CLASSVOTE_ADMIN_PASSWORD)")
	}

	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.PGDSN == "" {
		log.Fatal("missing DSN: CLASSVOTE_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Close()

	u, err := a.Users.Provision(ctx, identity.CreateUserInput{
		Name:     *name,
		Email:    *email,
		Password: *password,
		Role:     string(auth.RoleAdmin),
	})
	if err != nil {
		log.Fatalf("create admin: %v", err)
	}
	log.Printf("created admin %s (%s)", u.Email, u.ID)
}
