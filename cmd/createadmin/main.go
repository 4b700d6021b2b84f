package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"uniadmit.org/internal/auth"
	"uniadmit.org/internal/ids"
)

// Bootstraps the first administrator account. Admins cannot self-register
// through the API, so the very first one has to be created out of band.
func main() {
	log.SetFlags(0)
	var (
		dsn      = flag.String("dsn", os.Getenv("UNIADMIT_PG_DSN"), "PostgreSQL DSN")
		email    = flag.String("email", "", "Admin email")
		name     = flag.String("name", "Administrator", "Admin full name")
		password = flag.String("password", "", "Admin password")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or UNIADMIT_PG_DSN")
	}
	if *email == "" || *password == "" {
		log.Fatal("usage: createadmin -email admin@example.edu -password <secret>")
	}
	if len(*password) < 6 {
		log.Fatal("password must be at least 6 characters")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	dir := auth.NewPGDirectory(db)

	normalized := strings.TrimSpace(strings.ToLower(*email))
	if existing, err := dir.FindByEmail(ctx, normalized); err == nil && existing != nil {
		log.Fatalf("account %s already exists (role %s)", normalized, existing.Role)
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()
	acc := &auth.Account{
		ID:           ids.New(),
		Email:        normalized,
		Name:         strings.TrimSpace(*name),
		Role:         auth.RoleAdmin,
		Status:       auth.StatusActive,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := dir.Save(ctx, acc); err != nil {
		log.Fatalf("save account: %v", err)
	}

	log.Printf("admin account %s created (id %s)", acc.Email, acc.ID)
}
