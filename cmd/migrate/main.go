package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"aidcore.org/internal/auth"
	"aidcore.org/internal/ids"
	"aidcore.org/internal/migrate"
	"aidcore.org/internal/store/pg"
	"aidcore.org/migrations"
)

func main() {
	log.SetFlags(0)
	var (
		dsn      = flag.String("dsn", os.Getenv("AIDCORE_PG_DSN"), "PostgreSQL DSN")
		email    = flag.String("email", "", "super admin email (bootstrap)")
		password = flag.String("password", "", "super admin password (bootstrap)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or AIDCORE_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|bootstrap]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	runner := migrate.NewRunner(db, migrations.Files)

	switch flag.Arg(0) {
	case "up":
		err = runner.Up(ctx)
	case "down":
		err = runner.Down(ctx)
	case "seed":
		err = runner.Seed(ctx)
	case "status":
		var history []string
		history, err = runner.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	case "bootstrap":
		err = bootstrap(ctx, db, *email, *password)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// bootstrap creates the initial super admin. Safe to rerun: an existing
// email is reported, not overwritten.
func bootstrap(ctx context.Context, db *sql.DB, email, password string) error {
	if email == "" || password == "" {
		return fmt.Errorf("bootstrap requires -email and -password")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	identity := &auth.Identity{
		ID:         ids.New(),
		Email:      email,
		SecretHash: hash,
		Role:       auth.RoleSuperAdmin,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := pg.NewIdentities(db).Create(ctx, identity); err != nil {
		return fmt.Errorf("create super admin: %w", err)
	}
	log.Printf("super admin %s created with id %s", email, identity.ID)
	return nil
}
