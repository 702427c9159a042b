// seed inserts development principals for local testing. Run with go run ./cmd/seed.
// Idempotent: a principal whose username already exists is skipped.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"sdushare/backend/internal/config"
	"sdushare/backend/internal/db"
	identitydomain "sdushare/backend/internal/identity/domain"
	identityrepo "sdushare/backend/internal/identity/repository"
	"sdushare/backend/internal/security"
	userdomain "sdushare/backend/internal/user/domain"
	userrepo "sdushare/backend/internal/user/repository"
)

const devPassword = "password123"

type principal struct {
	id, identityID string
	username       string
	email          string
	blocked        bool
}

var principals = []principal{
	{id: "dev-user-001", identityID: "dev-identity-001", username: "dev", email: "dev@mail.sdu.edu.cn"},
	{id: "dev-user-002", identityID: "dev-identity-002", username: "blocked", email: "blocked@mail.sdu.edu.cn", blocked: true},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	identities := identityrepo.NewPostgresRepository(conn)

	hash, err := security.NewHasher(cfg.BcryptCost).Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()
	for _, p := range principals {
		existing, err := users.GetByUsername(ctx, p.username)
		if err != nil {
			log.Fatalf("seed check %s: %v", p.username, err)
		}
		if existing != nil {
			log.Printf("%s exists; skipping", p.username)
			continue
		}
		u := &userdomain.User{
			ID:        p.id,
			Username:  p.username,
			Email:     p.email,
			Campus:    "Central",
			College:   "Computer Science",
			Major:     "Software Engineering",
			Blocked:   p.blocked,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if p.blocked {
			end := now.AddDate(10, 0, 0)
			u.BlockEndTime = &end
		}
		if err := users.Create(ctx, u); err != nil {
			log.Fatalf("create user %s: %v", p.username, err)
		}
		if err := identities.Create(ctx, &identitydomain.Identity{
			ID:           p.identityID,
			UserID:       p.id,
			Provider:     identitydomain.IdentityProviderLocal,
			ProviderID:   p.username,
			PasswordHash: hash,
			CreatedAt:    now,
		}); err != nil {
			log.Fatalf("create identity %s: %v", p.username, err)
		}
	}

	log.Println("Seed completed successfully.")
	for _, p := range principals {
		fmt.Printf("Login: %s / %s (blocked=%t)\n", p.username, devPassword, p.blocked)
	}
}
