package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

func main() {
	email := flag.String("email", "", "Email of the reviewer account")
	flag.Parse()
	if *email == "" {
		fmt.Println("Usage: grant-permissions -email <address>")
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	adminRepo := repository.NewAdminRepository(pool)

	fmt.Println("=== Grant Full Reviewer Permissions ===")

	admin, err := adminRepo.GetByEmail(ctx, *email)
	if errors.Is(err, pgx.ErrNoRows) {
		fmt.Printf("Error: no account with email %s\n", *email)
		os.Exit(1)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load admin")
	}

	all := []string{
		string(model.PermissionAttemptsReview),
		string(model.PermissionExamsMonitor),
	}
	if err := adminRepo.SetPermissions(ctx, admin.ID, all); err != nil {
		log.Fatal().Err(err).Msg("Failed to update permissions")
	}

	fmt.Printf("\nSuccess! %s now holds %v. Existing tokens keep their old permissions until the next login.\n", admin.Email, all)
}
