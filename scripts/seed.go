//go:build ignore

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/opsmith/cloudbase/internal/database"
	"github.com/opsmith/cloudbase/internal/database/models"
	"github.com/opsmith/cloudbase/internal/ledger"
	"github.com/opsmith/cloudbase/internal/registry"
	"github.com/opsmith/cloudbase/internal/versioning"
	"github.com/opsmith/cloudbase/pkg/config"
	"github.com/opsmith/cloudbase/pkg/util"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Server.Env, "cloudbase-seed")

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	led := ledger.New(db, logger)
	reg := registry.NewService(db, led, versioning.NewGuard(), logger)
	ctx := context.Background()

	slug := os.Getenv("SEED_ORG_SLUG")
	if slug == "" {
		slug = "default-org"
	}

	var existing models.Organisation
	if err := db.Where("slug = ?", slug).First(&existing).Error; err == nil {
		fmt.Printf("Organisation already exists: %s\n", slug)
		return
	}

	org := models.Organisation{
		Name: "Default Organisation",
		Slug: slug,
		Plan: "free",
	}
	if _, err := reg.Create(ctx, &org); err != nil {
		log.Fatalf("failed to create organisation: %v", err)
	}

	account := models.CloudAccount{
		OrganisationID:    org.ID,
		Provider:          models.ProviderAWS,
		AccountIdentifier: "123456789012",
		Region:            "us-east-1",
	}
	if _, err := reg.Create(ctx, &account); err != nil {
		log.Fatalf("failed to create cloud account: %v", err)
	}

	env := models.Environment{
		OrganisationID: org.ID,
		CloudAccountID: account.ID,
		Name:           "sandbox",
		State:          models.EnvironmentStateCreating,
		Region:         "us-east-1",
	}
	envVersion, err := reg.Create(ctx, &env)
	if err != nil {
		log.Fatalf("failed to create environment: %v", err)
	}

	fmt.Printf("Seed data created successfully!\n")
	fmt.Printf("Organisation: %s (%s)\n", org.Name, org.ID)
	fmt.Printf("Cloud account: %s %s (%s)\n", account.Provider, account.AccountIdentifier, account.ID)
	fmt.Printf("Environment: %s (%s) version %s\n", env.Name, env.ID, envVersion)
}
