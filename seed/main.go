// Operator tool: seeds the quota table and mints moderator tokens.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/lac-hong-legacy/guard_api/seed/seeders"
	"github.com/lac-hong-legacy/guard_api/services"
	"github.com/lac-hong-legacy/guard_api/services/ratelimit"
	"github.com/lac-hong-legacy/guard_api/shared"
	log "github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using system environment variables")
	}

	var (
		seedType = flag.String("type", "quotas", "What to do: quotas, token")
		driver   = flag.String("driver", shared.GetEnv("DB_DRIVER", services.DriverPostgres), "Database driver: postgres, sqlite")
		dbPath   = flag.String("db", shared.GetEnv("DB_DATABASE", ""), "sqlite path, or postgres DSN (defaults to DB_* env)")
		policies = flag.String("policies", shared.GetEnv("QUOTA_POLICY_FILE", ""), "YAML quota policy file")
		force    = flag.Bool("force", false, "Overwrite existing quota overrides")
		userID   = flag.String("user", "", "Subject of the minted token")
		email    = flag.String("email", "", "Email claim of the minted token")
		role     = flag.String("role", string(model.RoleMod), "Role claim: user, moderator, admin")
		help     = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	switch *seedType {
	case "quotas":
		if err := seedQuotas(*driver, *dbPath, *policies, *force); err != nil {
			log.WithError(err).Fatal("Failed to seed quotas")
		}
	case "token":
		token, err := mintToken(*userID, *email, *role)
		if err != nil {
			log.WithError(err).Fatal("Failed to mint token")
		}
		fmt.Println(token)
	default:
		log.Fatalf("Unknown seed type: %s. Use 'quotas' or 'token'", *seedType)
	}
}

func seedQuotas(driver, database, policyFile string, force bool) error {
	registry := ratelimit.NewRegistry()
	if policyFile != "" {
		if err := registry.LoadFile(policyFile); err != nil {
			return err
		}
	}

	db := services.NewDatabaseService(driver, database)
	if err := db.Start(); err != nil {
		return err
	}
	defer db.Shutdown()

	return seeders.NewMainSeeder(db.Db()).SeedAll(context.Background(), registry, force)
}

func mintToken(userID, email, role string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("-user is required")
	}
	r := model.ParseRole(role)
	if r == model.RoleAnonymous {
		return "", fmt.Errorf("unknown role %q", role)
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return "", fmt.Errorf("JWT_SECRET is required")
	}
	jwtSvc := services.NewJWTService(secret, shared.GetEnvDuration("JWT_ACCESS_TTL", 0))
	return jwtSvc.ToJWT(userID, email, r)
}
