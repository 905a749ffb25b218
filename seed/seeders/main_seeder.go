package seeders

import (
	"context"

	"github.com/lac-hong-legacy/guard_api/services/ratelimit"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MainSeeder coordinates all seeding operations
type MainSeeder struct {
	db *gorm.DB
}

func NewMainSeeder(db *gorm.DB) *MainSeeder {
	return &MainSeeder{db: db}
}

// SeedAll writes the quota table from registry. Only quotas need seeding;
// reports and blocks start empty.
func (s *MainSeeder) SeedAll(ctx context.Context, registry *ratelimit.Registry, force bool) error {
	log.Info("Starting database seeding...")

	n, err := NewQuotaSeeder(s.db).SeedQuotas(ctx, registry.Policies(), force)
	if err != nil {
		log.WithError(err).Error("Quota seeding failed")
		return err
	}

	log.WithField("quotas", n).Info("Database seeding completed successfully")
	return nil
}
