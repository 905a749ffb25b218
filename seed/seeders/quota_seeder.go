package seeders

import (
	"context"
	"time"

	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/lac-hong-legacy/guard_api/services/ratelimit"
	"github.com/lac-hong-legacy/guard_api/services/repositories"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const seedActor = "seed"

// QuotaSeeder stores policies as overrides so running instances pick them up
// on their next reload.
type QuotaSeeder struct {
	repo *repositories.QuotaRepository
}

func NewQuotaSeeder(db *gorm.DB) *QuotaSeeder {
	return &QuotaSeeder{repo: repositories.NewQuotaRepository(db)}
}

// SeedQuotas writes one override per policy. Classes that already carry an
// override are left alone unless force is set.
func (s *QuotaSeeder) SeedQuotas(ctx context.Context, policies []ratelimit.Policy, force bool) (int, error) {
	existing, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	present := make(map[string]struct{}, len(existing))
	for _, o := range existing {
		present[o.EndpointClass] = struct{}{}
	}

	written := 0
	for _, p := range policies {
		if _, ok := present[string(p.Class)]; ok && !force {
			log.WithField("class", p.Class).Info("Quota override exists, skipping")
			continue
		}
		err := s.repo.Upsert(ctx, &model.QuotaPolicyOverride{
			EndpointClass: string(p.Class),
			MaxRequests:   p.MaxRequests,
			WindowSeconds: int(p.Window / time.Second),
			IsActive:      p.Active,
			UpdatedBy:     seedActor,
		})
		if err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}
