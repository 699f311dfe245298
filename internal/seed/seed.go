package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	referencedomain "github.com/smallbiznis/sentinel/internal/reference/domain"
	"gorm.io/gorm"
)

// baselineCountryRisk holds the default weights seeded on first run, derived
// from public FATF risk categories. Any existing row for a country disables
// its entry here; operators manage live weights through the reference API.
var baselineCountryRisk = []struct {
	Code   string
	Weight float64
}{
	{"US", 0.10},
	{"GB", 0.10},
	{"DE", 0.10},
	{"JP", 0.10},
	{"SG", 0.15},
	{"AE", 0.40},
	{"NG", 0.60},
	{"PA", 0.65},
	{"MM", 0.80},
	{"IR", 0.95},
	{"KP", 1.00},
}

// baselineEffectiveFrom backdates seeded weights so historical transactions
// resolve a weight on a fresh install.
var baselineEffectiveFrom = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// EnsureBaselineCountryRisk seeds default country risk weights for startup bootstrap.
func EnsureBaselineCountryRisk(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entry := range baselineCountryRisk {
			if err := ensureCountryRiskTx(ctx, tx, node, entry.Code, entry.Weight); err != nil {
				return err
			}
		}
		return nil
	})
}

func ensureCountryRiskTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, code string, weight float64) error {
	var existing referencedomain.CountryRiskScore
	err := tx.WithContext(ctx).Where("country_code = ?", code).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	row := referencedomain.CountryRiskScore{
		ID:            node.Generate(),
		CountryCode:   code,
		RiskWeight:    weight,
		EffectiveFrom: baselineEffectiveFrom,
		CreatedAt:     time.Now().UTC(),
	}
	return tx.WithContext(ctx).Create(&row).Error
}
