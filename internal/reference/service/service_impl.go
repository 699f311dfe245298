package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sentinel/internal/cache"
	"github.com/smallbiznis/sentinel/internal/clock"
	"github.com/smallbiznis/sentinel/internal/reference/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	cacheTTL = 5 * time.Minute

	// Lookup cache keys truncate asOf to the hour; weights rarely change
	// intra-hour and the TTL bounds staleness after an upsert anyway.
	cacheKeyResolution = time.Hour
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock

	lookups    cache.Cache[string, float64]
	generation atomic.Uint64
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("reference.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		clock:   p.Clock,
		lookups: cache.NewTTLCache[string, float64](),
	}
}

func (s *Service) LookupCountryRisk(ctx context.Context, countryCode string, asOf time.Time) (float64, error) {
	code, err := normalizeCountryCode(countryCode)
	if err != nil {
		return 0, err
	}

	key := s.cacheKey(code, asOf)
	if weight, ok := s.lookups.Get(key); ok {
		return weight, nil
	}

	score, err := s.repo.FindEffective(ctx, s.db, code, asOf.UTC())
	if err != nil {
		return 0, fmt.Errorf("lookup country risk: %w", err)
	}
	if score == nil {
		return 0, domain.ErrNotFound
	}

	s.lookups.Set(key, score.RiskWeight, cacheTTL)
	return score.RiskWeight, nil
}

func (s *Service) Snapshot(ctx context.Context, asOf time.Time) (domain.Snapshot, error) {
	scores, err := s.repo.ListEffective(ctx, s.db, asOf.UTC())
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot country risk: %w", err)
	}

	// Rows arrive newest-first per country, so the first weight wins.
	weights := make(map[string]float64, len(scores))
	for _, score := range scores {
		if _, ok := weights[score.CountryCode]; ok {
			continue
		}
		weights[score.CountryCode] = score.RiskWeight
	}
	return domain.NewSnapshot(asOf.UTC(), weights), nil
}

func (s *Service) Get(ctx context.Context, req domain.GetCountryRiskRequest) (domain.CountryRiskScore, error) {
	code, err := normalizeCountryCode(req.CountryCode)
	if err != nil {
		return domain.CountryRiskScore{}, err
	}

	asOf := s.clock.Now().UTC()
	if req.AsOf != nil {
		asOf = req.AsOf.UTC()
	}

	score, err := s.repo.FindEffective(ctx, s.db, code, asOf)
	if err != nil {
		return domain.CountryRiskScore{}, fmt.Errorf("get country risk: %w", err)
	}
	if score == nil {
		return domain.CountryRiskScore{}, domain.ErrNotFound
	}
	return *score, nil
}

func (s *Service) Upsert(ctx context.Context, req domain.UpsertCountryRiskRequest) (domain.CountryRiskScore, error) {
	code, err := normalizeCountryCode(req.CountryCode)
	if err != nil {
		return domain.CountryRiskScore{}, err
	}
	if req.RiskWeight < 0 || req.RiskWeight > 1 {
		return domain.CountryRiskScore{}, domain.ErrInvalidRiskWeight
	}

	now := s.clock.Now().UTC()
	effectiveFrom := now
	if req.EffectiveFrom != nil {
		effectiveFrom = req.EffectiveFrom.UTC()
	}
	if effectiveFrom.IsZero() {
		return domain.CountryRiskScore{}, domain.ErrInvalidEffectiveRange
	}

	score := domain.CountryRiskScore{
		ID:            s.genID.Generate(),
		CountryCode:   code,
		RiskWeight:    req.RiskWeight,
		EffectiveFrom: effectiveFrom,
		CreatedAt:     now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.CloseOpenRange(ctx, tx, code, effectiveFrom); err != nil {
			return fmt.Errorf("close open range: %w", err)
		}
		if err := s.repo.Insert(ctx, tx, &score); err != nil {
			return fmt.Errorf("insert country risk: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.CountryRiskScore{}, err
	}

	// Invalidate cached lookups by rotating the key generation.
	s.generation.Add(1)

	s.log.Info("country risk updated",
		zap.String("country_code", code),
		zap.Float64("risk_weight", req.RiskWeight),
		zap.Time("effective_from", effectiveFrom),
	)
	return score, nil
}

func (s *Service) cacheKey(code string, asOf time.Time) string {
	return fmt.Sprintf("%d|%s|%s", s.generation.Load(), code, asOf.UTC().Truncate(cacheKeyResolution).Format(time.RFC3339))
}

func normalizeCountryCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 {
		return "", domain.ErrInvalidCountryCode
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", domain.ErrInvalidCountryCode
		}
	}
	return code, nil
}
