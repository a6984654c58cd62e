// Package aggregate serves stats, skill rankings and trends from the
// versioned cache, recomputing from the store on a miss.
package aggregate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/jobfeed/internal/cache"
	"github.com/sells-group/jobfeed/internal/model"
)

// Source computes aggregates from stored records.
type Source interface {
	Stats(ctx context.Context, topSkills int) (*model.Stats, error)
	TopSkills(ctx context.Context, limit int) ([]model.SkillCount, error)
	Trends(ctx context.Context, since time.Time) ([]model.TrendPoint, error)
}

// Config sets cache lifetimes.
type Config struct {
	StatsTTL       time.Duration `mapstructure:"stats_ttl"`
	SkillsTTL      time.Duration `mapstructure:"skills_ttl"`
	TrendsTTL      time.Duration `mapstructure:"trends_ttl"`
	StatsTopSkills int           `mapstructure:"stats_top_skills"`
}

// DefaultConfig caches stats for 5 minutes and rankings for an hour.
func DefaultConfig() Config {
	return Config{
		StatsTTL:       5 * time.Minute,
		SkillsTTL:      time.Hour,
		TrendsTTL:      time.Hour,
		StatsTopSkills: 10,
	}
}

// Service is the cached read side.
type Service struct {
	src   Source
	cache *cache.Cache
	cfg   Config
	now   func() time.Time
}

// New creates a Service; zero config values take defaults.
func New(src Source, c *cache.Cache, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.StatsTTL <= 0 {
		cfg.StatsTTL = def.StatsTTL
	}
	if cfg.SkillsTTL <= 0 {
		cfg.SkillsTTL = def.SkillsTTL
	}
	if cfg.TrendsTTL <= 0 {
		cfg.TrendsTTL = def.TrendsTTL
	}
	if cfg.StatsTopSkills <= 0 {
		cfg.StatsTopSkills = def.StatsTopSkills
	}
	return &Service{src: src, cache: c, cfg: cfg, now: time.Now}
}

// Stats returns the aggregate snapshot.
func (s *Service) Stats(ctx context.Context) (*model.Stats, error) {
	return cache.GetOrCompute(ctx, s.cache, cache.StatsKey(""), s.cfg.StatsTTL,
		func(ctx context.Context) (*model.Stats, error) {
			return s.src.Stats(ctx, s.cfg.StatsTopSkills)
		})
}

// TopSkills returns the limit most listed skills.
func (s *Service) TopSkills(ctx context.Context, limit int) ([]model.SkillCount, error) {
	return cache.GetOrCompute(ctx, s.cache, cache.SkillsKey(limit), s.cfg.SkillsTTL,
		func(ctx context.Context) ([]model.SkillCount, error) {
			return s.src.TopSkills(ctx, limit)
		})
}

// Trends returns daily new-record counts for the last days days.
func (s *Service) Trends(ctx context.Context, days int) ([]model.TrendPoint, error) {
	return cache.GetOrCompute(ctx, s.cache, cache.TrendsKey(days), s.cfg.TrendsTTL,
		func(ctx context.Context) ([]model.TrendPoint, error) {
			today := s.now().UTC().Truncate(24 * time.Hour)
			return s.src.Trends(ctx, today.AddDate(0, 0, -(days - 1)))
		})
}

// InvalidateAggregates drops every aggregate of the current cache version.
func (s *Service) InvalidateAggregates(ctx context.Context) {
	s.cache.InvalidateKinds(ctx, cache.AggregateKinds...)
	zap.L().Debug("aggregates invalidated", zap.String("component", "aggregate"), zap.String("version", s.cache.Version()))
}
