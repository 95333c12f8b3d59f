// Package quota implements the subscription collaborator contract: plan
// limits per tier and monthly usage accounting. Usage counters live in Redis
// when configured, or in process memory otherwise.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Tier is a subscription level.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// IsValid reports whether t is a recognised tier.
func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierBasic, TierPro, TierEnterprise:
		return true
	}
	return false
}

// Limits is what a plan allows. Zero values mean unlimited.
type Limits struct {
	Tier           Tier
	MaxDurationS   float64
	MaxMonthlyJobs int
}

// planLimits maps each tier to its allowances.
var planLimits = map[Tier]Limits{
	TierFree:       {Tier: TierFree, MaxDurationS: 600, MaxMonthlyJobs: 10},
	TierBasic:      {Tier: TierBasic, MaxDurationS: 1800, MaxMonthlyJobs: 50},
	TierPro:        {Tier: TierPro, MaxDurationS: 7200, MaxMonthlyJobs: 500},
	TierEnterprise: {Tier: TierEnterprise},
}

// LimitsForTier returns the allowances for t, defaulting unknown tiers to
// free.
func LimitsForTier(t Tier) Limits {
	if l, ok := planLimits[t]; ok {
		return l
	}
	return planLimits[TierFree]
}

// Provider is the quota contract the worker pool consumes.
type Provider interface {
	// PlanLimits returns the user's plan allowances.
	PlanLimits(ctx context.Context, userID string) (Limits, error)

	// RecordUsage accounts one finished job against the user's current
	// month.
	RecordUsage(ctx context.Context, userID, jobID string, durationS float64) error

	// MonthlyJobs returns the number of jobs recorded for the user in the
	// current month.
	MonthlyJobs(ctx context.Context, userID string) (int, error)
}

// TierSource resolves a user's subscription tier. The production
// implementation lives in the billing system; [StaticTiers] covers tests and
// single-tenant deployments.
type TierSource interface {
	Tier(ctx context.Context, userID string) (Tier, error)
}

// StaticTiers is a fixed user→tier assignment with a default for unlisted
// users.
type StaticTiers struct {
	Default Tier
	Users   map[string]Tier
}

func (s StaticTiers) Tier(_ context.Context, userID string) (Tier, error) {
	if t, ok := s.Users[userID]; ok {
		return t, nil
	}
	if s.Default != "" {
		return s.Default, nil
	}
	return TierFree, nil
}

// UsageStore persists per-user monthly counters.
type UsageStore interface {
	// Record adds one job of durationS to the user's counters for month
	// (formatted YYYY-MM).
	Record(ctx context.Context, userID, month string, durationS float64) error

	// Jobs returns the job count for the user and month.
	Jobs(ctx context.Context, userID, month string) (int, error)
}

// CurrentMonth formats now as the usage bucket key (UTC, YYYY-MM).
func CurrentMonth(now time.Time) string {
	return now.UTC().Format("2006-01")
}

// Service wires a tier source and a usage store into a [Provider].
type Service struct {
	tiers TierSource
	usage UsageStore
	now   func() time.Time
}

var _ Provider = (*Service)(nil)

// NewService builds a quota provider. A nil usage store falls back to the
// in-memory counter.
func NewService(tiers TierSource, usage UsageStore) *Service {
	if tiers == nil {
		tiers = StaticTiers{Default: TierFree}
	}
	if usage == nil {
		usage = NewMemoryUsage()
	}
	return &Service{tiers: tiers, usage: usage, now: time.Now}
}

func (s *Service) PlanLimits(ctx context.Context, userID string) (Limits, error) {
	tier, err := s.tiers.Tier(ctx, userID)
	if err != nil {
		return Limits{}, fmt.Errorf("quota: resolve tier: %w", err)
	}
	return LimitsForTier(tier), nil
}

func (s *Service) RecordUsage(ctx context.Context, userID, jobID string, durationS float64) error {
	if err := s.usage.Record(ctx, userID, CurrentMonth(s.now()), durationS); err != nil {
		return fmt.Errorf("quota: record usage for job %s: %w", jobID, err)
	}
	return nil
}

func (s *Service) MonthlyJobs(ctx context.Context, userID string) (int, error) {
	n, err := s.usage.Jobs(ctx, userID, CurrentMonth(s.now()))
	if err != nil {
		return 0, fmt.Errorf("quota: read monthly jobs: %w", err)
	}
	return n, nil
}

// ─── In-memory usage ─────────────────────────────────────────────────────────

type usageKey struct {
	userID string
	month  string
}

type usageCounters struct {
	jobs      int
	durationS float64
}

// MemoryUsage is the process-local [UsageStore]. Counters reset on restart;
// suitable for tests and the single-shot run command only.
type MemoryUsage struct {
	mu       sync.Mutex
	counters map[usageKey]*usageCounters
}

var _ UsageStore = (*MemoryUsage)(nil)

func NewMemoryUsage() *MemoryUsage {
	return &MemoryUsage{counters: make(map[usageKey]*usageCounters)}
}

func (m *MemoryUsage) Record(_ context.Context, userID, month string, durationS float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usageKey{userID: userID, month: month}
	c, ok := m.counters[key]
	if !ok {
		c = &usageCounters{}
		m.counters[key] = c
	}
	c.jobs++
	c.durationS += durationS
	return nil
}

func (m *MemoryUsage) Jobs(_ context.Context, userID, month string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[usageKey{userID: userID, month: month}]; ok {
		return c.jobs, nil
	}
	return 0, nil
}
