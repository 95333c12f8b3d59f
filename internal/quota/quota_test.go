package quota_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/KushagraSharma924/censorly/internal/quota"
)

func TestLimitsForTier(t *testing.T) {
	cases := []struct {
		tier    quota.Tier
		maxJobs int
		maxDur  float64
	}{
		{quota.TierFree, 10, 600},
		{quota.TierBasic, 50, 1800},
		{quota.TierPro, 500, 7200},
		{quota.TierEnterprise, 0, 0},
		{quota.Tier("made-up"), 10, 600},
	}
	for _, tc := range cases {
		l := quota.LimitsForTier(tc.tier)
		if l.MaxMonthlyJobs != tc.maxJobs || l.MaxDurationS != tc.maxDur {
			t.Errorf("LimitsForTier(%q) = %+v, want jobs=%d dur=%v", tc.tier, l, tc.maxJobs, tc.maxDur)
		}
	}
}

func TestStaticTiers(t *testing.T) {
	src := quota.StaticTiers{
		Default: quota.TierBasic,
		Users:   map[string]quota.Tier{"vip": quota.TierEnterprise},
	}
	ctx := context.Background()

	if tier, _ := src.Tier(ctx, "vip"); tier != quota.TierEnterprise {
		t.Errorf("vip tier = %q, want enterprise", tier)
	}
	if tier, _ := src.Tier(ctx, "anyone"); tier != quota.TierBasic {
		t.Errorf("default tier = %q, want basic", tier)
	}
}

func TestServiceMemoryUsage(t *testing.T) {
	svc := quota.NewService(quota.StaticTiers{Default: quota.TierFree}, nil)
	ctx := context.Background()

	n, err := svc.MonthlyJobs(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("fresh user MonthlyJobs = %d, want 0", n)
	}

	for i := 0; i < 3; i++ {
		if err := svc.RecordUsage(ctx, "alice", "job-1", 30); err != nil {
			t.Fatal(err)
		}
	}
	n, err = svc.MonthlyJobs(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("MonthlyJobs = %d, want 3", n)
	}

	// Other users are unaffected.
	if n, _ := svc.MonthlyJobs(ctx, "bob"); n != 0 {
		t.Errorf("bob MonthlyJobs = %d, want 0", n)
	}
}

func TestRedisUsage(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := quota.NewRedisUsageFromClient(client)
	ctx := context.Background()
	month := quota.CurrentMonth(time.Now())

	if n, err := store.Jobs(ctx, "alice", month); err != nil || n != 0 {
		t.Fatalf("Jobs before usage = %d, %v", n, err)
	}

	if err := store.Record(ctx, "alice", month, 120.5); err != nil {
		t.Fatal(err)
	}
	if err := store.Record(ctx, "alice", month, 42); err != nil {
		t.Fatal(err)
	}

	n, err := store.Jobs(ctx, "alice", month)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Jobs = %d, want 2", n)
	}

	// Counters must carry a TTL so stale months age out.
	key := "censorly:usage:alice:" + month
	if ttl := srv.TTL(key); ttl <= 0 {
		t.Errorf("usage key TTL = %v, want positive", ttl)
	}

	// Buckets are per month and per user.
	if n, _ := store.Jobs(ctx, "alice", "1999-01"); n != 0 {
		t.Errorf("old month Jobs = %d, want 0", n)
	}
	if n, _ := store.Jobs(ctx, "bob", month); n != 0 {
		t.Errorf("bob Jobs = %d, want 0", n)
	}
}

func TestCurrentMonth(t *testing.T) {
	ts := time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC)
	if got := quota.CurrentMonth(ts); got != "2026-03" {
		t.Errorf("CurrentMonth = %q, want 2026-03", got)
	}
}
