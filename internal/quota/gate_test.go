package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/esg-lite/emissions-pipeline/internal/models"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
)

type fakeCounters struct {
	counts map[string]int64
	err    error
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{counts: make(map[string]int64)}
}

func (f *fakeCounters) Get(ctx context.Context, key string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[key], nil
}

func (f *fakeCounters) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	return f.counts[key], nil
}

type fakeMonthly struct {
	documents int
	reports   int
	err       error
}

func (f *fakeMonthly) MonthlyUsage(ctx context.Context, orgID uuid.UUID, now time.Time) (*models.OrganizationQuota, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.OrganizationQuota{
		OrganizationID: orgID,
		Month:          models.QuotaMonth(now),
		DocumentsCount: f.documents,
		ReportsCount:   f.reports,
	}, nil
}

func (f *fakeMonthly) IncrementDocuments(ctx context.Context, orgID uuid.UUID, now time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.documents++
	return nil
}

func (f *fakeMonthly) IncrementReports(ctx context.Context, orgID uuid.UUID, now time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.reports++
	return nil
}

func testConfig() *Config {
	return &Config{
		Window: time.Minute,
		RateLimits: map[Tier]int{
			TierFree:       3,
			TierPro:        10,
			TierEnterprise: 30,
		},
		MonthlyDocuments: 5,
		MonthlyReports:   2,
	}
}

func TestCheckWindowEnforcesTierLimit(t *testing.T) {
	counters := newFakeCounters()
	gate := NewGate(counters, &fakeMonthly{}, testConfig(), logger.NewTestLogger())
	gate.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 30, 0, time.UTC) }
	orgID := uuid.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d := gate.CheckWindow(ctx, orgID, TierFree); !d.Allowed {
			t.Fatalf("request %d should be admitted: %+v", i+1, d)
		}
		gate.RecordRequest(ctx, orgID)
	}

	d := gate.CheckWindow(ctx, orgID, TierFree)
	if d.Allowed {
		t.Fatalf("fourth request should be rejected, got %+v", d)
	}
	if d.RetryAfterSeconds <= 0 || d.RetryAfterSeconds > 60 {
		t.Fatalf("retry-after out of range: %d", d.RetryAfterSeconds)
	}
}

func TestCheckWindowUnknownTierFallsBackToFree(t *testing.T) {
	gate := NewGate(newFakeCounters(), &fakeMonthly{}, testConfig(), logger.NewTestLogger())

	d := gate.CheckWindow(context.Background(), uuid.New(), Tier("PLATINUM"))
	if !d.Allowed || d.Remaining != 3 {
		t.Fatalf("unknown tier should use the FREE limit, got %+v", d)
	}
}

func TestCheckWindowFailsOpenOnStoreError(t *testing.T) {
	counters := newFakeCounters()
	counters.err = errors.New("redis: connection refused")
	log := logger.NewTestLogger()
	gate := NewGate(counters, &fakeMonthly{}, testConfig(), log)

	d := gate.CheckWindow(context.Background(), uuid.New(), TierFree)
	if !d.Allowed {
		t.Fatalf("unreachable store must fail open, got %+v", d)
	}
	if !log.HasEntry("WARN", "failing open") {
		t.Fatalf("fail-open must be logged, entries: %v", log.Entries())
	}
}

func TestRecordRequestOnlyConsumesAfterSuccess(t *testing.T) {
	counters := newFakeCounters()
	gate := NewGate(counters, &fakeMonthly{}, testConfig(), logger.NewTestLogger())
	orgID := uuid.New()
	ctx := context.Background()

	// Checking repeatedly without recording must not consume budget.
	for i := 0; i < 10; i++ {
		if d := gate.CheckWindow(ctx, orgID, TierFree); !d.Allowed {
			t.Fatalf("check alone consumed budget on iteration %d", i)
		}
	}
}

func TestMonthlyCeilingFailsClosed(t *testing.T) {
	monthly := &fakeMonthly{err: errors.New("pq: connection refused")}
	gate := NewGate(newFakeCounters(), monthly, testConfig(), logger.NewTestLogger())

	err := gate.CheckMonthlyDocuments(context.Background(), uuid.New())
	if !errors.Is(err, ErrQuotaStoreUnavailable) {
		t.Fatalf("expected ErrQuotaStoreUnavailable, got %v", err)
	}
}

func TestMonthlyCeilingRejectsAtLimit(t *testing.T) {
	monthly := &fakeMonthly{documents: 5, reports: 1}
	gate := NewGate(newFakeCounters(), monthly, testConfig(), logger.NewTestLogger())
	ctx := context.Background()
	orgID := uuid.New()

	if err := gate.CheckMonthlyDocuments(ctx, orgID); !errors.Is(err, ErrMonthlyQuotaExceeded) {
		t.Fatalf("expected documents ceiling hit, got %v", err)
	}
	if err := gate.CheckMonthlyReports(ctx, orgID); err != nil {
		t.Fatalf("reports should still be admitted, got %v", err)
	}

	gate.RecordReport(ctx, orgID)
	if err := gate.CheckMonthlyReports(ctx, orgID); !errors.Is(err, ErrMonthlyQuotaExceeded) {
		t.Fatalf("expected reports ceiling hit, got %v", err)
	}
}

func TestCurrentUsageSnapshot(t *testing.T) {
	counters := newFakeCounters()
	monthly := &fakeMonthly{documents: 2, reports: 1}
	gate := NewGate(counters, monthly, testConfig(), logger.NewTestLogger())
	ctx := context.Background()
	orgID := uuid.New()

	gate.RecordRequest(ctx, orgID)

	usage, err := gate.CurrentUsage(ctx, orgID, TierPro)
	if err != nil {
		t.Fatalf("current usage: %v", err)
	}
	if usage.WindowCount != 1 || usage.WindowLimit != 10 {
		t.Fatalf("unexpected window usage: %+v", usage)
	}
	if usage.MonthlyDocuments != 2 || usage.MonthlyDocLimit != 5 {
		t.Fatalf("unexpected monthly documents: %+v", usage)
	}
}
