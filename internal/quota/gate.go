package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/esg-lite/emissions-pipeline/internal/models"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
)

// Tier is the subscription tier driving the per-window rate limit.
type Tier string

const (
	TierFree       Tier = "FREE"
	TierPro        Tier = "PRO"
	TierEnterprise Tier = "ENTERPRISE"
)

// ErrMonthlyQuotaExceeded is terminal for the current calendar month.
var ErrMonthlyQuotaExceeded = errors.New("monthly quota exceeded")

// ErrQuotaStoreUnavailable wraps monthly-counter storage failures. Monthly
// ceilings never fail open, so the caller surfaces this as a 503.
var ErrQuotaStoreUnavailable = errors.New("quota store unavailable")

// Decision is the admission answer for one request.
type Decision struct {
	Allowed           bool   `json:"allowed"`
	Remaining         int    `json:"remaining"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// CounterStore holds the short-lived window counters. Reads and increments
// are separate on purpose: CheckWindow must not consume budget, and the
// increment happens only after the gated operation succeeded.
type CounterStore interface {
	Get(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// MonthlyUsageStore holds the hard monthly ceilings.
type MonthlyUsageStore interface {
	MonthlyUsage(ctx context.Context, orgID uuid.UUID, now time.Time) (*models.OrganizationQuota, error)
	IncrementDocuments(ctx context.Context, orgID uuid.UUID, now time.Time) error
	IncrementReports(ctx context.Context, orgID uuid.UUID, now time.Time) error
}

// Config sets window size and limits; none are hard-coded at call sites.
type Config struct {
	Window           time.Duration
	RateLimits       map[Tier]int
	MonthlyDocuments int
	MonthlyReports   int
}

// Gate is the per-organization admission control in front of job
// submission. The rate window fails open when its store is unreachable;
// monthly ceilings fail closed.
type Gate struct {
	counters CounterStore
	monthly  MonthlyUsageStore
	cfg      *Config
	logger   logger.Logger
	now      func() time.Time
}

func NewGate(counters CounterStore, monthly MonthlyUsageStore, cfg *Config, log logger.Logger) *Gate {
	return &Gate{
		counters: counters,
		monthly:  monthly,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
	}
}

func (g *Gate) limitFor(tier Tier) int {
	if limit, ok := g.cfg.RateLimits[tier]; ok {
		return limit
	}
	return g.cfg.RateLimits[TierFree]
}

func (g *Gate) windowKey(orgID uuid.UUID, at time.Time) string {
	bucket := at.Unix() / int64(g.cfg.Window.Seconds())
	return fmt.Sprintf("ratelimit:ocr:%s:%d", orgID, bucket)
}

// CheckWindow answers whether the organization may submit one more OCR
// request in the current window. Availability wins over strict enforcement:
// if the counter store is unreachable the request is admitted and the
// failure logged.
func (g *Gate) CheckWindow(ctx context.Context, orgID uuid.UUID, tier Tier) Decision {
	now := g.now()
	limit := g.limitFor(tier)

	count, err := g.counters.Get(ctx, g.windowKey(orgID, now))
	if err != nil {
		g.logger.Warn("rate limit store unreachable, failing open",
			logger.String("organizationId", orgID.String()),
			logger.Error(err),
		)
		return Decision{Allowed: true, Remaining: limit}
	}

	if count >= int64(limit) {
		windowSec := int64(g.cfg.Window.Seconds())
		retryAfter := windowSec - now.Unix()%windowSec
		return Decision{
			Allowed:           false,
			Remaining:         0,
			RetryAfterSeconds: int(retryAfter),
			Reason:            fmt.Sprintf("rate limit of %d requests per %s reached", limit, g.cfg.Window),
		}
	}

	return Decision{Allowed: true, Remaining: limit - int(count)}
}

// RecordRequest consumes one unit of window budget. Called strictly after
// the gated operation succeeded, so failed attempts are never penalized.
func (g *Gate) RecordRequest(ctx context.Context, orgID uuid.UUID) {
	now := g.now()
	if _, err := g.counters.Incr(ctx, g.windowKey(orgID, now), g.cfg.Window*2); err != nil {
		g.logger.Warn("failed to record rate limit counter",
			logger.String("organizationId", orgID.String()),
			logger.Error(err),
		)
	}
}

// CheckMonthlyDocuments enforces the documents-per-month ceiling.
func (g *Gate) CheckMonthlyDocuments(ctx context.Context, orgID uuid.UUID) error {
	return g.checkMonthly(ctx, orgID, "documents")
}

// CheckMonthlyReports enforces the reports-per-month ceiling.
func (g *Gate) CheckMonthlyReports(ctx context.Context, orgID uuid.UUID) error {
	return g.checkMonthly(ctx, orgID, "reports")
}

func (g *Gate) checkMonthly(ctx context.Context, orgID uuid.UUID, kind string) error {
	usage, err := g.monthly.MonthlyUsage(ctx, orgID, g.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQuotaStoreUnavailable, err)
	}
	var used, ceiling int
	switch kind {
	case "documents":
		used, ceiling = usage.DocumentsCount, g.cfg.MonthlyDocuments
	case "reports":
		used, ceiling = usage.ReportsCount, g.cfg.MonthlyReports
	}
	if ceiling > 0 && used >= ceiling {
		return fmt.Errorf("%w: %d %s this month (limit %d)", ErrMonthlyQuotaExceeded, used, kind, ceiling)
	}
	return nil
}

// RecordDocument bumps the monthly document counter after a successful upload.
func (g *Gate) RecordDocument(ctx context.Context, orgID uuid.UUID) {
	if err := g.monthly.IncrementDocuments(ctx, orgID, g.now()); err != nil {
		g.logger.Error("failed to record monthly document counter",
			logger.String("organizationId", orgID.String()),
			logger.Error(err),
		)
	}
}

// RecordReport bumps the monthly report counter after a report is created.
func (g *Gate) RecordReport(ctx context.Context, orgID uuid.UUID) {
	if err := g.monthly.IncrementReports(ctx, orgID, g.now()); err != nil {
		g.logger.Error("failed to record monthly report counter",
			logger.String("organizationId", orgID.String()),
			logger.Error(err),
		)
	}
}

// Usage is the current quota snapshot exposed on the API.
type Usage struct {
	WindowCount      int64 `json:"windowCount"`
	WindowLimit      int   `json:"windowLimit"`
	MonthlyDocuments int   `json:"monthlyDocuments"`
	MonthlyDocLimit  int   `json:"monthlyDocumentsLimit"`
	MonthlyReports   int   `json:"monthlyReports"`
	MonthlyRepLimit  int   `json:"monthlyReportsLimit"`
}

// CurrentUsage reads both counter sources for display purposes.
func (g *Gate) CurrentUsage(ctx context.Context, orgID uuid.UUID, tier Tier) (*Usage, error) {
	now := g.now()
	count, err := g.counters.Get(ctx, g.windowKey(orgID, now))
	if err != nil {
		count = 0
	}
	usage, err := g.monthly.MonthlyUsage(ctx, orgID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuotaStoreUnavailable, err)
	}
	return &Usage{
		WindowCount:      count,
		WindowLimit:      g.limitFor(tier),
		MonthlyDocuments: usage.DocumentsCount,
		MonthlyDocLimit:  g.cfg.MonthlyDocuments,
		MonthlyReports:   usage.ReportsCount,
		MonthlyRepLimit:  g.cfg.MonthlyReports,
	}, nil
}
