package handlers

import (
	"context"
	"time"

	"github.com/aegis-labs/warden_api/security"
)

type SecurityAdminInterface interface {
	BanNow(ctx context.Context, ip, reason string, ttl time.Duration) error
	Unban(ctx context.Context, ip string) (bool, error)
	UnbanBulk(ctx context.Context, ips []string) (map[string]bool, error)
	BanTTL(ctx context.Context, ip string) (time.Duration, bool, error)
	CurrentBans(ctx context.Context) ([]security.BanEntry, error)
	TopSuspicious(ctx context.Context, limit int) ([]security.SuspectEntry, error)
}

type OpsMetricsInterface interface {
	MetricsSummary(ctx context.Context, minutes int) ([]security.MinuteMetrics, error)
}
