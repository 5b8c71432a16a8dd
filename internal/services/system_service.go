package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

// BuildInfo identifies the running binary on /readyz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	// CacheVersions adds a probe of the orders namespace when set.
	CacheVersions CacheVersionService
	Build         BuildInfo
	Clock         func() time.Time
}

type systemService struct {
	health   repositories.HealthRepository
	versions CacheVersionService
	build    BuildInfo
	now      func() time.Time
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		health:   deps.HealthRepository,
		versions: deps.CacheVersions,
		build:    deps.Build,
		now:      func() time.Time { return clock().UTC() },
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

// HealthReport runs the dependency probes and stamps build metadata. The overall status is
// the worst status among the repository verdict and every check.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}
	now := s.now()

	if report.Checks == nil {
		report.Checks = make(map[string]domain.SystemHealthCheck)
	}
	if _, probed := report.Checks["cacheVersions"]; s.versions != nil && !probed {
		report.Checks["cacheVersions"] = s.probeVersions(ctx)
	}

	status := report.Status
	for _, check := range report.Checks {
		status = worseStatus(status, check.Status)
	}
	report.Status = worseStatus(status, domain.HealthStatusOK)

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	report.Version = orDefault(report.Version, s.build.Version)
	report.CommitSHA = orDefault(report.CommitSHA, s.build.CommitSHA)
	report.Environment = orDefault(report.Environment, s.build.Environment)
	return report, nil
}

// probeVersions reads the orders namespace counter. Failure degrades the report only.
func (s *systemService) probeVersions(ctx context.Context) domain.SystemHealthCheck {
	started := s.now()
	version, err := s.versions.CurrentVersion(ctx, CacheNamespaceOrders)
	check := domain.SystemHealthCheck{CheckedAt: started, Latency: s.now().Sub(started)}
	if err != nil {
		check.Status = domain.HealthStatusDegraded
		check.Error = err.Error()
		return check
	}
	check.Status = domain.HealthStatusOK
	check.Detail = fmt.Sprintf("orders namespace at version %d", version)
	return check
}

var statusRank = map[string]int{
	domain.HealthStatusOK:       1,
	domain.HealthStatusDegraded: 2,
	domain.HealthStatusError:    3,
}

// worseStatus treats unknown non-empty statuses as degraded. Empty means "no verdict".
func worseStatus(a, b string) string {
	a, b = knownStatus(a), knownStatus(b)
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

func knownStatus(s string) string {
	if _, ok := statusRank[s]; ok || s == "" {
		return s
	}
	return domain.HealthStatusDegraded
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
