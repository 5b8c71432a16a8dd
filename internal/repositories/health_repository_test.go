package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
)

func okProbe(context.Context) error { return nil }

func failingProbe(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func TestCollectFoldsCheckStatuses(t *testing.T) {
	tests := []struct {
		name       string
		checks     []DependencyCheck
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name: "everything ok",
			checks: []DependencyCheck{
				{Name: "database", Critical: true, Check: okProbe},
				{Name: "redis", Check: okProbe},
			},
			wantStatus: domain.HealthStatusOK,
			wantChecks: map[string]string{"database": domain.HealthStatusOK, "redis": domain.HealthStatusOK},
		},
		{
			name: "optional failure degrades",
			checks: []DependencyCheck{
				{Name: "database", Critical: true, Check: okProbe},
				{Name: "pubsub", Check: failingProbe("connection refused")},
			},
			wantStatus: domain.HealthStatusDegraded,
			wantChecks: map[string]string{"database": domain.HealthStatusOK, "pubsub": domain.HealthStatusDegraded},
		},
		{
			name: "critical failure wins",
			checks: []DependencyCheck{
				{Name: "redis", Check: failingProbe("down")},
				{Name: "database", Critical: true, Check: failingProbe("down")},
			},
			wantStatus: domain.HealthStatusError,
			wantChecks: map[string]string{"database": domain.HealthStatusError, "redis": domain.HealthStatusDegraded},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo, err := NewDependencyHealthRepository(tc.checks)
			require.NoError(t, err)

			report, err := repo.Collect(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, report.Status)
			got := make(map[string]string, len(report.Checks))
			for name, check := range report.Checks {
				got[name] = check.Status
			}
			assert.Equal(t, tc.wantChecks, got)
		})
	}
}

func TestCollectStampsClockAndError(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "minio", Check: failingProbe("bucket missing")},
	}, WithDependencyClock(func() time.Time { return now }))
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now, report.GeneratedAt)
	check := report.Checks["minio"]
	assert.Equal(t, now, check.CheckedAt)
	assert.Equal(t, "bucket missing", check.Error)
	assert.Equal(t, "bucket missing", check.Detail)
}

func TestCollectReportsSlowProbeAsTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{{
		Name:    "secrets",
		Timeout: 5 * time.Millisecond,
		Check: func(ctx context.Context) error {
			select {
			case <-time.After(200 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}})
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)
	check := report.Checks["secrets"]
	assert.Equal(t, "timeout", check.Detail)
	assert.Equal(t, domain.HealthStatusDegraded, check.Status)
}

func TestNewDependencyHealthRepositoryValidatesChecks(t *testing.T) {
	cases := map[string][]DependencyCheck{
		"no checks":  nil,
		"blank name": {{Name: " ", Check: okProbe}},
		"nil probe":  {{Name: "database"}},
		"duplicate":  {{Name: "redis", Check: okProbe}, {Name: "redis", Check: okProbe}},
	}
	for name, checks := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewDependencyHealthRepository(checks)
			assert.Error(t, err)
		})
	}
}
