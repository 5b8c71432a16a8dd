package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/firestore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

const cacheVersionsCollection = "cacheVersions"

// CacheVersionRepository implements repositories.CacheVersionRepository backed by Firestore transactions.
type CacheVersionRepository struct {
	provider *pfirestore.Provider
	versions *pfirestore.Collection[cacheVersionDocument]
	now      func() time.Time
}

var _ repositories.CacheVersionRepository = (*CacheVersionRepository)(nil)

// NewCacheVersionRepository constructs a Firestore-backed cache version repository.
func NewCacheVersionRepository(provider *pfirestore.Provider) (*CacheVersionRepository, error) {
	if provider == nil {
		return nil, errors.New("cache version repository requires firestore provider")
	}
	return &CacheVersionRepository{
		provider: provider,
		versions: pfirestore.NewCollection[cacheVersionDocument](provider, cacheVersionsCollection),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Bump atomically increments the namespace version, creating it at 1.
func (r *CacheVersionRepository) Bump(ctx context.Context, namespace string) (int64, error) {
	const op = "cacheVersions.bump"
	ns, err := repositories.ValidateNamespace(op, namespace)
	if err != nil {
		return 0, err
	}

	now := r.now()
	var next int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.versions.DocumentRef(ctx, ns)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.NotFound:
			next = 1
			return tx.Create(ref, cacheVersionDocument{Version: next, UpdatedAt: now})
		case codes.OK:
			// proceed
		default:
			return err
		}

		var doc cacheVersionDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore cacheVersions decode %s: %w", ns, err)
		}
		next = doc.Version + 1
		return tx.Set(ref, cacheVersionDocument{Version: next, UpdatedAt: now})
	})
	if err != nil {
		return 0, repositories.NewVersionError(op, repositories.VersionErrorUnavailable, "bump failed", pfirestore.WrapError(op, err))
	}
	return next, nil
}

// Current returns zero for namespaces that were never bumped.
func (r *CacheVersionRepository) Current(ctx context.Context, namespace string) (int64, error) {
	const op = "cacheVersions.current"
	ns, err := repositories.ValidateNamespace(op, namespace)
	if err != nil {
		return 0, err
	}
	doc, err := r.versions.Get(ctx, ns)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return 0, nil
		}
		return 0, repositories.NewVersionError(op, repositories.VersionErrorUnavailable, "read failed", err)
	}
	return doc.Data.Version, nil
}
