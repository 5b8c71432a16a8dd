package idempotency

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/firestore"
)

const keyCollection = "idempotencyKeys"

// FirestoreStore keeps keys next to the orders they guard. Expired documents are treated as
// absent on read; a TTL policy on expiresAt removes them eventually.
type FirestoreStore struct {
	keys *pfirestore.Collection[keyDocument]
	uow  *pfirestore.UnitOfWork
}

func NewFirestoreStore(provider *pfirestore.Provider) *FirestoreStore {
	return &FirestoreStore{
		keys: pfirestore.NewCollection[keyDocument](provider, keyCollection),
		uow:  pfirestore.NewUnitOfWork(provider, pfirestore.WithTxTimeout(5*time.Second)),
	}
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	var out Reservation
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		existing, live, err := s.load(ctx, key, now)
		if err != nil {
			return err
		}
		if !live {
			rec := pendingRecord(key, fingerprint, now, effectiveTTL(ttl))
			out = Reservation{State: ReservationStateNew, Record: rec}
			return s.keys.Set(ctx, hashedKey(key), documentFrom(rec))
		}
		switch {
		case existing.Fingerprint != fingerprint:
			return ErrFingerprintMismatch
		case existing.Status == StatusCompleted:
			out = Reservation{State: ReservationStateCompleted, Record: existing}
		default:
			out = Reservation{State: ReservationStatePending, Record: existing}
		}
		return nil
	})
	return out, err
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	return s.uow.RunInTx(ctx, func(ctx context.Context) error {
		existing, _, err := s.load(ctx, key, now)
		if err != nil {
			return err
		}
		rec, err := completeRecord(existing, key, fingerprint, resp, now, effectiveTTL(ttl))
		if err != nil {
			return err
		}
		return s.keys.Set(ctx, hashedKey(key), documentFrom(rec))
	})
}

// Release deletes the key document. A key that is already gone is not an error.
func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.keys.DocumentRef(ctx, hashedKey(key))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && !isNotFound(err) {
		return pfirestore.WrapError(keyCollection+".delete", err)
	}
	return nil
}

// load reads the key inside the current transaction. An expired record counts as absent.
func (s *FirestoreStore) load(ctx context.Context, key string, now time.Time) (Record, bool, error) {
	doc, err := s.keys.Get(ctx, hashedKey(key))
	if isNotFound(err) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec := doc.Data.record()
	return rec, now.Before(rec.ExpiresAt), nil
}

func isNotFound(err error) bool {
	var classified interface{ IsNotFound() bool }
	return errors.As(pfirestore.WrapError(keyCollection, err), &classified) && classified.IsNotFound()
}

type keyDocument struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func documentFrom(r Record) keyDocument {
	return keyDocument{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (d keyDocument) record() Record {
	return Record{
		Key:             d.Key,
		Fingerprint:     d.Fingerprint,
		Status:          Status(d.Status),
		ResponseStatus:  d.ResponseStatus,
		ResponseHeaders: d.ResponseHeaders,
		ResponseBody:    d.ResponseBody,
		CreatedAt:       d.CreatedAt,
		ExpiresAt:       d.ExpiresAt,
	}
}
