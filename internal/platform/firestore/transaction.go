package firestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/status"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc is the body of a transaction. The client may run it more than once.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts caps how often a contended transaction is retried.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction including retries. It never extends a shorter
// deadline already on ctx.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// TxState is carried on the context while a unit of work runs. It records the versions of
// documents read under the transaction so writes can be checked without a second read,
// which Firestore forbids once writes were queued.
type TxState struct {
	Tx *firestore.Transaction

	mu       sync.Mutex
	versions map[string]int64
}

// RememberVersion records the version observed for a document path.
func (s *TxState) RememberVersion(path string, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versions == nil {
		s.versions = make(map[string]int64)
	}
	s.versions[path] = version
}

// Version returns the version observed for a document path.
func (s *TxState) Version(path string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[path]
	return v, ok
}

type txStateKey struct{}

// WithTxState attaches transaction state to ctx.
func WithTxState(ctx context.Context, state *TxState) context.Context {
	return context.WithValue(ctx, txStateKey{}, state)
}

// TxStateFromContext returns the transaction state when ctx is inside a unit of work.
func TxStateFromContext(ctx context.Context) (*TxState, bool) {
	state, ok := ctx.Value(txStateKey{}).(*TxState)
	return state, ok && state != nil && state.Tx != nil
}

// RunTransaction runs fn on client. Errors fn returns itself (a rejected transition, a version
// conflict) reach the caller as they are; only RPC failures are wrapped.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	switch {
	case client == nil:
		return errors.New("firestore: transaction without a client")
	case fn == nil:
		return errors.New("firestore: transaction without a body")
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	err := client.RunTransaction(ctx, fn, firestore.MaxAttempts(cfg.attempts))
	if _, isRPC := status.FromError(err); err != nil && isRPC {
		return WrapError("transaction", err)
	}
	return err
}

// UnitOfWork runs repository calls inside one Firestore transaction. The callback may be
// retried by the client library on contention, so it must not have side effects outside
// the transaction.
type UnitOfWork struct {
	provider *Provider
	opts     []TxOption
}

// NewUnitOfWork constructs a UnitOfWork backed by provider.
func NewUnitOfWork(provider *Provider, opts ...TxOption) *UnitOfWork {
	return &UnitOfWork{provider: provider, opts: opts}
}

// RunInTx implements repositories.UnitOfWork. Nested calls join the outer transaction.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.provider == nil {
		return errors.New("firestore: unit of work not initialised")
	}
	if _, ok := TxStateFromContext(ctx); ok {
		return fn(ctx)
	}
	return u.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(WithTxState(ctx, &TxState{Tx: tx}))
	}, u.opts...)
}
