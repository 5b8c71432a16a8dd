package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document is a decoded snapshot plus the metadata repositories need for version checks.
type Document[T any] struct {
	ID         string
	Path       string
	Data       T
	UpdateTime time.Time
}

// Collection is a typed view over one collection path, e.g. "orders" or
// "orders/<id>/items". Reads and writes join the transaction on ctx when there is one.
type Collection[T any] struct {
	provider *Provider
	path     string
}

func NewCollection[T any](provider *Provider, path string) *Collection[T] {
	return &Collection[T]{provider: provider, path: strings.Trim(path, "/ ")}
}

// Create fails with a conflict when the document exists.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	ref, err := c.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if state, ok := TxStateFromContext(ctx); ok {
		err = state.Tx.Create(ref, value)
	} else {
		_, err = ref.Create(ctx, value)
	}
	return WrapError(c.op("create"), err)
}

func (c *Collection[T]) Set(ctx context.Context, id string, value T, opts ...firestore.SetOption) error {
	ref, err := c.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if state, ok := TxStateFromContext(ctx); ok {
		err = state.Tx.Set(ref, value, opts...)
	} else {
		_, err = ref.Set(ctx, value, opts...)
	}
	return WrapError(c.op("set"), err)
}

func (c *Collection[T]) Update(ctx context.Context, id string, updates []firestore.Update, preconds ...firestore.Precondition) error {
	ref, err := c.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if state, ok := TxStateFromContext(ctx); ok {
		err = state.Tx.Update(ref, updates, preconds...)
	} else {
		_, err = ref.Update(ctx, updates, preconds...)
	}
	return WrapError(c.op("update"), err)
}

func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := c.DocumentRef(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	var snap *firestore.DocumentSnapshot
	if state, ok := TxStateFromContext(ctx); ok {
		snap, err = state.Tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return decodeSnapshot[T](snap)
}

// Query runs build against the collection and decodes every match. A nil build reads the
// whole collection.
func (c *Collection[T]) Query(ctx context.Context, build func(firestore.Query) firestore.Query) ([]Document[T], error) {
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	var it *firestore.DocumentIterator
	if state, ok := TxStateFromContext(ctx); ok {
		it = state.Tx.Documents(query)
	} else {
		it = query.Documents(ctx)
	}
	defer it.Stop()

	var out []Document[T]
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		doc, err := decodeSnapshot[T](snap)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
}

// DocumentRef resolves id within the collection. Order repositories use the path as the key
// for versions remembered in TxState.
func (c *Collection[T]) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, NotFound(c.op("ref"), "document id is required")
	}
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (c *Collection[T]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, errors.New("firestore: collection has no provider")
	}
	if c.path == "" {
		return nil, errors.New("firestore: collection path is empty")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.path), nil
}

func (c *Collection[T]) op(action string) string {
	return c.path + "." + action
}

func decodeSnapshot[T any](snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode %s: %w", snap.Ref.Path, err)
	}
	return Document[T]{
		ID:         snap.Ref.ID,
		Path:       snap.Ref.Path,
		Data:       data,
		UpdateTime: snap.UpdateTime,
	}, nil
}
