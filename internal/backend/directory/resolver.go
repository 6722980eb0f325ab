package directory

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/jo-hoe/patientimages/internal/backend/database"
)

// ErrUnknownReference is returned when a uuid is not present in the requested directory.
var ErrUnknownReference = errors.New("unknown reference")

const defaultCacheSize = 1024

// Resolver translates patient, provider and location uuids into directory
// entries. Successful lookups are cached; misses are always re-checked.
type Resolver struct {
	store database.DirectoryStore
	cache *lru.Cache
}

func NewResolver(store database.DirectoryStore, cacheSize int) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create reference cache: %w", err)
	}
	return &Resolver{store: store, cache: cache}, nil
}

// Resolve returns the directory entry for uuid or an error wrapping ErrUnknownReference.
func (r *Resolver) Resolve(ctx context.Context, kind database.ReferenceKind, uuid string) (*database.Reference, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown reference kind: %q", kind)
	}
	if uuid == "" {
		return nil, fmt.Errorf("%w: empty %s uuid", ErrUnknownReference, kind)
	}

	key := cacheKey(kind, uuid)
	if cached, ok := r.cache.Get(key); ok {
		ref := *cached.(*database.Reference)
		return &ref, nil
	}

	ref, err := r.store.GetReferenceByUUID(ctx, kind, uuid)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownReference, kind, uuid)
	}

	stored := *ref
	r.cache.Add(key, &stored)
	return ref, nil
}

// Register creates or updates a directory entry and refreshes the cache.
func (r *Resolver) Register(ctx context.Context, kind database.ReferenceKind, ref *database.Reference) (*database.Reference, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown reference kind: %q", kind)
	}
	saved, err := r.store.UpsertReference(ctx, kind, ref)
	if err != nil {
		return nil, err
	}

	stored := *saved
	r.cache.Add(cacheKey(kind, saved.UUID), &stored)
	return saved, nil
}

func cacheKey(kind database.ReferenceKind, uuid string) string {
	return string(kind) + ":" + uuid
}
