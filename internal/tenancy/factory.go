package tenancy

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/xaman1990/SisCoreApi/internal/apperr"
	"github.com/xaman1990/SisCoreApi/internal/db/bunx"
	"github.com/xaman1990/SisCoreApi/internal/repository"
)

// StoreOpener opens the store of a resolved tenant.
type StoreOpener interface {
	Open(ctx context.Context, tc *TenantContext) (*Store, error)
}

// Store is a handle on one tenant database. Callers own it and must Close it.
type Store struct {
	DB     *bun.DB
	Tenant TenantContext
}

// Repos binds the tenant repositories to the store's pool.
func (s *Store) Repos() repository.TenantRepositories {
	return repository.NewTenantRepositories(s.DB)
}

// InTx runs fn inside a transaction with repositories bound to it.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, repos repository.TenantRepositories) error) error {
	return s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, repository.NewTenantRepositories(tx))
	})
}

// Close releases the handle.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// StoreFactory opens a fresh handle per call. Nothing is cached between
// calls, so a rotated connection descriptor takes effect on the next request.
type StoreFactory struct {
	opts bunx.Options
}

// NewStoreFactory creates a factory whose handles use opts.
func NewStoreFactory(opts bunx.Options) *StoreFactory {
	return &StoreFactory{opts: opts}
}

// Open returns a handle on tc's store. The connection is established lazily,
// so connectivity errors surface on the first query.
func (f *StoreFactory) Open(_ context.Context, tc *TenantContext) (*Store, error) {
	if !tc.Valid() {
		return nil, apperr.TenantUnresolved(apperr.NotFound("no tenant context"))
	}
	db, err := bunx.OpenDB(tc.ConnectionString, f.opts)
	if err != nil {
		return nil, apperr.Unavailable("open tenant store", err)
	}
	return &Store{DB: db, Tenant: *tc}, nil
}

// WithStore opens tc's store, runs fn and closes the store.
func WithStore(ctx context.Context, stores StoreOpener, tc TenantContext, fn func(store *Store) error) error {
	store, err := stores.Open(ctx, &tc)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
