package tenantconfig

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/widgetchat/internal/protect"
	"github.com/wolfman30/widgetchat/internal/tenancy"
	"github.com/wolfman30/widgetchat/pkg/logging"
)

// Dependency is the ProtectedCaller dependency name for the config store.
const Dependency = "config_store"

// CacheObserver receives "hit", "miss", "stale" and "error" lookups.
type CacheObserver interface {
	ObserveConfigCache(result string)
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Store        BlobStore
	Caller       *protect.Caller
	Cache        *Cache
	Prefix       string
	TTL          time.Duration
	StaleCeiling time.Duration
	Observer     CacheObserver
	Logger       *logging.Logger
}

// Resolver maps tenant handles to validated configs.
type Resolver struct {
	store        BlobStore
	caller       *protect.Caller
	cache        *Cache
	prefix       string
	ttl          time.Duration
	staleCeiling time.Duration
	observer     CacheObserver
	logger       *logging.Logger
	now          func() time.Time

	group singleflight.Group
}

func NewResolver(opts ResolverOptions) *Resolver {
	if opts.Store == nil {
		panic("tenantconfig: blob store cannot be nil")
	}
	if opts.Caller == nil {
		panic("tenantconfig: caller cannot be nil")
	}
	if opts.Cache == nil {
		opts.Cache = NewCache()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Resolver{
		store:        opts.Store,
		caller:       opts.Caller,
		cache:        opts.Cache,
		prefix:       opts.Prefix,
		ttl:          opts.TTL,
		staleCeiling: opts.StaleCeiling,
		observer:     opts.Observer,
		logger:       opts.Logger,
		now:          time.Now,
	}
}

// Resolve returns the config for handle. A fresh cached entry is returned
// without touching the store. When the store cannot answer, a cached entry
// is served only while it is younger than the stale ceiling.
func (r *Resolver) Resolve(ctx context.Context, handle string) (*TenantConfig, error) {
	if !tenancy.ValidHandle(handle) {
		return nil, &ConfigError{Kind: NotFound, Handle: handle}
	}

	entry, cached := r.cache.Get(handle)
	if cached && entry.Age(r.now()) < r.ttl {
		r.observe("hit")
		return entry.Config, nil
	}
	r.observe("miss")

	// The shared fetch outlives any one waiter; the caller's attempt
	// timeouts still bound it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(handle, func() (any, error) {
		return r.fetch(fetchCtx, handle)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = singleflight.Result{Err: &protect.CallError{
			Kind:       protect.KindTimeout,
			Dependency: Dependency,
			Operation:  "get_config",
			Err:        ctx.Err(),
		}}
	}
	if res.Err == nil {
		return res.Val.(*TenantConfig), nil
	}

	err := res.Err
	if errors.Is(err, ErrInvalid) {
		r.observe("error")
		return nil, err
	}

	// Re-read: a concurrent Publish may have landed while we waited.
	if latest, ok := r.cache.Get(handle); ok {
		entry, cached = latest, true
	}
	log := r.logger.With("tenant", tenancy.LogHandle(handle))
	if cached && entry.Age(r.now()) < r.staleCeiling {
		r.observe("stale")
		log.Warn("serving stale tenant config",
			"version", entry.Config.Version,
			"age_ms", entry.Age(r.now()).Milliseconds(),
			"error", err,
		)
		return entry.Config, nil
	}

	r.observe("error")
	if errors.Is(err, ErrBlobNotFound) {
		if cached {
			log.Warn("tenant config removed and cached copy exceeded stale ceiling")
			return nil, &ConfigError{Kind: Unavailable, Handle: handle, Err: err}
		}
		return nil, &ConfigError{Kind: NotFound, Handle: handle}
	}
	log.Error("tenant config unavailable", "error", err, "had_cached", cached)
	return nil, &ConfigError{Kind: Unavailable, Handle: handle, Err: err}
}

func (r *Resolver) fetch(ctx context.Context, handle string) (*TenantConfig, error) {
	key := BlobKey(r.prefix, handle)
	raw, err := protect.Call(ctx, r.caller, protect.Operation{
		Dependency: Dependency,
		Name:       "get_config",
		Class:      protect.ClassRead,
		Idempotent: true,
	}, func(ctx context.Context) ([]byte, error) {
		data, err := r.store.Get(ctx, key)
		if errors.Is(err, ErrBlobNotFound) {
			return nil, protect.Permanent(err)
		}
		return data, err
	})
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(handle, raw)
	if err != nil {
		// An invalid blob must not keep an older version alive.
		r.cache.Delete(handle)
		r.logger.Error("tenant config invalid", "tenant", tenancy.LogHandle(handle), "error", err)
		return nil, err
	}
	r.logWarnings(handle, cfg)
	r.cache.Set(handle, cfg, r.now())
	return cfg, nil
}

// Publish validates raw, writes it to the store and replaces the cached
// entry, so the new version is served immediately by this process.
func (r *Resolver) Publish(ctx context.Context, handle string, raw []byte) (*TenantConfig, error) {
	if !tenancy.ValidHandle(handle) {
		return nil, &ConfigError{Kind: NotFound, Handle: handle}
	}
	cfg, err := Parse(handle, raw)
	if err != nil {
		return nil, err
	}
	_, err = protect.Call(ctx, r.caller, protect.Operation{
		Dependency: Dependency,
		Name:       "put_config",
		Class:      protect.ClassWrite,
		Idempotent: true,
	}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.store.Put(ctx, BlobKey(r.prefix, handle), raw)
	})
	if err != nil {
		return nil, &ConfigError{Kind: Unavailable, Handle: handle, Err: err}
	}
	r.group.Forget(handle)
	r.cache.Set(handle, cfg, r.now())
	r.logWarnings(handle, cfg)
	r.logger.Info("tenant config published", "tenant", tenancy.LogHandle(handle), "version", cfg.Version)
	return cfg, nil
}

// Invalidate drops the cached entry so the next Resolve fetches.
func (r *Resolver) Invalidate(handle string) {
	r.group.Forget(handle)
	r.cache.Delete(handle)
}

// CacheStatus describes a cached entry for operators.
type CacheStatus struct {
	Version  string
	Age      time.Duration
	Fresh    bool
	Warnings []Warning
}

// Cached reports what is cached for handle without fetching.
func (r *Resolver) Cached(handle string) (CacheStatus, bool) {
	entry, ok := r.cache.Get(handle)
	if !ok {
		return CacheStatus{}, false
	}
	age := entry.Age(r.now())
	return CacheStatus{
		Version:  entry.Config.Version,
		Age:      age,
		Fresh:    age < r.ttl,
		Warnings: entry.Config.Warnings,
	}, true
}

func (r *Resolver) logWarnings(handle string, cfg *TenantConfig) {
	for _, w := range cfg.Warnings {
		r.logger.Warn("tenant config warning",
			"tenant", tenancy.LogHandle(handle),
			"version", cfg.Version,
			"code", w.Code,
			"path", w.Path,
		)
	}
}

func (r *Resolver) observe(result string) {
	if r.observer != nil {
		r.observer.ObserveConfigCache(result)
	}
}
