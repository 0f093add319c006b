// Package filestore defines the unified interface for object storage backends.
//
// All providers (MinIO/COS, AWS S3, …) implement the Store interface and
// register a constructor with Register. Callers depend only on this package
// and open stores through Open.
//
// Usage:
//
//	cfg := filestore.DefaultConfig("ap-shanghai", secretID, secretKey)
//	store, err := filestore.Open(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	page, err := store.ListPage(ctx, "assets-1250000000", filestore.PageRequest{
//	    Prefix:    "img/",
//	    Delimiter: filestore.DefaultDelimiter,
//	})
package filestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/koustreak/cosbrowser/internal/errs"
)

// Store is the single interface all object storage providers must implement.
// It is scoped to read operations.
type Store interface {
	// Ping verifies the bucket is reachable with the configured credentials.
	// Health and config checks call it.
	Ping(ctx context.Context, bucket string) error

	// Close releases any held resources.
	Close() error

	// ListPage returns one page of a (usually delimiter-bounded) listing.
	ListPage(ctx context.Context, bucket string, req PageRequest) (*Page, error)

	// PresignGetURL returns a time-limited URL that allows anyone to download
	// the object at key inside bucket without credentials. Previews of
	// images in private buckets are fetched through it.
	PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Constructor builds a Store for a provider.
type Constructor func(ctx context.Context, cfg *Config) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[Provider]Constructor)
)

// Register makes a provider available to Open. Providers call it from init.
func Register(p Provider, fn Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p] = fn
}

// Providers lists the registered provider names.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for p := range registry {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}

// Open builds a Store for cfg.Provider. An empty provider means ProviderMinIO.
func Open(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "filestore config is nil")
	}
	p := cfg.Provider
	if p == "" {
		p = ProviderMinIO
	}

	registryMu.RLock()
	fn, ok := registry[p]
	registryMu.RUnlock()
	if !ok {
		return nil, errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("unknown storage provider %q (registered: %v)", p, Providers()))
	}
	return fn(ctx, cfg)
}
