// Package listing lists the immediate children of a storage prefix, reading
// through a TTL cache keyed by bucket and prefix.
package listing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/koustreak/cosbrowser/internal/cache"
	"github.com/koustreak/cosbrowser/internal/errs"
	"github.com/koustreak/cosbrowser/internal/filestore"
	"github.com/koustreak/cosbrowser/internal/logger"
	"github.com/koustreak/cosbrowser/internal/metrics"
)

// FileEntry is one file or folder under a listed prefix.
type FileEntry struct {
	// Key is the full storage path. Folder keys end with "/".
	Key string `json:"key"`
	// Name is the last path segment for files, or the segment directly
	// under the listed prefix (without trailing slash) for folders.
	Name         string    `json:"name"`
	IsFolder     bool      `json:"isFolder"`
	Size         int64     `json:"size,omitempty"`
	LastModified time.Time `json:"lastModified,omitzero"`
}

// Result is the aggregated listing of one prefix. Results are shared
// between the cache and every caller and must not be modified.
type Result struct {
	Files   []FileEntry `json:"files"`
	Folders []FileEntry `json:"folders"`
}

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	// CacheTimeout is the listing TTL. Zero selects cache.DefaultTimeout;
	// use SetTimeout(0) to disable reuse.
	CacheTimeout time.Duration
	// PageSize is the per-request key limit. Default filestore.MaxPageKeys.
	PageSize int
	// PageRate caps outbound page requests per second; <= 0 means unlimited.
	PageRate float64
	// PageBurst is the limiter burst. Default 1 when PageRate is set.
	PageBurst int
	// Clock replaces time.Now in the cache, for tests.
	Clock func() time.Time

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// Client is the remote listing client. It is safe for concurrent use.
//
// Concurrent misses for the same bucket and prefix share one paginated
// remote listing and one cache write.
type Client struct {
	mu    sync.RWMutex
	store filestore.Store
	gen   uint64

	cache    *cache.TTL[*Result]
	group    singleflight.Group
	limiter  *rate.Limiter
	pageSize int
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// New returns a Client listing through store.
func New(store filestore.Store, opts Options) *Client {
	var cacheOpts []cache.Option
	if opts.Clock != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(opts.Clock))
	}

	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > filestore.MaxPageKeys {
		pageSize = filestore.MaxPageKeys
	}

	timeout := opts.CacheTimeout
	if timeout == 0 {
		timeout = cache.DefaultTimeout
	}

	limit, burst := rate.Inf, 0
	if opts.PageRate > 0 {
		limit = rate.Limit(opts.PageRate)
		burst = opts.PageBurst
		if burst <= 0 {
			burst = 1
		}
	}

	return &Client{
		store:    store,
		cache:    cache.NewTTL[*Result](timeout, cacheOpts...),
		limiter:  rate.NewLimiter(limit, burst),
		pageSize: pageSize,
		log:      logger.OrGlobal(opts.Logger).Component("listing"),
		metrics:  opts.Metrics,
	}
}

// CacheKey is the cache key of a listing.
func CacheKey(bucket, prefix string) string {
	return bucket + ":" + prefix
}

// ListFolder returns the files and folders directly under prefix.
//
// A cached result younger than the cache timeout is returned without any
// remote call. Otherwise every page is fetched with delimiter "/" and the
// aggregate is cached. A failure on any page discards the pages gathered so
// far and returns an error of kind errs.ErrKindRemote.
//
// The remote listing is detached from ctx cancellation so that a result
// abandoned by one caller still serves the callers sharing it and the
// cache; ctx only bounds how long this caller waits.
func (c *Client) ListFolder(ctx context.Context, bucket, prefix string) (*Result, error) {
	key := CacheKey(bucket, prefix)
	if res, ok := c.cache.Get(key); ok {
		c.metrics.CacheHit()
		return res, nil
	}
	c.metrics.CacheMiss()

	c.mu.RLock()
	store, gen := c.store, c.gen
	c.mu.RUnlock()

	flight := fmt.Sprintf("%s#%d", key, gen)
	ch := c.group.DoChan(flight, func() (interface{}, error) {
		res, err := c.fetch(context.WithoutCancel(ctx), store, bucket, prefix)
		if err != nil {
			return nil, err
		}

		// A Clear or Reset while the listing was in flight makes the
		// result stale.
		c.mu.RLock()
		if c.gen == gen {
			c.cache.Set(key, res)
		}
		c.mu.RUnlock()
		return res, nil
	})

	select {
	case r := <-ch:
		if r.Shared {
			c.metrics.ListJoined()
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Result), nil
	case <-ctx.Done():
		return nil, errs.Wrap(errs.ErrKindTimeout, "list folder abandoned", ctx.Err())
	}
}

func (c *Client) fetch(ctx context.Context, store filestore.Store, bucket, prefix string) (*Result, error) {
	if store == nil {
		return nil, errs.New(errs.ErrKindRemote, "no storage backend configured")
	}

	start := time.Now()
	res := &Result{Files: []FileEntry{}, Folders: []FileEntry{}}
	marker := ""
	pages := 0

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			c.metrics.ListFailed()
			return nil, errs.Wrap(errs.ErrKindRemote, "list folder rate limited", err)
		}

		page, err := store.ListPage(ctx, bucket, filestore.PageRequest{
			Prefix:    prefix,
			Delimiter: filestore.DefaultDelimiter,
			Marker:    marker,
			MaxKeys:   c.pageSize,
		})
		if err != nil {
			c.metrics.ListFailed()
			c.log.WarnWith("list folder failed", err, map[string]interface{}{
				"bucket": bucket,
				"prefix": prefix,
				"page":   pages + 1,
			})
			return nil, errs.Wrap(errs.ErrKindRemote, fmt.Sprintf("list %s failed", CacheKey(bucket, prefix)), err)
		}
		pages++
		c.metrics.PageFetched()

		collect(res, page, prefix)

		if !page.IsTruncated || page.NextMarker == "" {
			break
		}
		if page.NextMarker == marker {
			c.metrics.ListFailed()
			return nil, errs.New(errs.ErrKindRemote, fmt.Sprintf("list %s: marker %q did not advance", CacheKey(bucket, prefix), marker))
		}
		marker = page.NextMarker
	}

	elapsed := time.Since(start)
	c.metrics.ObserveList(elapsed.Seconds())
	c.log.DebugWith("folder listed", map[string]interface{}{
		"bucket":  bucket,
		"prefix":  prefix,
		"pages":   pages,
		"files":   len(res.Files),
		"folders": len(res.Folders),
		"elapsed": elapsed.String(),
	})
	return res, nil
}

// collect appends one page to res. The object whose key equals the prefix
// (the folder marker) and zero-byte placeholders are not files.
func collect(res *Result, page *filestore.Page, prefix string) {
	for _, cp := range page.CommonPrefixes {
		name := folderName(cp, prefix)
		if name == "" {
			continue
		}
		res.Folders = append(res.Folders, FileEntry{
			Key:      cp,
			Name:     name,
			IsFolder: true,
		})
	}

	for _, obj := range page.Objects {
		if obj.Key == prefix || obj.Size <= 0 {
			continue
		}
		res.Files = append(res.Files, FileEntry{
			Key:          obj.Key,
			Name:         fileName(obj.Key),
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
}

func folderName(commonPrefix, parent string) string {
	rel := strings.TrimPrefix(commonPrefix, parent)
	return strings.TrimSuffix(rel, "/")
}

func fileName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// SetTimeout changes the cache TTL. Lowering it expires older entries on
// their next lookup.
func (c *Client) SetTimeout(d time.Duration) {
	c.cache.SetTimeout(d)
}

// SetPageRate changes the outbound page rate; <= 0 removes the cap.
func (c *Client) SetPageRate(perSecond float64) {
	if perSecond <= 0 {
		c.limiter.SetLimit(rate.Inf)
		return
	}
	if c.limiter.Burst() < 1 {
		c.limiter.SetBurst(1)
	}
	c.limiter.SetLimit(rate.Limit(perSecond))
}

// Clear drops every cached listing. Listings in flight are not cached.
func (c *Client) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.cache.Clear()
}

// Reset swaps the storage backend and drops every cached listing. Listings
// in flight against the previous backend are not cached.
func (c *Client) Reset(store filestore.Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = store
	c.gen++
	c.cache.Clear()
}

// Store returns the current storage backend.
func (c *Client) Store() filestore.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store
}
