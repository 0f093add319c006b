package completion

import (
	"context"
	"sync"
	"time"

	"github.com/koustreak/cosbrowser/internal/config"
	"github.com/koustreak/cosbrowser/internal/errs"
	"github.com/koustreak/cosbrowser/internal/filestore"
	"github.com/koustreak/cosbrowser/internal/listing"
	"github.com/koustreak/cosbrowser/internal/logger"
	"github.com/koustreak/cosbrowser/internal/metrics"
	"github.com/koustreak/cosbrowser/internal/prefix"
	"github.com/koustreak/cosbrowser/internal/preview"
)

// PresignTTL is the lifetime of the signed URLs used to preview images in
// private buckets.
const PresignTTL = 10 * time.Minute

// OpenFunc builds a storage backend. filestore.Open is the default.
type OpenFunc func(ctx context.Context, cfg *filestore.Config) (filestore.Store, error)

// Options wires an Engine. Zero values select the defaults.
type Options struct {
	Open    OpenFunc
	Preview preview.Options
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// Engine serves completions for one configuration at a time. It owns the
// storage client, the listing cache and the preview memo, and is safe for
// concurrent use.
type Engine struct {
	mu       sync.Mutex
	cfg      *config.Config
	identity config.Identity
	open     OpenFunc

	lister   *listing.Client
	previews *preview.Fetcher
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// New returns an Engine for cfg. The storage client is created on the
// first listing.
func New(cfg *config.Config, opts Options) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	open := opts.Open
	if open == nil {
		open = filestore.Open
	}
	log := logger.OrGlobal(opts.Logger)

	previewOpts := opts.Preview
	if previewOpts.Logger == nil {
		previewOpts.Logger = log
	}
	if previewOpts.Metrics == nil {
		previewOpts.Metrics = opts.Metrics
	}

	lister := listing.New(nil, listing.Options{
		PageRate: cfg.ListRate,
		Logger:   log,
		Metrics:  opts.Metrics,
	})
	// A configured zero disables listing reuse, unlike the Options default.
	lister.SetTimeout(cfg.CacheTimeout)

	return &Engine{
		cfg:      cfg,
		identity: cfg.Credentials(),
		open:     open,
		lister:   lister,
		previews: preview.New(previewOpts),
		log:      log.Component("completion"),
		metrics:  opts.Metrics,
	}
}

// Config returns the active configuration. It must not be modified.
func (e *Engine) Config() *config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Complete returns the candidates for req, or nil when the configuration
// is incomplete, the language is unsupported, the cursor is not inside a
// path literal or the listing fails. Failures are logged, not returned.
func (e *Engine) Complete(ctx context.Context, req Request) []Item {
	cfg := e.Config()
	if !cfg.Valid() {
		e.metrics.Completion("disabled")
		return nil
	}

	lang := req.LanguageID
	if lang == "" {
		lang = "html"
	}
	if !IsSupportedLanguage(lang) {
		e.metrics.Completion("unsupported_language")
		return nil
	}

	pc, ok := prefix.Resolve(req.Line, cfg.PrefixOptions())
	if !ok {
		e.metrics.Completion("no_trigger")
		return nil
	}

	res, err := e.List(ctx, pc.SearchPrefix)
	if err != nil {
		e.metrics.Completion("remote_error")
		e.log.WarnWith("completion listing failed", err, map[string]interface{}{
			"bucket": cfg.Bucket,
			"prefix": pc.SearchPrefix,
		})
		return nil
	}

	e.metrics.Completion("served")
	e.log.DebugWith("completion served", map[string]interface{}{
		"prefix":  pc.SearchPrefix,
		"input":   pc.Input,
		"folders": len(res.Folders),
		"files":   len(res.Files),
	})
	return Build(cfg, res, pc.Input, req.Line, lang)
}

// List lists prefix in the configured bucket through the cache.
func (e *Engine) List(ctx context.Context, searchPrefix string) (*listing.Result, error) {
	cfg := e.Config()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := e.ensureStore(ctx); err != nil {
		return nil, err
	}
	return e.lister.ListFolder(ctx, cfg.Bucket, searchPrefix)
}

// Check validates the configuration and verifies that the bucket is
// reachable with its credentials.
func (e *Engine) Check(ctx context.Context) error {
	cfg := e.Config()
	if err := cfg.Validate(); err != nil {
		return err
	}
	st, err := e.ensureStore(ctx)
	if err != nil {
		return err
	}
	if err := st.Ping(ctx, cfg.Bucket); err != nil {
		return errs.Wrap(errs.ErrKindRemote, "ping bucket "+cfg.Bucket, err)
	}
	return nil
}

// Resolve fills in the documentation of an image item with a thumbnail,
// or the plain URL when no thumbnail can be shown. Other items are
// returned unchanged.
func (e *Engine) Resolve(ctx context.Context, item Item) Item {
	if item.ImageURL == "" {
		return item
	}
	item.Documentation = e.Preview(ctx, item.ImageURL).Markdown()
	return item
}

// Preview resolves one image URL. When the public thumbnail cannot be
// fetched and the image is served from the bucket's own domain, the
// original object is fetched once more through a presigned URL, so
// private buckets still get previews.
func (e *Engine) Preview(ctx context.Context, imageURL string) preview.Preview {
	p := e.previews.Resolve(ctx, imageURL)
	if !p.Fallback || p.Reason != preview.ReasonError {
		return p
	}
	signed, ok := e.presign(ctx, imageURL)
	if !ok {
		return p
	}
	return e.previews.ResolveFrom(ctx, imageURL, signed)
}

func (e *Engine) presign(ctx context.Context, imageURL string) (string, bool) {
	cfg := e.Config()
	key, ok := BucketKey(cfg, imageURL)
	if !ok || !cfg.Valid() {
		return "", false
	}
	st, err := e.ensureStore(ctx)
	if err == nil {
		var signed string
		if signed, err = st.PresignGetURL(ctx, cfg.Bucket, key, PresignTTL); err == nil {
			return signed, true
		}
	}
	e.log.WarnWith("presigning preview failed", err, map[string]interface{}{"key": key})
	return "", false
}

// UpdateConfig switches to cfg. Cached listings and previews are always
// dropped; the storage client is rebuilt only when the credentials,
// endpoint, region or provider changed.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg = cfg
	e.lister.SetTimeout(cfg.CacheTimeout)
	e.lister.SetPageRate(cfg.ListRate)

	if id := cfg.Credentials(); id != e.identity {
		e.identity = id
		if old := e.lister.Store(); old != nil {
			if err := old.Close(); err != nil {
				e.log.WarnWith("closing storage client failed", err, nil)
			}
		}
		e.lister.Reset(nil)
		e.log.InfoWith("storage client invalidated", map[string]interface{}{"config": cfg.Describe()})
	} else {
		e.lister.Clear()
	}
	e.previews.Purge()
	e.metrics.CacheCleared()
}

// RefreshCache drops every cached listing and preview.
func (e *Engine) RefreshCache() {
	e.lister.Clear()
	e.previews.Purge()
	e.metrics.CacheCleared()
	e.log.Info("cache cleared")
}

// Close releases the storage client.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st := e.lister.Store(); st != nil {
		e.lister.Reset(nil)
		return st.Close()
	}
	return nil
}

func (e *Engine) ensureStore(ctx context.Context) (filestore.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.lister.Store(); st != nil {
		return st, nil
	}
	st, err := e.open(ctx, e.cfg.ToFilestore())
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindRemote, "open storage client", err)
	}
	e.lister.Reset(st)
	return st, nil
}
