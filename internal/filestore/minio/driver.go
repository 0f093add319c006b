// Package minio provides a minio-go implementation of filestore.Store.
//
// It talks plain S3 v1 listing (marker pagination with a delimiter), which
// Tencent COS, MinIO and AWS all serve.
//
// Usage:
//
//	cfg := filestore.DefaultConfig("ap-shanghai", secretID, secretKey)
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
package minio

import (
	"context"
	"strings"
	"time"

	"github.com/koustreak/cosbrowser/internal/errs"
	"github.com/koustreak/cosbrowser/internal/filestore"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func init() {
	filestore.Register(filestore.ProviderMinIO, func(ctx context.Context, cfg *filestore.Config) (filestore.Store, error) {
		return New(ctx, cfg)
	})
}

// lister is the page-level listing call of minio.Core.
type lister interface {
	ListObjects(bucket, prefix, marker, delimiter string, maxKeys int) (miniogo.ListBucketResult, error)
}

// Driver is a minio-go implementation of filestore.Store.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	core   *miniogo.Core
	lister lister
}

// New builds a Driver from cfg. It does not contact the server; callers
// that want an early credential check call Ping.
func New(_ context.Context, cfg *filestore.Config) (*Driver, error) {
	endpoint := cfg.ResolveEndpoint()
	if endpoint == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "storage endpoint or region is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "storage access key and secret key are required")
	}

	opts := &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	// COS only serves virtual-hosted style requests.
	if strings.HasSuffix(endpoint, ".myqcloud.com") {
		opts.BucketLookup = miniogo.BucketLookupDNS
	}

	core, err := miniogo.NewCore(endpoint, opts)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create minio client", err)
	}

	return &Driver{core: core, lister: core}, nil
}

// --- filestore.Store implementation ---

// Ping verifies that bucket exists and the credentials can see it.
func (d *Driver) Ping(ctx context.Context, bucket string) error {
	ok, err := d.core.BucketExists(ctx, bucket)
	if err != nil {
		return mapError(err, "ping failed")
	}
	if !ok {
		return errs.New(errs.ErrKindNotFound, "bucket "+bucket+" does not exist")
	}
	return nil
}

// Close is a no-op: the SDK client holds no persistent connections.
func (d *Driver) Close() error {
	return nil
}

// ListPage fetches one page of a marker-paginated listing.
//
// The v1 listing call of minio.Core takes no context, so cancellation is
// only honoured before the request is sent.
func (d *Driver) ListPage(ctx context.Context, bucket string, req filestore.PageRequest) (*filestore.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapError(err, "list page cancelled")
	}

	maxKeys := req.MaxKeys
	if maxKeys <= 0 || maxKeys > filestore.MaxPageKeys {
		maxKeys = filestore.MaxPageKeys
	}

	res, err := d.lister.ListObjects(bucket, req.Prefix, req.Marker, req.Delimiter, maxKeys)
	if err != nil {
		return nil, mapError(err, "failed to list objects")
	}

	return toPage(res), nil
}

// PresignGetURL returns a time-limited public download URL for the object.
func (d *Driver) PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := d.core.PresignedGetObject(ctx, bucket, key, ttl, nil)
	if err != nil {
		return "", mapError(err, "failed to generate presigned URL")
	}
	return u.String(), nil
}

// toPage converts a v1 listing result. Services omit NextMarker when no
// delimiter is sent; the last key returned is then the marker.
func toPage(res miniogo.ListBucketResult) *filestore.Page {
	page := &filestore.Page{
		IsTruncated: res.IsTruncated,
		NextMarker:  res.NextMarker,
	}

	for _, cp := range res.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, cp.Prefix)
	}

	for _, obj := range res.Contents {
		page.Objects = append(page.Objects, filestore.ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         strings.Trim(obj.ETag, `"`),
			LastModified: obj.LastModified,
		})
	}

	if page.IsTruncated && page.NextMarker == "" {
		page.NextMarker = lastKey(page)
	}
	return page
}

func lastKey(page *filestore.Page) string {
	last := ""
	if n := len(page.Objects); n > 0 {
		last = page.Objects[n-1].Key
	}
	if n := len(page.CommonPrefixes); n > 0 && page.CommonPrefixes[n-1] > last {
		last = page.CommonPrefixes[n-1]
	}
	return last
}
