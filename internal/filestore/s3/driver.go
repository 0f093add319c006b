// Package s3 provides an AWS SDK v2 implementation of filestore.Store.
//
// Use it for AWS buckets, or for S3-compatible services that need the AWS
// signer (set Config.Endpoint to point the client elsewhere).
package s3

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/koustreak/cosbrowser/internal/errs"
	"github.com/koustreak/cosbrowser/internal/filestore"
)

func init() {
	filestore.Register(filestore.ProviderS3, func(ctx context.Context, cfg *filestore.Config) (filestore.Store, error) {
		return New(ctx, cfg)
	})
}

// api is the subset of *s3.Client the driver calls.
type api interface {
	ListObjects(ctx context.Context, in *awss3.ListObjectsInput, optFns ...func(*awss3.Options)) (*awss3.ListObjectsOutput, error)
	HeadBucket(ctx context.Context, in *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
}

// Driver is an AWS SDK v2 implementation of filestore.Store.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	client    api
	presigner *awss3.PresignClient
}

// New loads an AWS config with static credentials from cfg and builds the
// S3 client. A non-empty cfg.Endpoint switches to a custom base endpoint.
func New(ctx context.Context, cfg *filestore.Config) (*Driver, error) {
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "storage access key and secret key are required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to load aws config", err)
	}

	endpoint := ""
	if strings.TrimSpace(cfg.Endpoint) != "" {
		endpoint = cfg.EndpointURL()
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if endpoint == "" {
			return
		}
		o.BaseEndpoint = aws.String(endpoint)
		// COS wants virtual-hosted style; MinIO and most others path style.
		o.UsePathStyle = !strings.HasSuffix(cfg.ResolveEndpoint(), ".myqcloud.com")
	})

	return &Driver{
		client:    client,
		presigner: awss3.NewPresignClient(client),
	}, nil
}

// --- filestore.Store implementation ---

// Ping issues HeadBucket.
func (d *Driver) Ping(ctx context.Context, bucket string) error {
	_, err := d.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close is a no-op; the SDK shares its HTTP client.
func (d *Driver) Close() error {
	return nil
}

// ListPage fetches one page using the v1 (marker) ListObjects call.
func (d *Driver) ListPage(ctx context.Context, bucket string, req filestore.PageRequest) (*filestore.Page, error) {
	maxKeys := req.MaxKeys
	if maxKeys <= 0 || maxKeys > filestore.MaxPageKeys {
		maxKeys = filestore.MaxPageKeys
	}

	in := &awss3.ListObjectsInput{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(req.Prefix),
		MaxKeys: aws.Int32(int32(maxKeys)),
	}
	if req.Delimiter != "" {
		in.Delimiter = aws.String(req.Delimiter)
	}
	if req.Marker != "" {
		in.Marker = aws.String(req.Marker)
	}

	out, err := d.client.ListObjects(ctx, in)
	if err != nil {
		return nil, mapError(err, "failed to list objects")
	}

	page := &filestore.Page{
		IsTruncated: aws.ToBool(out.IsTruncated),
		NextMarker:  aws.ToString(out.NextMarker),
	}
	for _, cp := range out.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, aws.ToString(cp.Prefix))
	}
	for _, obj := range out.Contents {
		page.Objects = append(page.Objects, filestore.ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}

	// Without a delimiter S3 omits NextMarker; continue after the last key.
	if page.IsTruncated && page.NextMarker == "" && len(page.Objects) > 0 {
		page.NextMarker = page.Objects[len(page.Objects)-1].Key
	}
	return page, nil
}

// PresignGetURL returns a time-limited public download URL for the object.
func (d *Driver) PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if d.presigner == nil {
		return "", errs.New(errs.ErrKindInvalidInput, "presigning is not configured")
	}
	req, err := d.presigner.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, awss3.WithPresignExpires(ttl))
	if err != nil {
		return "", mapError(err, "failed to generate presigned URL")
	}
	return req.URL, nil
}
