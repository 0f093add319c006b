package filestore

import (
	"fmt"
	"strings"
)

// Provider identifies the file storage backend.
type Provider string

const (
	// ProviderMinIO speaks the S3 protocol through minio-go. It is the
	// default because it works against Tencent COS, MinIO and most
	// S3-compatible services with a plain endpoint.
	ProviderMinIO Provider = "minio"

	// ProviderS3 uses the AWS SDK v2.
	ProviderS3 Provider = "s3"
)

// Config holds all settings needed to connect to a file storage backend.
type Config struct {
	// Provider is the storage backend (e.g. ProviderMinIO).
	Provider Provider

	// Endpoint is the host[:port] of the storage server.
	// Leave empty to derive the COS endpoint from Region.
	Endpoint string

	// AccessKey is the access key ID (COS SecretId, S3 access key).
	AccessKey string

	// SecretKey is the secret access key.
	SecretKey string

	// UseSSL controls whether TLS is used for the connection.
	UseSSL bool

	// Region is the bucket region, e.g. "ap-shanghai".
	Region string

	// DefaultBucket is an optional default bucket name.
	// Callers may override it per-request.
	DefaultBucket string
}

// DefaultConfig returns a COS config for the given region and credentials.
func DefaultConfig(region, accessKey, secretKey string) *Config {
	return &Config{
		Provider:  ProviderMinIO,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    true,
		Region:    region,
	}
}

// ResolveEndpoint returns the configured endpoint with any scheme removed,
// or the regional COS endpoint "cos.<region>.myqcloud.com" when unset.
func (c *Config) ResolveEndpoint() string {
	ep := strings.TrimSpace(c.Endpoint)
	ep = strings.TrimPrefix(ep, "https://")
	ep = strings.TrimPrefix(ep, "http://")
	ep = strings.TrimSuffix(ep, "/")
	if ep != "" {
		return ep
	}
	if c.Region == "" {
		return ""
	}
	return fmt.Sprintf("cos.%s.myqcloud.com", c.Region)
}

// EndpointURL returns ResolveEndpoint with the scheme implied by UseSSL.
func (c *Config) EndpointURL() string {
	ep := c.ResolveEndpoint()
	if ep == "" {
		return ""
	}
	if c.UseSSL {
		return "https://" + ep
	}
	return "http://" + ep
}
