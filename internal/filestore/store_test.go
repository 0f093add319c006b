package filestore

import (
	"context"
	"testing"
	"time"

	"github.com/koustreak/cosbrowser/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopStore struct{ cfg *Config }

func (nopStore) Ping(context.Context, string) error { return nil }
func (nopStore) Close() error                       { return nil }
func (nopStore) ListPage(context.Context, string, PageRequest) (*Page, error) {
	return &Page{}, nil
}
func (nopStore) PresignGetURL(context.Context, string, string, time.Duration) (string, error) {
	return "", nil
}

func TestOpen(t *testing.T) {
	const testProvider Provider = "test-open"
	Register(testProvider, func(_ context.Context, cfg *Config) (Store, error) {
		return nopStore{cfg: cfg}, nil
	})

	cfg := &Config{Provider: testProvider, Region: "ap-guangzhou"}
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, cfg, s.(nopStore).cfg)
	assert.Contains(t, Providers(), string(testProvider))
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), nil)
	assert.True(t, errs.IsInvalidInput(err))

	_, err = Open(context.Background(), &Config{Provider: "ftp"})
	assert.True(t, errs.IsInvalidInput(err))
}

func TestConfig_ResolveEndpoint(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
		url  string
	}{
		{
			name: "derived from region",
			cfg:  Config{Region: "ap-shanghai", UseSSL: true},
			want: "cos.ap-shanghai.myqcloud.com",
			url:  "https://cos.ap-shanghai.myqcloud.com",
		},
		{
			name: "explicit endpoint keeps port",
			cfg:  Config{Endpoint: "localhost:9000", Region: "ap-shanghai"},
			want: "localhost:9000",
			url:  "http://localhost:9000",
		},
		{
			name: "scheme and trailing slash stripped",
			cfg:  Config{Endpoint: "https://s3.example.com/", UseSSL: true},
			want: "s3.example.com",
			url:  "https://s3.example.com",
		},
		{
			name: "nothing configured",
			cfg:  Config{},
			want: "",
			url:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.ResolveEndpoint())
			assert.Equal(t, tt.url, tt.cfg.EndpointURL())
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("ap-beijing", "id", "key")
	assert.Equal(t, ProviderMinIO, cfg.Provider)
	assert.True(t, cfg.UseSSL)
	assert.Equal(t, "cos.ap-beijing.myqcloud.com", cfg.ResolveEndpoint())
}
