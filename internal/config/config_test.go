package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/koustreak/cosbrowser/internal/errs"
	"github.com/koustreak/cosbrowser/internal/filestore"
	"github.com/koustreak/cosbrowser/internal/logger"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("bucket", "", "bucket name")
	return fs
}

func validConfig() *Config {
	c := Default()
	c.Enabled = true
	c.SecretID = "AKIDexample1234"
	c.SecretKey = "secretexample5678"
	c.Bucket = "assets-1250000000"
	return c
}

func TestValid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   bool
		kind   errs.ErrKind
	}{
		{name: "complete", mutate: func(*Config) {}, want: true},
		{name: "disabled", mutate: func(c *Config) { c.Enabled = false }, kind: errs.ErrKindDisabled},
		{name: "no secret id", mutate: func(c *Config) { c.SecretID = "" }, kind: errs.ErrKindInvalidInput},
		{name: "no secret key", mutate: func(c *Config) { c.SecretKey = "" }, kind: errs.ErrKindInvalidInput},
		{name: "no bucket", mutate: func(c *Config) { c.Bucket = "" }, kind: errs.ErrKindInvalidInput},
		{name: "no region", mutate: func(c *Config) { c.Region = "" }, kind: errs.ErrKindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			assert.Equal(t, tt.want, c.Valid())
			err := c.Validate()
			if tt.want {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errs.HasKind(err, tt.kind), "got %v", err)
		})
	}

	var nilCfg *Config
	assert.False(t, nilCfg.Valid())
}

func TestValidate_ListsMissingKeys(t *testing.T) {
	c := Default()
	c.Enabled = true
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret_id, secret_key, bucket")
}

func TestValidate_CacheTimeout(t *testing.T) {
	c := validConfig()
	c.CacheTimeout = 0
	assert.NoError(t, c.Validate())

	c.CacheTimeout = -time.Second
	err := c.Validate()
	assert.True(t, errs.IsInvalidInput(err))
	assert.ErrorContains(t, err, "cache_timeout must not be negative")
}

func TestCredentials(t *testing.T) {
	a := validConfig()
	b := validConfig()
	b.CDNDomain = "https://cdn.example.com"
	b.DefaultPrefix = "assets/"
	b.CacheTimeout = time.Minute
	assert.Equal(t, a.Credentials(), b.Credentials())

	b.SecretKey = "rotated"
	assert.NotEqual(t, a.Credentials(), b.Credentials())
}

func TestToFilestore(t *testing.T) {
	c := validConfig()
	c.Endpoint = "http://localhost:9000"
	c.UseSSL = false

	fc := c.ToFilestore()
	assert.Equal(t, filestore.ProviderMinIO, fc.Provider)
	assert.Equal(t, "AKIDexample1234", fc.AccessKey)
	assert.Equal(t, "secretexample5678", fc.SecretKey)
	assert.Equal(t, "ap-shanghai", fc.Region)
	assert.Equal(t, "assets-1250000000", fc.DefaultBucket)
	assert.Equal(t, "localhost:9000", fc.ResolveEndpoint())
	assert.False(t, fc.UseSSL)
}

func TestMasked(t *testing.T) {
	c := validConfig()
	m := c.Masked()
	assert.Equal(t, "AKID****", m.SecretID)
	assert.Equal(t, "secr****", m.SecretKey)
	assert.Equal(t, "AKIDexample1234", c.SecretID, "original untouched")

	c.SecretKey = "short"
	assert.Equal(t, "****", c.Masked().SecretKey)
	c.SecretKey = ""
	assert.Equal(t, "", c.Masked().SecretKey)
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(WithFile(writeFile(t, dir, "cosbrowser.yaml", "{}\n")), WithEnvFile(""))

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.False(t, cfg.Valid())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cosbrowser.yaml", `
enabled: true
secret_id: AKIDfile
secret_key: file-secret
bucket: file-bucket
region: ap-guangzhou
cdn_domain: https://cdn.example.com
default_prefix: assets/
cache_timeout: 60000
provider: S3
`)
	t.Setenv("COSBROWSER_BUCKET", "env-bucket")
	t.Setenv("COSBROWSER_LIST_RATE", "2.5")

	l := NewLoader(WithFile(path), WithEnvFile(""))
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.True(t, cfg.Valid())
	assert.Equal(t, "env-bucket", cfg.Bucket)
	assert.Equal(t, "ap-guangzhou", cfg.Region)
	assert.Equal(t, "https://cdn.example.com", cfg.CDNDomain)
	assert.Equal(t, "assets/", cfg.DefaultPrefix)
	assert.Equal(t, time.Minute, cfg.CacheTimeout)
	assert.Equal(t, filestore.ProviderS3, cfg.Provider)
	assert.Equal(t, 2.5, cfg.ListRate)
	assert.Equal(t, path, l.File())
}

func TestLoad_CacheTimeoutForms(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{raw: "300000", want: 5 * time.Minute},
		{raw: "90s", want: 90 * time.Second},
		{raw: `"1500"`, want: 1500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "c.yaml", "cache_timeout: "+tt.raw+"\n")
			cfg, err := NewLoader(WithFile(path), WithEnvFile("")).Load()
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.CacheTimeout)
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", "COSBROWSER_VARIABLE_NAME=cdnBase\n")
	t.Cleanup(func() { _ = os.Unsetenv("COSBROWSER_VARIABLE_NAME") })

	cfg, err := NewLoader(
		WithFile(writeFile(t, dir, "c.yaml", "enabled: true\n")),
		WithEnvFile(envFile),
	).Load()
	require.NoError(t, err)
	assert.Equal(t, "cdnBase", cfg.VariableName)
	assert.True(t, cfg.Enabled)
}

func TestLoad_MissingEnvFileIgnored(t *testing.T) {
	dir := t.TempDir()
	_, err := NewLoader(
		WithFile(writeFile(t, dir, "c.yaml", "{}\n")),
		WithEnvFile(filepath.Join(dir, "absent.env")),
	).Load()
	assert.NoError(t, err)
}

func TestLoad_BadFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "c.yaml", "enabled: [unclosed\n")
	_, err := NewLoader(WithFile(path), WithEnvFile("")).Load()
	assert.True(t, errs.IsInvalidInput(err))
}

func TestBindFlag(t *testing.T) {
	l := NewLoader(WithFile(writeFile(t, t.TempDir(), "c.yaml", "bucket: from-file\n")), WithEnvFile(""))

	assert.Error(t, l.BindFlag(KeyBucket, nil))

	fs := newFlagSet()
	require.NoError(t, l.BindFlag(KeyBucket, fs.Lookup("bucket")))

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Bucket, "unset flag does not override")

	require.NoError(t, fs.Set("bucket", "from-flag"))
	cfg, err = l.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Bucket)
}

func TestSaveAndRender(t *testing.T) {
	c := validConfig()
	c.CacheTimeout = 90 * time.Second
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, Save(path, c.Masked()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "secret_key: secr****")
	assert.Contains(t, string(raw), "cache_timeout: 1m30s")
	assert.NotContains(t, string(raw), "endpoint:")

	var back Config
	require.NoError(t, yaml.Unmarshal(raw, &back))
	assert.Equal(t, c.Bucket, back.Bucket)
	assert.Equal(t, c.CacheTimeout, back.CacheTimeout)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cosbrowser.yaml", "bucket: first\n")
	l := NewLoader(WithFile(path), WithEnvFile(""))
	_, err := l.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- l.Watch(ctx, 20*time.Millisecond, logger.Nop(), func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "unrelated.yaml", "bucket: ignored\n")
	writeFile(t, dir, "cosbrowser.yaml", "bucket: second\n")

	select {
	case c := <-changes:
		assert.Equal(t, "second", c.Bucket)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after config write")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_NoFile(t *testing.T) {
	l := NewLoader(WithEnvFile(""))
	err := l.Watch(context.Background(), 0, logger.Nop(), func(*Config) {})
	assert.True(t, errs.IsNotFound(err))
}
