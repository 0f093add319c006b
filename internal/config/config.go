// Package config loads the cosbrowser settings from defaults, an optional
// YAML file, the environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/koustreak/cosbrowser/internal/errs"
	"github.com/koustreak/cosbrowser/internal/filestore"
	"github.com/koustreak/cosbrowser/internal/prefix"
)

const (
	// EnvPrefix prefixes every environment override, e.g. COSBROWSER_BUCKET.
	EnvPrefix = "COSBROWSER"
	// FileName is the config file searched for in $HOME and ".".
	FileName = "cosbrowser"

	DefaultRegion       = "ap-shanghai"
	DefaultCacheTimeout = 5 * time.Minute
	DefaultListRate     = 10.0
)

// Keys as they appear in YAML, environment variables and flags.
const (
	KeyEnabled       = "enabled"
	KeySecretID      = "secret_id"
	KeySecretKey     = "secret_key"
	KeyBucket        = "bucket"
	KeyRegion        = "region"
	KeyEndpoint      = "endpoint"
	KeyProvider      = "provider"
	KeyUseSSL        = "use_ssl"
	KeyCDNDomain     = "cdn_domain"
	KeyDefaultPrefix = "default_prefix"
	KeyVariableName  = "variable_name"
	KeyCacheTimeout  = "cache_timeout"
	KeyListRate      = "list_rate"
)

// Config is the effective cosbrowser configuration.
type Config struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	SecretID  string `mapstructure:"secret_id" yaml:"secret_id" json:"secretId"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key" json:"secretKey"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Region    string `mapstructure:"region" yaml:"region" json:"region"`

	// Endpoint overrides the regional COS endpoint, e.g. for MinIO.
	Endpoint string             `mapstructure:"endpoint" yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Provider filestore.Provider `mapstructure:"provider" yaml:"provider" json:"provider"`
	UseSSL   bool               `mapstructure:"use_ssl" yaml:"use_ssl" json:"useSSL"`

	// CDNDomain is the public base URL of the bucket, with or without scheme.
	CDNDomain string `mapstructure:"cdn_domain" yaml:"cdn_domain,omitempty" json:"cdnDomain,omitempty"`
	// DefaultPrefix is prepended to typed paths that lack it, e.g. "assets/".
	DefaultPrefix string `mapstructure:"default_prefix" yaml:"default_prefix,omitempty" json:"defaultPrefix,omitempty"`
	// VariableName switches Vue completions to `${VariableName}/path`.
	VariableName string `mapstructure:"variable_name" yaml:"variable_name,omitempty" json:"variableName,omitempty"`

	// CacheTimeout is the listing TTL. Bare numbers are milliseconds.
	CacheTimeout time.Duration `mapstructure:"cache_timeout" yaml:"cache_timeout" json:"cacheTimeout"`
	// ListRate caps listing requests per second; <= 0 disables the cap.
	ListRate float64 `mapstructure:"list_rate" yaml:"list_rate" json:"listRate"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Region:       DefaultRegion,
		Provider:     filestore.ProviderMinIO,
		UseSSL:       true,
		CacheTimeout: DefaultCacheTimeout,
		ListRate:     DefaultListRate,
	}
}

// Valid reports whether completion can run: the feature is enabled and the
// credentials, bucket and region are all set.
func (c *Config) Valid() bool {
	return c != nil && c.Enabled &&
		c.SecretID != "" && c.SecretKey != "" &&
		c.Bucket != "" && c.Region != ""
}

// Validate is Valid with a reason.
func (c *Config) Validate() error {
	if c == nil {
		return errs.New(errs.ErrKindInvalidInput, "config is nil")
	}
	if !c.Enabled {
		return errs.New(errs.ErrKindDisabled, "cosbrowser is disabled; set "+KeyEnabled+": true")
	}
	if c.CacheTimeout < 0 {
		return errs.New(errs.ErrKindInvalidInput, KeyCacheTimeout+" must not be negative")
	}
	var missing []string
	for _, f := range []struct{ key, val string }{
		{KeySecretID, c.SecretID},
		{KeySecretKey, c.SecretKey},
		{KeyBucket, c.Bucket},
		{KeyRegion, c.Region},
	} {
		if f.val == "" {
			missing = append(missing, f.key)
		}
	}
	if len(missing) > 0 {
		return errs.New(errs.ErrKindInvalidInput, "missing "+strings.Join(missing, ", "))
	}
	return nil
}

// Identity is the part of the configuration a storage client is built
// from. Two configs with equal identities can share one client and its
// cached listings.
type Identity struct {
	SecretID  string
	SecretKey string
	Endpoint  string
	Region    string
	Provider  filestore.Provider
	UseSSL    bool
}

// Credentials returns the client identity of c.
func (c *Config) Credentials() Identity {
	return Identity{
		SecretID:  c.SecretID,
		SecretKey: c.SecretKey,
		Endpoint:  c.Endpoint,
		Region:    c.Region,
		Provider:  c.Provider,
		UseSSL:    c.UseSSL,
	}
}

// ToFilestore converts c to storage backend settings.
func (c *Config) ToFilestore() *filestore.Config {
	fc := filestore.DefaultConfig(c.Region, c.SecretID, c.SecretKey)
	if c.Provider != "" {
		fc.Provider = c.Provider
	}
	fc.Endpoint = c.Endpoint
	fc.UseSSL = c.UseSSL
	fc.DefaultBucket = c.Bucket
	return fc
}

// PrefixOptions returns the settings the key normalizer needs.
func (c *Config) PrefixOptions() prefix.Options {
	return prefix.Options{
		CDNDomain:     c.CDNDomain,
		DefaultPrefix: c.DefaultPrefix,
	}
}

// Masked returns a copy of c with the secrets hidden.
func (c *Config) Masked() *Config {
	out := *c
	out.SecretID = mask(c.SecretID)
	out.SecretKey = mask(c.SecretKey)
	return &out
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return s[:4] + "****"
	}
}

// Render marshals c as YAML.
func Render(c *Config) ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "render config", err)
	}
	return out, nil
}

// Save writes c to path as YAML, readable only by the owner.
func Save(path string, c *Config) error {
	out, err := Render(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return errs.Wrap(errs.ErrKindPermissionDenied, "write config "+path, err)
	}
	return nil
}

// Loader reads the configuration. Precedence, lowest first: defaults, the
// config file, COSBROWSER_* environment variables, bound flags.
type Loader struct {
	v       *viper.Viper
	file    string
	envFile string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFile uses path instead of searching $HOME and "." for cosbrowser.yaml.
func WithFile(path string) LoaderOption {
	return func(l *Loader) { l.file = path }
}

// WithEnvFile loads variables from a dotenv file before reading the
// environment. The default is ".env"; a missing file is ignored.
func WithEnvFile(path string) LoaderOption {
	return func(l *Loader) { l.envFile = path }
}

// NewLoader returns a Loader with the defaults registered.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{v: viper.New(), envFile: ".env"}
	for _, opt := range opts {
		opt(l)
	}

	d := Default()
	l.v.SetDefault(KeyEnabled, d.Enabled)
	l.v.SetDefault(KeySecretID, d.SecretID)
	l.v.SetDefault(KeySecretKey, d.SecretKey)
	l.v.SetDefault(KeyBucket, d.Bucket)
	l.v.SetDefault(KeyRegion, d.Region)
	l.v.SetDefault(KeyEndpoint, d.Endpoint)
	l.v.SetDefault(KeyProvider, string(d.Provider))
	l.v.SetDefault(KeyUseSSL, d.UseSSL)
	l.v.SetDefault(KeyCDNDomain, d.CDNDomain)
	l.v.SetDefault(KeyDefaultPrefix, d.DefaultPrefix)
	l.v.SetDefault(KeyVariableName, d.VariableName)
	l.v.SetDefault(KeyCacheTimeout, d.CacheTimeout)
	l.v.SetDefault(KeyListRate, d.ListRate)

	if l.file != "" {
		l.v.SetConfigFile(l.file)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(home)
		}
		l.v.AddConfigPath(".")
		l.v.SetConfigName(FileName)
		l.v.SetConfigType("yaml")
	}

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	return l
}

// BindFlag lets flag override key when it is set on the command line.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return errs.New(errs.ErrKindInvalidInput, "bind "+key+": flag not defined")
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads the sources and returns the merged configuration.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "load "+l.envFile, err)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "read config file", err)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		millisecondsHook,
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := l.v.Unmarshal(cfg, hook); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "decode config", err)
	}
	cfg.Provider = filestore.Provider(strings.ToLower(strings.TrimSpace(string(cfg.Provider))))
	return cfg, nil
}

// File returns the config file in use, or "" when none was read.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

var durationType = reflect.TypeOf(time.Duration(0))

// millisecondsHook decodes bare numbers into durations as milliseconds,
// matching how editors store cache timeouts.
func millisecondsHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != durationType || from == durationType {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(reflect.ValueOf(data).Int()) * time.Millisecond, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Duration(reflect.ValueOf(data).Uint()) * time.Millisecond, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(reflect.ValueOf(data).Float() * float64(time.Millisecond)), nil
	case reflect.String:
		s := strings.TrimSpace(data.(string))
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
		return s, nil
	}
	return data, nil
}

// Describe is a one-line summary for logs, without secrets.
func (c *Config) Describe() string {
	return fmt.Sprintf("bucket=%s region=%s provider=%s enabled=%t", c.Bucket, c.Region, c.Provider, c.Enabled)
}
