// Command cosbrowser completes COS object paths for editors and browses
// buckets from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/koustreak/cosbrowser/internal/completion"
	"github.com/koustreak/cosbrowser/internal/config"
	"github.com/koustreak/cosbrowser/internal/logger"
	"github.com/koustreak/cosbrowser/internal/metrics"

	_ "github.com/koustreak/cosbrowser/internal/filestore/minio"
	_ "github.com/koustreak/cosbrowser/internal/filestore/s3"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		os.Exit(1)
	}
}

// app carries what every subcommand shares.
type app struct {
	configFile string
	envFile    string
	logLevel   string
	logFormat  string
	output     string

	loader *config.Loader
	cfg    *config.Config
	log    *logger.Logger
}

// configFlags maps command line flags to configuration keys.
var configFlags = map[string]string{
	"enabled":        config.KeyEnabled,
	"bucket":         config.KeyBucket,
	"region":         config.KeyRegion,
	"endpoint":       config.KeyEndpoint,
	"provider":       config.KeyProvider,
	"use-ssl":        config.KeyUseSSL,
	"cdn-domain":     config.KeyCDNDomain,
	"default-prefix": config.KeyDefaultPrefix,
	"variable-name":  config.KeyVariableName,
	"cache-timeout":  config.KeyCacheTimeout,
	"list-rate":      config.KeyListRate,
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "cosbrowser",
		Short: "Path completion and browsing for Tencent COS buckets",
		Long: `cosbrowser lists COS bucket folders for editor path completion.

Editors talk to it over JSON-RPC on stdio ("cosbrowser stdio") or over
local HTTP ("cosbrowser serve"). The remaining commands run the same
lookups from a terminal.

Configuration is read from, lowest priority first:
  - built-in defaults
  - cosbrowser.yaml in $HOME or the working directory (or --config)
  - COSBROWSER_* environment variables, also loaded from .env
  - command line flags`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.init,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "config file (default: search $HOME and . for cosbrowser.yaml)")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn, error, disabled")
	pf.StringVar(&a.logFormat, "log-format", "console", "log format: console or json")
	pf.StringVarP(&a.output, "output", "o", "text", "output format: text, json or yaml")

	pf.Bool("enabled", false, "enable completion")
	pf.String("bucket", "", "bucket name, e.g. assets-1250000000")
	pf.String("region", config.DefaultRegion, "bucket region")
	pf.String("endpoint", "", "storage endpoint override, e.g. localhost:9000")
	pf.String("provider", "minio", "storage client: minio or s3")
	pf.Bool("use-ssl", true, "use TLS for the storage endpoint")
	pf.String("cdn-domain", "", "public base URL of the bucket")
	pf.String("default-prefix", "", "prefix prepended to typed paths, e.g. assets/")
	pf.String("variable-name", "", "Vue variable holding the CDN base URL")
	pf.Duration("cache-timeout", config.DefaultCacheTimeout, "listing cache TTL")
	pf.Float64("list-rate", config.DefaultListRate, "max listing requests per second, 0 for no limit")

	root.AddCommand(
		newServeCmd(a),
		newStdioCmd(a),
		newCompleteCmd(a),
		newLsCmd(a),
		newPreviewCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command, _ []string) error {
	switch a.output {
	case outputText, outputJSON, outputYAML:
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", a.output)
	}

	a.log = logger.New(&logger.Config{
		Level:      a.logLevel,
		Format:     a.logFormat,
		TimeFormat: "rfc3339",
		Output:     os.Stderr,
	})
	logger.SetGlobal(a.log)

	opts := []config.LoaderOption{config.WithEnvFile(a.envFile)}
	if a.configFile != "" {
		opts = append(opts, config.WithFile(a.configFile))
	}
	a.loader = config.NewLoader(opts...)
	for name, key := range configFlags {
		if err := a.loader.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}

	cfg, err := a.loader.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log.DebugWith("configuration loaded", map[string]interface{}{
		"file":   a.loader.File(),
		"config": cfg.Describe(),
	})
	return nil
}

// newEngine builds the completion engine. reg may be nil.
func (a *app) newEngine(reg prometheus.Registerer) (*completion.Engine, *metrics.Metrics) {
	m := metrics.New(reg)
	return completion.New(a.cfg, completion.Options{Logger: a.log, Metrics: m}), m
}

// newRegistry returns a registry with the Go runtime and process collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// watchConfig applies config file edits to engine until ctx is done.
func (a *app) watchConfig(ctx context.Context, engine *completion.Engine) {
	if a.loader.File() == "" {
		return
	}
	go func() {
		err := a.loader.Watch(ctx, config.DefaultDebounce, a.log, func(cfg *config.Config) {
			engine.UpdateConfig(cfg)
		})
		if err != nil {
			a.log.WarnWith("config watch stopped", err, nil)
		}
	}()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// Skips config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
