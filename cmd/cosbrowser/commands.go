package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/koustreak/cosbrowser/internal/completion"
	"github.com/koustreak/cosbrowser/internal/config"
	"github.com/koustreak/cosbrowser/internal/server/httpapi"
	"github.com/koustreak/cosbrowser/internal/server/rpc"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr    string
		timeout time.Duration
		watch   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve completions over local HTTP",
		Example: `  cosbrowser serve --addr 127.0.0.1:7781
  curl -s -d '{"line":"<img src=\"assets/","languageId":"html"}' localhost:7781/v1/complete`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := newRegistry()
			engine, _ := a.newEngine(reg)
			defer engine.Close()

			if watch {
				a.watchConfig(cmd.Context(), engine)
			}

			srv := httpapi.New(engine, httpapi.Options{
				Gatherer:       reg,
				RequestTimeout: timeout,
				Version:        version,
				Logger:         a.log,
			})
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7781", "listen address")
	cmd.Flags().DurationVar(&timeout, "request-timeout", httpapi.DefaultRequestTimeout, "per-request timeout")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload when the config file changes")
	return cmd
}

func newStdioCmd(a *app) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "stdio",
		Short: "Serve completions as JSON-RPC on stdin/stdout",
		Long: `Serve completions as JSON-RPC 2.0 on stdin and stdout, framed with
Content-Length headers. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, _ := a.newEngine(nil)
			defer engine.Close()

			if watch {
				a.watchConfig(cmd.Context(), engine)
			}
			return rpc.NewServer(engine, version, a.log).Serve(cmd.Context(), rpc.Stdio())
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", true, "reload when the config file changes")
	return cmd
}

func newCompleteCmd(a *app) *cobra.Command {
	var lang string

	cmd := &cobra.Command{
		Use:   "complete <line>",
		Short: "Show the completions for a line of source",
		Long: `Show the completions an editor would get with the cursor at the end
of <line>.`,
		Example: `  cosbrowser complete '<img src="https://cdn.example.com/assets/'
  cosbrowser complete '<img src="icons/' --lang vue -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			engine, _ := a.newEngine(nil)
			defer engine.Close()

			items := engine.Complete(cmd.Context(), completion.Request{Line: args[0], LanguageID: lang})
			if items == nil {
				items = []completion.Item{}
			}
			return render(cmd.OutOrStdout(), a.output, items, func(w io.Writer) error {
				return printItems(w, items)
			})
		},
	}

	cmd.Flags().StringVar(&lang, "lang", "html", "editor language ID")
	return cmd
}

func newLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [prefix]",
		Short: "List the folders and files directly under a prefix",
		Example: `  cosbrowser ls
  cosbrowser ls assets/img/ -o yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}

			engine, _ := a.newEngine(nil)
			defer engine.Close()

			res, err := engine.List(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, res, func(w io.Writer) error {
				return printListing(w, prefix, res)
			})
		},
	}
}

func newPreviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <image-url>",
		Short: "Fetch the thumbnail shown for an image completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _ := a.newEngine(nil)
			defer engine.Close()

			p := engine.Preview(cmd.Context(), args[0])
			return render(cmd.OutOrStdout(), a.output, p, func(w io.Writer) error {
				return printPreview(w, p)
			})
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or write the configuration",
	}

	var reveal bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if !reveal {
				cfg = cfg.Masked()
			}
			w := cmd.OutOrStdout()
			return render(w, a.output, cfg, func(w io.Writer) error {
				if file := a.loader.File(); file != "" {
					dimColor.Fprintf(w, "# %s\n", file)
				}
				out, err := config.Render(cfg)
				if err != nil {
					return err
				}
				_, err = w.Write(out)
				if err == nil && !cfg.Valid() {
					fmt.Fprintln(w, color.YellowString("# completion inactive: %v", cfg.Validate()))
				}
				return err
			})
		},
	}
	show.Flags().BoolVar(&reveal, "reveal", false, "print secrets in clear")

	write := &cobra.Command{
		Use:   "write <path>",
		Short: "Write the effective configuration to a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(args[0], a.cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Verify the credentials can reach the bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, _ := a.newEngine(nil)
			defer engine.Close()

			if err := engine.Check(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s bucket %s reachable (%s, %s)\n",
				color.GreenString("ok:"), a.cfg.Bucket, a.cfg.Provider, a.cfg.Region)
			return nil
		},
	}

	cmd.AddCommand(show, write, check)
	return cmd
}
