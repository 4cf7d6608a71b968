package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valhallatattoo/sitecache/internal/bgsync"
	"github.com/valhallatattoo/sitecache/internal/config"
	"github.com/valhallatattoo/sitecache/internal/fetch"
	"github.com/valhallatattoo/sitecache/internal/metrics"
	"github.com/valhallatattoo/sitecache/internal/routing"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

type classification struct {
	URL         string         `json:"url"`
	Method      string         `json:"method"`
	Destination string         `json:"destination"`
	InScope     bool           `json:"in_scope"`
	PassThrough bool           `json:"pass_through"`
	Match       *routing.Match `json:"match,omitempty"`
}

func newClassifyCmd(a *app) *cobra.Command {
	var dest, method string
	cmd := &cobra.Command{
		Use:   "classify URL...",
		Short: "Show which caching strategy each URL would get",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.siteConfig()
			if err != nil {
				return err
			}
			origin, err := cfg.OriginURL()
			if err != nil {
				return err
			}
			engine := routing.NewEngine(cfg.RoutingRules())

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, raw := range args {
				req, err := fetch.NewRequest(raw, fetch.Destination(strings.ToLower(dest)))
				if err != nil {
					return fmt.Errorf("parse %q: %w", raw, err)
				}
				req.Method = strings.ToUpper(method)
				req.URL = origin.ResolveReference(req.URL)

				out := classification{
					URL:         req.URL.String(),
					Method:      req.Method,
					Destination: string(req.Destination),
					InScope:     engine.InScope(req.URL, origin),
				}
				m, ok := engine.Explain(req)
				if ok {
					out.Match = &m
				}
				out.PassThrough = !out.InScope || !ok || m.Strategy == routing.NetworkOnly
				if err := enc.Encode(out); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "request destination (document, image, style, script, font)")
	cmd.Flags().StringVar(&method, "method", http.MethodGet, "request method")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var origin, out string
	cmd := &cobra.Command{
		Use:   "import-sw FILE",
		Short: "Convert a legacy service-worker script into a YAML config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}
			script, err := config.ImportScript(src, config.ImportOptions{Origin: origin})
			if err != nil {
				return err
			}
			cfg, err := config.FromScript(script)
			if err != nil {
				return err
			}
			if origin != "" {
				if cfg, err = cfg.WithOrigin(origin); err != nil {
					return err
				}
			}
			data, err := cfg.Marshal()
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			a.logger.Info("imported worker script", "script", args[0], "out", out,
				"version", cfg.Version, "precache", len(cfg.Precache))
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "site origin to record in the config")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newPurgeCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete caches that do not belong to the configured version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := a.siteConfig()
			if err != nil {
				return err
			}
			st, err := a.openStores(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			names, err := st.caches.ListCaches(ctx)
			if err != nil {
				return fmt.Errorf("list caches: %w", err)
			}
			for _, name := range names {
				if !all && name == cfg.CacheName {
					continue
				}
				if err := st.caches.DeleteCache(ctx, name); err != nil {
					return fmt.Errorf("delete cache %s: %w", name, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deleted", name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "also delete the current version's cache")
	return cmd
}

// tagsArg returns the requested tag, or every configured tag.
func tagsArg(args, configured []string) ([]string, error) {
	if len(args) == 0 {
		return configured, nil
	}
	for _, t := range args {
		if !slices.Contains(configured, t) {
			return nil, fmt.Errorf("unknown sync tag %q (known: %s)", t, strings.Join(configured, ", "))
		}
	}
	return args, nil
}

func newQueueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queue [TAG...]",
		Short: "List form submissions waiting for background sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := a.siteConfig()
			if err != nil {
				return err
			}
			st, err := a.openStores(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			r, err := a.replayer(cfg, st, metrics.Nop())
			if err != nil {
				return err
			}
			tags, err := tagsArg(args, r.Tags())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TAG\tID\tCREATED\tATTEMPTS\tLAST ERROR")
			for _, tag := range tags {
				subs, err := r.Pending(ctx, tag)
				if err != nil {
					return err
				}
				for _, s := range subs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
						tag, s.ID, s.CreatedAt.Format("2006-01-02 15:04:05"), s.Attempts, s.LastError)
				}
			}
			return tw.Flush()
		},
	}
}

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [TAG...]",
		Short: "Replay queued form submissions to the origin now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := a.siteConfig()
			if err != nil {
				return err
			}
			st, err := a.openStores(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			r, err := a.replayer(cfg, st, metrics.Nop())
			if err != nil {
				return err
			}
			tags, err := tagsArg(args, r.Tags())
			if err != nil {
				return err
			}
			return replayAll(ctx, cmd.OutOrStdout(), r, tags)
		},
	}
}

type syncer interface {
	Sync(ctx context.Context, tag string) (bgsync.Result, error)
}

func replayAll(ctx context.Context, w io.Writer, s syncer, tags []string) error {
	var failed int
	for _, tag := range tags {
		res, err := s.Sync(ctx, tag)
		if err != nil {
			return fmt.Errorf("sync %s: %w", tag, err)
		}
		failed += res.Failed
		fmt.Fprintf(w, "%s: sent %d, failed %d, remaining %d\n", res.Tag, res.Sent, res.Failed, res.Remaining)
	}
	if failed > 0 {
		return fmt.Errorf("%d submissions could not be delivered", failed)
	}
	return nil
}
