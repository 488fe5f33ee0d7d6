package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/crawler"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/index"
)

// withApp loads the configuration, builds the app and runs fn.
func withApp(cmd *cobra.Command, mode access, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, mode)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Ingest every pending document once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, exclusive, func(ctx context.Context, a *app) error {
				c, err := crawler.New(crawler.Config{
					Dir:       a.cfg.Crawler.DocumentsDir,
					Extension: a.cfg.Crawler.Extension,
					Workers:   a.cfg.Crawler.Workers,
				}, a.ledger, a.pipeline(analytics.Nop{}), a.metrics)
				if err != nil {
					return err
				}
				defer c.Close()

				before := a.ledger.Len()
				n, err := c.ScanOnce(ctx)
				c.Wait()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "dispatched %d, committed %d\n", n, a.ledger.Len()-before)
				return nil
			})
		},
	}
}

func rebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the index from every document in the folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, exclusive, func(ctx context.Context, a *app) error {
				files, err := crawler.Scan(a.cfg.Crawler.DocumentsDir, a.cfg.Crawler.Extension, nothingSeen{})
				if err != nil {
					return err
				}
				paths := make([]string, len(files))
				for i, f := range files {
					paths[i] = f.Path
				}
				report, err := a.pipeline(analytics.Nop{}).Rebuild(ctx, paths, a.cfg.Crawler.Workers)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
}

// nothingSeen makes Scan list every file regardless of the ledger.
type nothingSeen struct{}

func (nothingSeen) Contains(string) bool { return false }

func queryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Resolve a query and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, readOnly, func(ctx context.Context, a *app) error {
				res, err := a.resolver.Resolve(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				return printJSON(cmd, res.Truncate(limit))
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of results, 0 for all")
	return cmd
}

func syncMirrorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-mirror",
		Short: "Copy every posting of the local index to the Postgres mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, readOnly, func(ctx context.Context, a *app) error {
				if a.pg == nil {
					return fmt.Errorf("postgres mirror is not available")
				}
				n, err := a.store.SyncMirror(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "synced %d postings\n", n)
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "status <document-id> <activo|inactivo>",
		Short:     "Set the lifecycle status of a document's postings",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{index.EstadoActivo, index.EstadoInactivo},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, exclusive, func(ctx context.Context, a *app) error {
				n, err := a.store.SetStatus(args[0], args[1])
				if err != nil {
					return err
				}
				if n == 0 {
					return fmt.Errorf("document %q is not indexed", args[0])
				}
				if err := a.queryCache.Invalidate(ctx); err != nil {
					slog.Warn("query cache invalidation failed", "error", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated %d postings\n", n)
				return nil
			})
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <document-id>",
		Short: "Drop a document's postings from the local index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, exclusive, func(ctx context.Context, a *app) error {
				n, err := a.store.RemoveDocument(args[0])
				if err != nil {
					return err
				}
				if n == 0 {
					return fmt.Errorf("document %q is not indexed", args[0])
				}
				if err := a.queryCache.Invalidate(ctx); err != nil {
					slog.Warn("query cache invalidation failed", "error", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d postings\n", n)
				return nil
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
