package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/xrpldata/ledgercache/internal/builder"
	"github.com/xrpldata/ledgercache/internal/config"
	"github.com/xrpldata/ledgercache/internal/core"
	"github.com/xrpldata/ledgercache/internal/resolver"
	"github.com/xrpldata/ledgercache/internal/store"
	"github.com/xrpldata/ledgercache/internal/xrpl"
)

func init() {
	rootCmd.AddCommand(roughCmd)
	rootCmd.AddCommand(refineCmd)
	rootCmd.AddCommand(hourlyCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(findCmd)

	refineCmd.Flags().Bool("save-daily", false, "Persist at each day boundary instead of once per run")
	updateCmd.Flags().Bool("clio", false, "Use the Clio ledger_index fast path instead of rough+refine")
	findCmd.Flags().Bool("no-cache", false, "Query the node even if the date is cached")
}

// roughCmd fills daily anchors by iterative estimation.
var roughCmd = &cobra.Command{
	Use:   "rough [key] [start] [end]",
	Short: "Fill missing daily anchors for a date range",
	Args:  cobra.ExactArgs(3),
	RunE:  handleRough,
}

// refineCmd fills hourly anchors by bracketed binary search.
var refineCmd = &cobra.Command{
	Use:   "refine [key] [start] [end]",
	Short: "Fill missing hourly anchors for a date range by binary search",
	Args:  cobra.ExactArgs(3),
	RunE:  handleRefine,
}

// hourlyCmd fills hourly anchors through the Clio ledger_index command.
var hourlyCmd = &cobra.Command{
	Use:   "hourly [key] [start] [end]",
	Short: "Fill missing hourly anchors for a date range via Clio",
	Args:  cobra.ExactArgs(3),
	RunE:  handleHourly,
}

// updateCmd runs the standing maintenance schedule: previous and current year.
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update the previous and current year caches",
	Args:  cobra.NoArgs,
	RunE:  handleUpdate,
}

// findCmd answers a single date lookup, preferring the year's cache and
// falling back to a day-scoped search against the node.
var findCmd = &cobra.Command{
	Use:   "find [date]",
	Short: "Print a ledger index for a date",
	Args:  cobra.ExactArgs(1),
	RunE:  handleFind,
}

// newBackend builds the configured storage backend, honoring the --backend
// and --root overrides.
func newBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	name := cfg.StoreBackend
	if backendName != "" {
		name = backendName
	}

	switch name {
	case "filesystem":
		root := cfg.CacheDir
		if cacheDir != "" {
			root = cacheDir
		}
		return store.NewFilesystemBackend(root), nil
	case "r2":
		return store.NewR2Backend(ctx, store.R2Options{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			Bucket:          cfg.R2Bucket,
		})
	default:
		return nil, fmt.Errorf("unknown backend '%s' (expected r2 or filesystem)", name)
	}
}

// newBuilder wires a builder for one cache slot. Clio selects the endpoint:
// the ledger_index fast path needs a Clio server, the search passes use the
// plain JSON-RPC cluster.
func newBuilder(ctx context.Context, cfg *config.Config, key string, clio bool) (*builder.Builder, error) {
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	url := cfg.RPCURL
	if clio {
		url = cfg.ClioURL
	}
	client := xrpl.NewClient(url, time.Duration(cfg.RequestTimeoutSec)*time.Second, cfg.MaxRetries, verbose)
	res := resolver.New(client, cfg.QueryRatePerSec, verbose)

	b := builder.New(backend, key, client, res, verbose, quiet)
	if clio && cfg.QueryRatePerSec > 0 {
		b.Limiter = rate.NewLimiter(rate.Limit(cfg.QueryRatePerSec), 1)
	}
	return b, nil
}

func parseRange(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := core.ParseDate(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := core.ParseDate(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s is before start date %s", endStr, startStr)
	}
	return start, end, nil
}

func handleRough(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	start, end, err := parseRange(args[1], args[2])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	b, err := newBuilder(ctx, cfg, args[0], false)
	if err != nil {
		return err
	}
	_, err = b.Rough(ctx, start, end)
	return err
}

func handleRefine(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	start, end, err := parseRange(args[1], args[2])
	if err != nil {
		return err
	}
	saveDaily, _ := cmd.Flags().GetBool("save-daily")

	ctx := cmd.Context()
	b, err := newBuilder(ctx, cfg, args[0], false)
	if err != nil {
		return err
	}
	b.SaveDaily = saveDaily
	_, err = b.Refine(ctx, start, end)
	return err
}

func handleHourly(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	start, end, err := parseRange(args[1], args[2])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	b, err := newBuilder(ctx, cfg, args[0], true)
	if err != nil {
		return err
	}
	// Cover the end date fully: run through the following midnight.
	_, err = b.Hourly(ctx, start, end.AddDate(0, 0, 1))
	return err
}

// handleFind resolves one date to a ledger index and prints the index on
// stdout. The year's cache answers directly when it has a daily anchor for
// the date; otherwise (or with --no-cache) a day-scoped search runs against
// the node. The result is not written back: find is read-only.
func handleFind(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	target, err := core.ParseDate(args[0])
	if err != nil {
		return err
	}
	noCache, _ := cmd.Flags().GetBool("no-cache")
	ctx := cmd.Context()

	if !noCache {
		backend, err := newBackend(ctx, cfg)
		if err != nil {
			return err
		}
		doc, err := store.Load(ctx, backend, core.YearKey(target.Year()), target)
		if err != nil {
			return err
		}
		if anchor, ok := doc.Daily[core.FormatDate(target)]; ok {
			core.ProgressPrint(fmt.Sprintf("%s: cached ledger=%d close=%s",
				args[0], anchor.LedgerIndex, anchor.CloseTime.Format(time.RFC3339)), quiet)
			fmt.Fprintln(cmd.OutOrStdout(), anchor.LedgerIndex)
			return nil
		}
	}

	client := xrpl.NewClient(cfg.RPCURL, time.Duration(cfg.RequestTimeoutSec)*time.Second, cfg.MaxRetries, verbose)
	res := resolver.New(client, cfg.QueryRatePerSec, verbose)

	anchor, err := res.FindDay(ctx, target)
	if err != nil {
		return err
	}
	core.ProgressPrint(fmt.Sprintf("%s: resolved ledger=%d close=%s",
		args[0], anchor.LedgerIndex, anchor.CloseTime.Format(time.RFC3339)), quiet)
	fmt.Fprintln(cmd.OutOrStdout(), anchor.LedgerIndex)
	return nil
}

// handleUpdate runs the standing schedule the CI job uses: rough then refine
// (or the Clio pass) for the previous and the current year. Individual
// window failures are reported but do not stop the other windows; the
// command exits nonzero if any window failed.
func handleUpdate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	useClio, _ := cmd.Flags().GetBool("clio")
	ctx := cmd.Context()

	currentYear := time.Now().UTC().Year()
	years := []int{currentYear - 1, currentYear}

	failures := 0
	for _, year := range years {
		key := core.YearKey(year)
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)

		b, err := newBuilder(ctx, cfg, key, useClio)
		if err != nil {
			return err
		}

		if useClio {
			if _, err := b.Hourly(ctx, start, end.AddDate(0, 0, 1)); err != nil {
				core.ProgressPrint(fmt.Sprintf("%s: clio pass failed: %v", key, err), quiet)
				failures++
			}
			continue
		}

		if _, err := b.Rough(ctx, start, end); err != nil {
			core.ProgressPrint(fmt.Sprintf("%s: rough pass failed: %v", key, err), quiet)
			failures++
		}
		// Refine runs through the next year's Jan 1 so the year's final
		// hours get a bracket.
		if _, err := b.Refine(ctx, start, end.AddDate(0, 0, 1)); err != nil {
			core.ProgressPrint(fmt.Sprintf("%s: refine pass failed: %v", key, err), quiet)
			failures++
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d update window(s) failed", failures)
	}
	return nil
}
