/*
main.go - Operator command line for the coupon production engine

PURPOSE:
  Runs the same production operations as the HTTP API directly against the
  configured SQLite database, for shop-floor use without the server.

COMMANDS:
  couponctl summary                        Active pool totals
  couponctl set-pool --file pool.json      Replace the active pool
  couponctl batches                        List batches
  couponctl create-batch --number 1 --operator Siti --location "Line B"
  couponctl generate <batch>               Generate coupons
  couponctl validate <batch>               Run quality control
  couponctl report <batch> [--out file]    Write the production sheet
  couponctl logs [batch]                   Production log
  couponctl reset --yes                    Wipe a test or demo database

  <batch> is a batch ID or a batch number.

SEE ALSO:
  - cmd/server/main.go: HTTP server
  - config/config.go: Configuration keys
*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/warp/coupon-engine/config"
	"github.com/warp/coupon-engine/coupon"
	"github.com/warp/coupon-engine/factory"
	"github.com/warp/coupon-engine/production"
	"github.com/warp/coupon-engine/store/sqlite"
)

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	a.close()
	if err != nil {
		os.Exit(1)
	}
}

// app is opened lazily by each command.
type app struct {
	configFile string
	store      *sqlite.Store
	svc        *production.Service
	seed       coupon.Pool
}

func (a *app) open() error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	log, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	a.store = store
	a.svc = production.NewService(store, cfg.NewAssembler(), production.WithLogger(log))

	pool := factory.StandardPool()
	if cfg.Bootstrap.PoolFile != "" {
		if pool, err = factory.NewPoolFactory(cfg.CouponLayout()).LoadPoolFile(cfg.Bootstrap.PoolFile); err != nil {
			return err
		}
	}
	a.seed = pool
	_, err = a.svc.SeedPool(context.Background(), pool)
	return err
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
}

// resolve accepts a batch ID or a batch number.
func (a *app) resolve(ctx context.Context, arg string) (coupon.BatchID, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return coupon.BatchID(arg), nil
	}
	batches, err := a.svc.ListBatches(ctx)
	if err != nil {
		return "", err
	}
	for _, b := range batches {
		if b.Number == n {
			return b.ID, nil
		}
	}
	return "", fmt.Errorf("no batch with number %d", n)
}

// newRootCmd builds the command tree. The caller closes a.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "couponctl",
		Short:        "Coupon production operations",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "Path to config file")

	root.AddCommand(
		summaryCmd(a),
		setPoolCmd(a),
		batchesCmd(a),
		createBatchCmd(a),
		generateCmd(a),
		validateCmd(a),
		reportCmd(a),
		logsCmd(a),
		resetCmd(a),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// PRIZE POOL
// =============================================================================

func summaryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show the active prize pool totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.svc.Summary(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}
}

func setPoolCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "set-pool",
		Short: "Replace the active prize pool from a JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := factory.NewPoolFactory(a.svc.Layout()).LoadPoolFile(file)
			if err != nil {
				return err
			}
			if err := a.svc.SetPool(cmd.Context(), pool); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), coupon.Summarize(pool, a.svc.Layout()))
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Pool JSON file")
	cmd.MarkFlagRequired("file")
	return cmd
}

// =============================================================================
// BATCHES
// =============================================================================

func batchesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "batches",
		Short: "List batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			batches, err := a.svc.ListBatches(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, b := range batches {
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%s\n",
					b.Number, b.ID, b.Status, b.OperatorName, b.Location)
			}
			return nil
		},
	}
}

func createBatchCmd(a *app) *cobra.Command {
	var nb production.NewBatch
	cmd := &cobra.Command{
		Use:   "create-batch",
		Short: "Register a production batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.svc.CreateBatch(cmd.Context(), nb)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}
	cmd.Flags().IntVar(&nb.Number, "number", 0, "Batch number")
	cmd.Flags().StringVar(&nb.OperatorName, "operator", "", "Operator name")
	cmd.Flags().StringVar(&nb.Location, "location", "", "Production location")
	return cmd
}

func generateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <batch>",
		Short: "Generate the batch's coupons",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			res, err := a.svc.GenerateBatch(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "batch %d: %d coupons in boxes %d-%d, %d winners, payout %s\n",
				res.Batch.Number, len(res.Generation.Coupons),
				res.Generation.Boxes.First, res.Generation.Boxes.Last,
				res.Generation.Winners(), res.Generation.Payout())
			for _, w := range res.Warnings {
				fmt.Fprintf(out, "warning: %v\n", w)
			}
			return nil
		},
	}
}

func validateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <batch>",
		Short: "Run quality control on a generated batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			res, err := a.svc.ValidateBatch(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, rec := range res.Report.Records() {
				fmt.Fprintf(out, "%-18s %s\n", rec.Type, rec.Status)
			}
			if !res.Report.Passed() {
				return fmt.Errorf("batch %d failed quality control", res.Batch.Number)
			}
			return nil
		},
	}
}

func reportCmd(a *app) *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "report <batch>",
		Short: "Write the production sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return a.svc.WriteReport(cmd.Context(), w, id)
		},
	}
	cmd.Flags().StringVar(&outFile, "out", "", "Write to file instead of stdout")
	return cmd
}

func logsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logs [batch]",
		Short: "Show the production log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id coupon.BatchID
			if len(args) == 1 {
				var err error
				if id, err = a.resolve(cmd.Context(), args[0]); err != nil {
					return err
				}
			}
			entries, err := a.svc.Logs(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "%s\t%s\t%s\n", e.At.Format(zerolog.TimeFieldFormat), e.Action, e.Description)
			}
			return nil
		},
	}
}

func resetCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every batch, coupon, QC result and log entry, then reseed the pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset deletes all production data; pass --yes to confirm")
			}
			if err := a.store.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("failed to reset database: %w", err)
			}
			if _, err := a.svc.SeedPool(cmd.Context(), a.seed); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "database reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deleting all production data")
	return cmd
}
