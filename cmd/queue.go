package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/app"
	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the local mutation queue",
	}
	cmd.AddCommand(queueListCmd(), queueStatsCmd(), queueRequeueCmd(), queueDiscardCmd(), queuePruneCmd())
	return cmd
}

func withCore(fn func(ctx context.Context, core *app.Core) error) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	ctx := context.Background()
	core, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = core.Close() }()
	return fn(ctx, core)
}

func queueListCmd() *cobra.Command {
	var (
		status string
		table  string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(func(ctx context.Context, core *app.Core) error {
				f := model.QueueFilter{TableName: table, Limit: limit}
				if status != "" {
					f.Status = model.QueueStatus(status)
					if !f.Status.Valid() {
						return fmt.Errorf("unknown status %q", status)
					}
				}
				entries, err := core.Queue.List(ctx, f)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTABLE\tRECORD\tOP\tSTATUS\tRETRIES\tENQUEUED\tLAST ERROR")
				for _, e := range entries {
					lastErr := ""
					if e.LastError != nil {
						lastErr = *e.LastError
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
						e.ID, e.TableName, e.RecordID, e.Operation, e.Status, e.Retries,
						e.EnqueuedAt.Format(time.RFC3339), lastErr)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending | synced | error")
	cmd.Flags().StringVar(&table, "table", "", "only entries of this table")
	cmd.Flags().IntVar(&limit, "limit", 100, "max entries")
	return cmd
}

func queueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count entries per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(func(ctx context.Context, core *app.Core) error {
				stats, err := core.Queue.Stats(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			})
		},
	}
}

func queueRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <entry-id>",
		Short: "Move an error entry back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("entry id: %w", err)
			}
			return withCore(func(ctx context.Context, core *app.Core) error {
				e, err := core.Queue.Requeue(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf(">> entry %d (%s/%s) is pending again\n", e.ID, e.TableName, e.RecordID)
				return nil
			})
		},
	}
}

func queueDiscardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <entry-id>",
		Short: "Drop an error entry without replaying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("entry id: %w", err)
			}
			return withCore(func(ctx context.Context, core *app.Core) error {
				if err := core.Queue.Discard(ctx, id); err != nil {
					return err
				}
				fmt.Printf(">> entry %d discarded\n", id)
				return nil
			})
		},
	}
}

func queuePruneCmd() *cobra.Command {
	var older time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete synced entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(func(ctx context.Context, core *app.Core) error {
				n, err := core.Queue.Prune(ctx, older)
				if err != nil {
					return err
				}
				fmt.Printf(">> pruned %d synced entries\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&older, "older-than", 24*time.Hour, "retention for synced entries")
	return cmd
}
