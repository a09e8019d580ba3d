package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmehdipour/nyx-sync/internal/app"
	"github.com/jmehdipour/nyx-sync/internal/schema"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create missing tables on both stores and report schema drift",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		rep := core.Sync.EnsureAll(ctx)
		for _, e := range append(rep.LocalFailed, rep.RemoteFailed...) {
			fmt.Printf("!! %v\n", e)
		}

		diff, err := core.Sync.Diff(ctx)
		if err != nil {
			return fmt.Errorf("diff: %w", err)
		}
		printDiff(diff)

		if _, chDB, err := app.OpenSyncLog(ctx, cfg); err != nil {
			return err
		} else if chDB != nil {
			_ = chDB.Close()
			fmt.Println(">> ClickHouse sync_log ready")
		}

		if !rep.OK() || !diff.Clean() {
			return fmt.Errorf("schema not fully applied")
		}
		fmt.Println(">> Migration complete ✅")
		return nil
	},
}

func printDiff(d *schema.Diff) {
	fmt.Printf("in both stores:   %s\n", list(d.InAll))
	fmt.Printf("missing locally:  %s\n", list(d.MissingLocal))
	fmt.Printf("missing remotely: %s\n", list(d.MissingRemote))
}

func list(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}
