package cmd

import (
	"context"
	"fmt"

	"github.com/jmehdipour/nyx-sync/internal/app"
	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write demo proxies, profiles and campaigns locally and queue them",
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

		if rep := core.Sync.EnsureAll(ctx); len(rep.LocalFailed) > 0 {
			return fmt.Errorf("local schema: %v", rep.LocalFailed[0])
		}

		log.Info(">> Seeding demo entities...")
		n, err := seedDemo(ctx, core)
		if err != nil {
			return err
		}
		log.Info(">> Seed completed ✅", zap.Int("records", n))
		return nil
	},
}

// seedDemo writes fixed ids so running it twice updates instead of
// duplicating.
func seedDemo(ctx context.Context, core *app.Core) (int, error) {
	proxies := []model.Record{
		{"id": "demo-proxy-1", "host": "10.0.0.11", "port": 8080, "protocol": "http", "country": "DE"},
		{"id": "demo-proxy-2", "host": "10.0.0.12", "port": 1080, "protocol": "socks5", "country": "NL"},
	}
	profiles := []model.Record{
		{"id": "demo-profile-1", "name": "Research", "proxy_id": "demo-proxy-1", "tags": []string{"demo"}},
		{"id": "demo-profile-2", "name": "Shopping", "proxy_id": "demo-proxy-2", "browser": "firefox"},
		{"id": "demo-profile-3", "name": "Social", "fingerprint": map[string]any{"screen": "1920x1080", "tz": "Europe/Berlin"}},
	}
	campaigns := []model.Record{
		{"id": "demo-campaign-1", "name": "Spring launch", "profile_ids": []string{"demo-profile-1", "demo-profile-2"}, "budget": 250.0},
	}

	n := 0
	for _, batch := range []struct {
		table string
		recs  []model.Record
	}{
		{"proxies", proxies},
		{"profiles", profiles},
		{"campaigns", campaigns},
	} {
		if !core.Registry.Has(batch.table) {
			continue
		}
		for _, rec := range batch.recs {
			if _, _, err := core.Writer.Save(ctx, batch.table, rec); err != nil {
				return n, fmt.Errorf("seed %s/%s: %w", batch.table, rec.ID(), err)
			}
			n++
		}
	}
	return n, nil
}
