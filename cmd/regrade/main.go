// Command regrade recomputes the outcome of already graded predictions from the
// current game scores and prints every prediction whose outcome would change.
// Nothing is written unless -apply is given.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/config"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/grader"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/logger"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/prediction-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	since := flag.Duration("since", 7*24*time.Hour, "re-grade predictions graded within this window")
	apply := flag.Bool("apply", false, "write corrected outcomes")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	registry, err := cfg.NewRegistry()
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	db, err := store.Open(cfg.Database.HolocronDSN, 2, 2, time.Minute)
	if err != nil {
		fmt.Printf("❌ Failed to open Holocron: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	holocron := store.NewHolocronStore(db)
	if err := holocron.Ping(ctx); err != nil {
		fmt.Printf("❌ Failed to connect to Holocron: %v\n", err)
		os.Exit(1)
	}

	g := grader.New(grader.Config{Sports: cfg.Sports, PollInterval: time.Minute},
		grader.Deps{Store: holocron}, registry, metrics.New(), logger.WithComponent("regrade"), nil)

	diffs, result, err := g.Regrade(ctx, time.Now().Add(-*since), *apply)
	if err != nil {
		fmt.Printf("❌ Re-grade failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Checked %d predictions across %d games\n", result.Graded, result.Games)

	if len(diffs) > 0 {
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PREDICTION\tGAME\tMODEL\tVALUE\tSTORED\tRECOMPUTED")
		for _, d := range diffs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", d.PredictionID, d.GameID, d.ModelID, d.Value, d.Stored, d.Recomputed)
		}
		tw.Flush()
	}

	for _, e := range result.Errors {
		fmt.Printf("⚠️  %v\n", e)
	}

	switch {
	case len(diffs) == 0:
		fmt.Println("✓ All outcomes match")
	case *apply:
		fmt.Printf("✓ Applied %d corrections\n", len(diffs))
	default:
		fmt.Printf("⚠️  %d outcomes differ (run with -apply to correct them)\n", len(diffs))
	}
}
