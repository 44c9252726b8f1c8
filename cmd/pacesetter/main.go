// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

// Package main is the entry point for the Pacesetter sync engine.
//
// Pacesetter mirrors leaderboards from speedrun.com, ranks runs with
// competition placement, scores them on an exponential points curve, and
// tracks world record holding streaks in a history ledger.
//
// # Commands
//
//	pacesetter worker                      run the supervised job worker
//	pacesetter ingest-run <run-id>         sync one run and its board
//	pacesetter resync-game <game-id>       rebuild a game's boards
//	pacesetter backfill-player <player-id> import a player's verified runs
//	pacesetter refresh-player <player-id>  refresh a player profile
//	pacesetter sync-game <game-id>         import or refresh game taxonomy
//	pacesetter streak-sweep                check records for streak awards
//	pacesetter rebuild-history             replay the record ledger
//
// Every command loads configuration the same way: built-in defaults, then
// an optional config.yaml, then environment variables. See config.yaml.example.
//
// # Signal Handling
//
// The worker shuts down gracefully on SIGINT and SIGTERM: in-flight jobs
// drain up to the configured close timeout before the process exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/pacesetter-app/pacesetter/internal/backup"
	"github.com/pacesetter-app/pacesetter/internal/config"
	"github.com/pacesetter-app/pacesetter/internal/database"
	"github.com/pacesetter-app/pacesetter/internal/engine"
	"github.com/pacesetter-app/pacesetter/internal/logging"
	"github.com/pacesetter-app/pacesetter/internal/queue"
	"github.com/pacesetter-app/pacesetter/internal/srcapi"
	"github.com/pacesetter-app/pacesetter/internal/supervisor"
	"github.com/pacesetter-app/pacesetter/internal/supervisor/services"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	eng := engine.New(db, srcapi.NewClient(&cfg.Upstream), cfg.Points)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "worker":
		err = runWorker(ctx, cfg, eng, db)
	case "ingest-run":
		err = withArg(args, "run-id", func(id string) error {
			return eng.IngestRun(ctx, id)
		})
	case "resync-game":
		err = runResyncGame(ctx, eng, args)
	case "backfill-player":
		err = withArg(args, "player-id", func(id string) error {
			stored, err := eng.BackfillPlayerRuns(ctx, id)
			if err != nil {
				return err
			}
			logging.Info().Int("stored", stored).Str("player_id", id).Msg("backfill complete")
			return nil
		})
	case "refresh-player":
		err = withArg(args, "player-id", func(id string) error {
			return eng.RefreshPlayer(ctx, id)
		})
	case "sync-game":
		err = withArg(args, "game-id", func(id string) error {
			return eng.SyncGameTaxonomy(ctx, id)
		})
	case "streak-sweep":
		err = runStreakSweep(ctx, eng, args)
	case "rebuild-history":
		err = runRebuildHistory(ctx, eng, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logging.Fatal().Err(err).Str("command", command).Msg("Command failed")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: pacesetter <command> [flags]

commands:
  worker                       run the supervised job worker
  ingest-run <run-id>          sync one run and its board
  resync-game <game-id>        rebuild a game's boards
  backfill-player <player-id>  import a player's verified runs
  refresh-player <player-id>   refresh a player profile
  sync-game <game-id>          import or refresh game taxonomy
  streak-sweep                 check records for streak awards
  rebuild-history              replay the record ledger`)
}

func withArg(args []string, name string, fn func(string) error) error {
	if len(args) < 1 || args[0] == "" {
		return fmt.Errorf("missing required argument <%s>", name)
	}
	return fn(args[0])
}

// runWorker assembles the supervisor tree: the queue worker and sweep
// scheduler in the sync layer, the metrics endpoint in telemetry. Without
// NATS the worker falls back to an in-process queue, which only makes
// sense for development.
func runWorker(ctx context.Context, cfg *config.Config, eng *engine.Engine, db *database.DB) error {
	wmLogger := queue.NewLogger()

	var (
		sub       message.Subscriber
		poisonPub message.Publisher
		err       error
	)
	if cfg.NATS.Enabled {
		sub, err = queue.NewNATSSubscriber(&cfg.NATS, wmLogger)
		if err != nil {
			return err
		}
		poisonPub, err = queue.NewNATSPublisher(&cfg.NATS, wmLogger)
		if err != nil {
			return err
		}
	} else {
		logging.Warn().Msg("NATS disabled, using in-process queue")
		ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
		sub, poisonPub = ps, ps
	}

	tree := supervisor.NewTree(supervisor.TreeConfig{
		ShutdownTimeout: cfg.NATS.CloseTimeout,
	})

	tree.AddSyncService(services.NewWorkerService(func() (services.JobRunner, error) {
		return queue.NewWorker(&cfg.NATS, eng, sub, poisonPub, wmLogger)
	}))
	if cfg.Sweep.Enabled {
		tree.AddSyncService(services.NewSweepService(eng, cfg.Sweep))
	}
	if cfg.Metrics.Enabled {
		tree.AddTelemetryService(services.NewMetricsService(cfg.Metrics.Addr))
	}
	if cfg.Backup.Enabled {
		manager := backup.NewManager(db, cfg.Backup)
		tree.AddTelemetryService(services.NewBackupService(manager, cfg.Backup.Interval))
	}

	logging.Info().
		Bool("nats", cfg.NATS.Enabled).
		Bool("sweep", cfg.Sweep.Enabled).
		Str("metrics_addr", cfg.Metrics.Addr).
		Msg("Starting worker")
	return tree.Serve(ctx)
}

func runResyncGame(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("resync-game", flag.ExitOnError)
	mode := fs.String("mode", string(engine.ResyncAppend), "append or full-reset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withArg(fs.Args(), "game-id", func(id string) error {
		return eng.ResyncGame(ctx, id, engine.ResyncMode(*mode))
	})
}

func runStreakSweep(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("streak-sweep", flag.ExitOnError)
	gameID := fs.String("game", "", "restrict the sweep to one game")
	date := fs.String("date", "", "check date as YYYY-MM-DD, default today")
	dryRun := fs.Bool("dry-run", false, "log awards without persisting")
	recompute := fs.Bool("recompute-all", false, "award from months held, ignoring anniversaries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := engine.SweepOptions{GameID: *gameID, DryRun: *dryRun, RecomputeAll: *recompute}
	if *date != "" {
		parsed, err := time.Parse("2006-01-02", *date)
		if err != nil {
			return fmt.Errorf("invalid -date: %w", err)
		}
		opts.Date = parsed
	}

	result, err := eng.StreakSweep(ctx, opts)
	if err != nil {
		return err
	}
	logging.Info().
		Int("records", result.RecordsChecked).
		Int("anniversaries", result.Anniversaries).
		Int("awarded", result.BonusesAwarded).
		Msg("streak sweep complete")
	return nil
}

func runRebuildHistory(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("rebuild-history", flag.ExitOnError)
	gameID := fs.String("game", "", "restrict the rebuild to one game")
	dryRun := fs.Bool("dry-run", false, "replay without writing")
	clear := fs.Bool("clear", true, "delete the existing ledger first")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := eng.RebuildHistory(ctx, engine.RebuildOptions{
		GameID: *gameID,
		DryRun: *dryRun,
		Clear:  *clear,
	})
	if err != nil {
		return err
	}
	logging.Info().
		Int("slices", result.Slices).
		Int("runs", result.Runs).
		Int("entries", result.EntriesCreated).
		Int("corrected", result.RunsCorrected).
		Msg("ledger rebuild complete")
	return nil
}
