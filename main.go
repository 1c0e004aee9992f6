package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/preventera/safetygraph/pkg/config"
	"github.com/preventera/safetygraph/pkg/connectors"
	"github.com/preventera/safetygraph/pkg/database"
	"github.com/preventera/safetygraph/pkg/graph"
	"github.com/preventera/safetygraph/pkg/models"
	"github.com/preventera/safetygraph/pkg/orchestrator"
	"github.com/preventera/safetygraph/pkg/pipeline"
	"github.com/preventera/safetygraph/pkg/repositories"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	app := &cli.App{
		Name:    "safetygraph",
		Usage:   "Workplace safety incident ingestion engine",
		Version: Version,
		Commands: []*cli.Command{
			listCommand(),
			runCommand(),
			migrateCommand(),
			graphSetupCommand(),
			statusCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "test" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List configured sources and registered connector types",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			registry, err := config.LoadSources(cfg.SourcesPath)
			if err != nil {
				return err
			}

			fmt.Println("Sources:")
			for _, src := range registry.All() {
				state := "enabled"
				if !src.Enabled {
					state = "disabled"
				}
				fmt.Printf("  %-28s p%d %-22s %-14s %s\n",
					src.Key, src.Priority, string(src.Type), src.Jurisdiction, state)
			}
			fmt.Println("Connectors:")
			for _, info := range connectors.RegisteredConnectors() {
				fmt.Printf("  %-22s %s\n", string(info.Type), info.Description)
			}
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending relational schema migrations",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Env)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return database.Migrate(&cfg.Database, cfg.MigrationsPath, logger)
		},
	}
}

func graphSetupCommand() *cli.Command {
	return &cli.Command{
		Name:  "graph-setup",
		Usage: "Ensure graph constraints and seed consumer agents",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Env)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := c.Context
			loader, err := graph.NewLoader(ctx, cfg.Neo4j, cfg.Pipeline.GraphBatchSize, logger)
			if err != nil {
				return err
			}
			defer loader.Close(ctx)

			if err := loader.SetupConstraints(ctx); err != nil {
				return err
			}
			return loader.SeedAgents(ctx, graph.DefaultAgents)
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show per-source ingestion state and graph statistics",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Env)
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := c.Context

			db, err := database.NewConnection(ctx, &cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			sources, err := repositories.NewSourceMetadataRepository(db).List(ctx)
			if err != nil {
				return err
			}
			for _, m := range sources {
				last := "never"
				if m.LastRun != nil {
					last = m.LastRun.Format("2006-01-02 15:04")
				}
				fmt.Printf("  %-28s %-8s rows=%-8d total=%-8d last=%s\n",
					m.SourceKey, m.Status, m.RowsIngested, m.TotalRows, last)
			}

			loader, err := graph.NewLoader(ctx, cfg.Neo4j, cfg.Pipeline.GraphBatchSize, logger)
			if err != nil {
				return err
			}
			defer loader.Close(ctx)
			stats, err := loader.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Println("Graph:")
			for key, value := range stats {
				fmt.Printf("  %-16s %d\n", key, value)
			}
			return nil
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Ingest one source or every enabled source",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "source",
				Aliases: []string{"s"},
				Usage:   "Run a single source by key",
			},
			&cli.BoolFlag{
				Name:    "all",
				Aliases: []string{"a"},
				Usage:   "Run all enabled sources in priority order",
			},
			&cli.IntFlag{
				Name:    "priority",
				Aliases: []string{"p"},
				Usage:   "Only run sources with priority <= this value",
				Value:   3,
			},
			&cli.BoolFlag{
				Name:  "merge",
				Usage: "Write the merged gold table after the run",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write the run report as JSON to this path",
			},
		},
		Action: func(c *cli.Context) error {
			if c.String("source") == "" && !c.Bool("all") {
				return fmt.Errorf("either --source or --all is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Env)
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := c.Context

			eng, err := buildEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer eng.close(ctx)

			var report *models.RunReport
			if key := c.String("source"); key != "" {
				result := eng.orch.RunSingle(ctx, key)
				report = eng.orch.GenerateReport(key, result.StartedAt)
			} else {
				report = eng.orch.RunAll(ctx, c.Int("priority"))
			}

			if c.Bool("merge") {
				if err := writeMergedGold(ctx, cfg, eng.orch); err != nil {
					return err
				}
			}
			if path := c.String("report"); path != "" {
				if err := writeReport(report, path); err != nil {
					return err
				}
			}

			logger.Info("run finished",
				zap.String("batch_id", report.BatchID),
				zap.Int("successful", report.Successful),
				zap.Int("partial", report.Partial),
				zap.Int("failed", report.Failed),
				zap.Int("rows", report.TotalRows))
			if report.Failed > 0 {
				return cli.Exit(fmt.Sprintf("%d of %d sources failed", report.Failed, report.TotalSources), 1)
			}
			return nil
		},
	}
}

// engine bundles the wired collaborators behind one close call.
type engine struct {
	db     *database.DB
	loader *graph.Loader
	orch   *orchestrator.Orchestrator
}

func (e *engine) close(ctx context.Context) {
	if e.loader != nil {
		e.loader.Close(ctx)
	}
	if e.db != nil {
		e.db.Close()
	}
}

func buildEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine, error) {
	registry, err := config.LoadSources(cfg.SourcesPath)
	if err != nil {
		return nil, err
	}
	crosswalk, err := config.LoadCrosswalk(cfg.CrosswalkPath)
	if err != nil {
		return nil, err
	}
	severity, err := config.LoadSeverityVocabulary(cfg.SeverityPath)
	if err != nil {
		return nil, err
	}

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(&cfg.Database, cfg.MigrationsPath, logger); err != nil {
		db.Close()
		return nil, err
	}

	loader, err := graph.NewLoader(ctx, cfg.Neo4j, cfg.Pipeline.GraphBatchSize, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := loader.SeedAgents(ctx, graph.DefaultAgents); err != nil {
		loader.Close(ctx)
		db.Close()
		return nil, err
	}

	orch := orchestrator.New(orchestrator.Options{
		Registry:   registry,
		Client:     connectors.NewClient(cfg.Pipeline, connectors.WithLogger(logger)),
		Bronze:     pipeline.NewBronzeStore(cfg.DataDir, logger),
		Silver:     pipeline.NewSilver(logger),
		Harmonizer: pipeline.NewHarmonizer(crosswalk, severity, logger),
		Incidents:  repositories.NewIncidentRepository(db, cfg.Pipeline.UpsertBatch, logger),
		Sources:    repositories.NewSourceMetadataRepository(db),
		Batches:    repositories.NewIngestionBatchRepository(db),
		Graph:      loader,
		Logger:     logger,
	})

	return &engine{db: db, loader: loader, orch: orch}, nil
}

// writeMergedGold snapshots the deduplicated gold table of this run
// under <data_dir>/gold/.
func writeMergedGold(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator) error {
	merged := orch.MergeGoldTables(ctx)
	dir := cfg.DataDir + "/gold"
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := os.Create(dir + "/incidents_global.jsonl")
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, rec := range merged {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func writeReport(report *models.RunReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
