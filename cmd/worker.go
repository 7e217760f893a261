package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/research-worker/internal/cache"
	"github.com/sells-group/research-worker/internal/pipeline"
	"github.com/sells-group/research-worker/internal/worker"
	"github.com/sells-group/research-worker/pkg/claude"
	"github.com/sells-group/research-worker/pkg/contacts"
	"github.com/sells-group/research-worker/pkg/levels"
	"github.com/sells-group/research-worker/pkg/notion"
)

var workerImportXLSX string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the task-processing loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		settings := cache.ParseSettings(cfg.Cache.NoCache, cfg.Cache.CacheUntil,
			cfg.Cache.ClearSteps, cfg.Cache.ClearAll)
		researchCache := cache.New(st, settings)

		claudeClient := claude.NewClient(cfg.Anthropic.Key,
			claude.WithCallTimeout(cfg.Anthropic.CallTimeout))
		levelsClient := levels.NewClient(cfg.Levels.Key,
			levels.WithBaseURL(cfg.Levels.BaseURL),
			levels.WithRateLimit(cfg.Levels.RatePerSec),
		)
		scraper := contacts.NewBinaryScraper(cfg.Contacts.BinPath,
			cfg.Contacts.CallTimeout, cfg.Contacts.KillGrace)

		pipeCfg := pipeline.DefaultConfig()
		if cfg.Levels.CallTimeout > 0 {
			pipeCfg.LevelsTimeout = cfg.Levels.CallTimeout
		}
		if cfg.Contacts.CallTimeout > 0 {
			pipeCfg.ContactsTimeout = cfg.Contacts.CallTimeout
		}

		orch := pipeline.New(st, researchCache,
			pipeline.NewClaudeFactsExtractor(claudeClient, cfg.Anthropic.Model, int64(cfg.Anthropic.MaxTokens)),
			pipeline.NewClaudeFitEvaluator(claudeClient, cfg.Anthropic.Model, 1024),
			levelsClient, scraper, pipeCfg)
		replies := pipeline.NewReplyGenerator(st, researchCache, claudeClient,
			cfg.Anthropic.Model, int64(cfg.Anthropic.MaxTokens))

		var sources []worker.LeadSource
		if workerImportXLSX != "" {
			sources = append(sources, worker.SheetSource{Path: workerImportXLSX})
		}
		if cfg.Notion.Token != "" && cfg.Notion.LeadDB != "" {
			sources = append(sources, worker.NotionSource{
				Client: notion.NewClient(cfg.Notion.Token),
				DBID:   cfg.Notion.LeadDB,
			})
		}

		w := worker.New(st, orch, replies, nil, sources, worker.Config{
			PollInterval: cfg.Worker.PollInterval,
			ErrorBackoff: cfg.Worker.ErrorBackoff,
		})

		zap.L().Info("worker: starting",
			zap.String("driver", cfg.Store.Driver),
			zap.Int("lead_sources", len(sources)),
		)
		return w.Run(ctx)
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerImportXLSX, "import-xlsx", "", "XLSX workbook used by bulk_import tasks")
	rootCmd.AddCommand(workerCmd)
}
