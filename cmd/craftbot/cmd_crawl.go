package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"craftbot/internal/api"
	"craftbot/internal/crawler"
	"craftbot/internal/embedding"
	"craftbot/internal/metrics"
	"craftbot/internal/paths"
	"craftbot/internal/repository"
	"craftbot/internal/ui"
)

var (
	crawlMode    string
	crawlTarget  string
	crawlWorkers int
	crawlLimit   int
	computeFirst bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl combinations and grow the element pool",
	Long: `Crawls Infinite Craft with the selected strategy:

  low      depth-prioritized sampling with a synergy filter (default)
  random   uniform random combinations of known elements
  exhaust  every combination in order, resumable across runs
  target   embedding-guided crawling toward --target

The crawl runs until interrupted (Ctrl-C), the strategy is exhausted, or
--limit combinations have been tried.`,
	RunE: runCrawl,
}

func init() {
	crawlCmd.Flags().StringVarP(&crawlMode, "mode", "m", "low", "Strategy: low, random, exhaust or target")
	crawlCmd.Flags().StringVarP(&crawlTarget, "target", "t", "", "Target element for --mode target")
	crawlCmd.Flags().IntVarP(&crawlWorkers, "workers", "w", 0, "Concurrent workers (default from config)")
	crawlCmd.Flags().IntVarP(&crawlLimit, "limit", "n", 0, "Stop after this many combinations (0 = unlimited)")
	crawlCmd.Flags().BoolVarP(&computeFirst, "compute-paths", "p", false, "Recompute all paths from recipes before crawling")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	repo, err := openRepo(true)
	if err != nil {
		return err
	}
	defer repo.Close()

	if computeFirst {
		recipes, err := repo.LoadRecipes()
		if err != nil {
			return err
		}
		logger.Info("computing paths before crawl", zap.Int("recipes", len(recipes)))
		if err := repo.SavePaths(paths.Compute(recipes)); err != nil {
			return err
		}
	}

	strategy, err := buildStrategy(repo)
	if err != nil {
		return err
	}

	client, closeClient, err := buildClient(ctx)
	if err != nil {
		return err
	}
	defer closeClient()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				logger.Warn("metrics listener failed", zap.Error(err))
			}
		}()
	}

	workers := cfg.Crawler.Workers
	if crawlWorkers > 0 {
		workers = crawlWorkers
	}

	c, err := crawler.New(client, repo, strategy, ui.NewPrinter(os.Stdout), crawler.Options{
		Workers: workers,
		Limit:   crawlLimit,
	})
	if err != nil {
		return err
	}

	logger.Info("crawl starting",
		zap.String("mode", crawlMode),
		zap.Int("workers", workers),
		zap.String("backend", cfg.Data.Backend))
	return c.Run(ctx)
}

// buildStrategy wires the strategy selected by --mode.
func buildStrategy(repo repository.Repository) (crawler.Strategy, error) {
	switch crawlMode {
	case "low":
		return crawler.NewLowDepth(cfg.Crawler), nil
	case "random":
		return crawler.NewRandom(), nil
	case "exhaust":
		return crawler.NewExhaustive(), nil
	case "target":
		if crawlTarget == "" {
			return nil, fmt.Errorf("--mode target needs --target")
		}
		engine, err := embedding.NewEngine(cfg.Embedding)
		if err != nil {
			return nil, err
		}
		// the sqlite backend caches vectors natively; the file backends go
		// through an aux JSON file that needs flushing at checkpoints
		var store embedding.Store
		var flush func() error
		if s, ok := repo.(embedding.Store); ok {
			store = s
		} else {
			aux := embedding.NewAuxStore(repo)
			store = aux
			flush = aux.Flush
		}
		cached := embedding.NewCachedEngine(engine, store)
		patternPath, err := crawler.PatternPath(cfg.Data.Dir, crawlTarget)
		if err != nil {
			return nil, err
		}
		return crawler.NewTargeted(crawlTarget, cached, flush, patternPath, cfg.Crawler), nil
	default:
		return nil, fmt.Errorf("unknown crawl mode %q (use low, random, exhaust or target)", crawlMode)
	}
}

// buildClient wires the pair client selected by the configured transport.
// The returned func releases transport resources.
func buildClient(ctx context.Context) (api.PairClient, func(), error) {
	apiCfg := api.Config{
		BaseURL:    cfg.API.BaseURL,
		Timeout:    cfg.RequestTimeout(),
		RateBurst:  cfg.API.RateBurst,
		RatePeriod: cfg.RatePeriod(),
	}
	switch cfg.API.Transport {
	case "browser":
		client, err := api.NewBrowserClient(ctx, apiCfg)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil
	default:
		return api.NewClient(apiCfg), func() {}, nil
	}
}
