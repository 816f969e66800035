// Package crawler drives the combination loop: pick two elements, ask the
// game what they make, persist the outcome, update paths, repeat. Strategies
// only decide what to try next; everything else is shared.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"craftbot/internal/api"
	"craftbot/internal/element"
	"craftbot/internal/logging"
	"craftbot/internal/metrics"
	"craftbot/internal/repository"
	"craftbot/internal/ui"
)

// Strategy picks the combinations a crawl run tries.
//
// Prepare is called once with the loaded state. Next is called with the state
// lock held and must not block; returning false ends the crawl. A strategy
// that needs I/O to score fresh elements does it inside Next with the given
// context and may return an error to abort the run.
type Strategy interface {
	Name() string
	Prepare(ctx context.Context, s *State) error
	Next(ctx context.Context, s *State) (element.Pair, bool, error)

	// Checkpoint persists strategy state (caches and the like). Called
	// periodically and after the run.
	Checkpoint(repo repository.Repository) error
}

// Options configures a crawl run.
type Options struct {
	Workers int

	// Limit stops the run after this many completed combinations; 0 means
	// run until the strategy is exhausted or the context is canceled.
	Limit int

	// CheckpointEvery bounds how often strategy progress and paths are
	// persisted during the run. Zero means every 30 seconds.
	CheckpointEvery time.Duration
}

// Crawler runs one strategy against the game and the repository.
type Crawler struct {
	client   api.PairClient
	repo     repository.Repository
	strategy Strategy
	printer  *ui.Printer
	opts     Options

	state *State
	done  int // completed combinations, guarded by state.mu
}

// serverErrorRetries is how often a combination is retried on 5xx before it
// is skipped for this run.
const serverErrorRetries = 3

// New creates a Crawler. The repository must have write access.
func New(client api.PairClient, repo repository.Repository, strategy Strategy, printer *ui.Printer, opts Options) (*Crawler, error) {
	if !repo.HasWriteAccess() {
		return nil, repository.ErrNoWriteAccess
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = 30 * time.Second
	}
	return &Crawler{
		client:   client,
		repo:     repo,
		strategy: strategy,
		printer:  printer,
		opts:     opts,
	}, nil
}

// Run crawls until the context is canceled, the strategy runs dry, or the
// combination limit is reached. State is checkpointed on the way out even
// when a worker fails.
func (c *Crawler) Run(ctx context.Context) error {
	state, err := loadState(c.repo)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	c.state = state
	metrics.KnownElements.Set(float64(len(state.elements)))

	if err := c.strategy.Prepare(ctx, state); err != nil {
		return fmt.Errorf("prepare %s strategy: %w", c.strategy.Name(), err)
	}

	runID := uuid.NewString()[:8]
	logging.Crawler("starting %s crawl %s: %d elements, %d recipes, %d workers",
		c.strategy.Name(), runID, len(state.elements), len(state.recipes), c.opts.Workers)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, runCtx := errgroup.WithContext(runCtx)
	for i := 0; i < c.opts.Workers; i++ {
		g.Go(func() error { return c.worker(runCtx) })
	}

	// The checkpoint ticker must not join the group: Wait cancels runCtx only
	// after every group goroutine has returned, so a ticker waiting on that
	// cancellation inside the group would block Wait forever.
	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		ticker := time.NewTicker(c.opts.CheckpointEvery)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := c.checkpoint(); err != nil {
					logging.CrawlerDebug("periodic checkpoint failed: %v", err)
				}
			}
		}
	}()

	runErr := g.Wait()
	cancel()
	<-tickerDone
	c.printer.Flush()

	if err := c.checkpoint(); err != nil {
		if runErr == nil {
			runErr = err
		} else {
			logging.Get(logging.CategoryCrawler).Error("final checkpoint failed: %v", err)
		}
	}

	// a canceled context is the normal way to stop a crawl
	if errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
		runErr = nil
	}
	logging.Crawler("crawl finished: %d combinations, %d elements known", c.done, len(c.state.elements))
	return runErr
}

func (c *Crawler) checkpoint() error {
	c.state.mu.Lock()
	paths := make(map[string]element.Path, len(c.state.paths))
	for name, p := range c.state.paths {
		paths[name] = p
	}
	c.state.mu.Unlock()

	if err := c.repo.SavePaths(paths); err != nil {
		return fmt.Errorf("save paths: %w", err)
	}
	return c.strategy.Checkpoint(c.repo)
}

func (c *Crawler) worker(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.state.mu.Lock()
		if c.opts.Limit > 0 && c.done >= c.opts.Limit {
			c.state.mu.Unlock()
			return nil
		}
		pair, ok, err := c.strategy.Next(ctx, c.state)
		if err != nil {
			c.state.mu.Unlock()
			return err
		}
		if !ok {
			c.state.mu.Unlock()
			logging.Crawler("%s strategy exhausted", c.strategy.Name())
			return nil
		}
		c.state.markPending(pair)
		c.state.mu.Unlock()

		if err := c.combine(ctx, pair); err != nil {
			c.state.mu.Lock()
			c.state.unmark(pair)
			c.state.mu.Unlock()
			if errors.Is(err, errSkip) {
				continue
			}
			return err
		}
	}
}

// errSkip marks a combination abandoned after repeated server errors.
var errSkip = errors.New("combination skipped")

// combine requests one combination and records the outcome.
func (c *Crawler) combine(ctx context.Context, pair element.Pair) error {
	var el *element.Element
	for attempt := 0; ; {
		var err error
		el, err = c.client.Pair(ctx, pair.First(), pair.Second())
		if err == nil {
			break
		}
		switch {
		case errors.Is(err, api.ErrThrottled):
			// the client already slept out the backoff; just try again
			continue
		case errors.Is(err, api.ErrSchemaChanged):
			// keep crawling against an unknown contract and we would
			// poison the repository
			return err
		case errors.As(err, new(*api.ServerError)):
			attempt++
			if attempt >= serverErrorRetries {
				logging.CrawlerDebug("skipping %s after %d server errors", pair, attempt)
				return errSkip
			}
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			// transient network trouble; skip the pair, it stays retryable
			logging.CrawlerDebug("skipping %s: %v", pair, err)
			return errSkip
		}
	}

	c.state.mu.Lock()
	defer c.state.mu.Unlock()

	if err := c.repo.AddRecipe(element.Recipe{Ingredients: pair, Result: el.Text}); err != nil {
		return fmt.Errorf("persist recipe: %w", err)
	}
	c.state.recipes[pair] = el.Text
	metrics.Recipes.Inc()
	c.done++

	if el.Text == element.Nothing {
		c.printer.Progress()
		return nil
	}

	if !c.state.Known(el.Text) {
		if err := c.repo.AddElement(*el); err != nil {
			return fmt.Errorf("persist element: %w", err)
		}
		c.state.addElement(*el)
		metrics.NewElements.Inc()
		metrics.KnownElements.Set(float64(len(c.state.elements)))

		c.state.updatePaths(pair, el.Text)
		depth := -1
		if p, ok := c.state.paths[el.Text]; ok {
			depth = p.Depth()
		}
		if el.Discovered {
			metrics.Discoveries.Inc()
			c.printer.FirstDiscovery(*el, pair, depth)
			logging.Crawler("FIRST DISCOVERY %s (%s)", el.Text, pair)
		} else {
			c.printer.NewElement(*el, pair, depth)
			logging.Crawler("new element %s (%s)", el.Text, pair)
		}
		return nil
	}

	// known element: still worth recording if this recipe shortens its path
	if prev, changed := c.state.updatePaths(pair, el.Text); changed && prev >= 0 {
		c.printer.Improvement(el.Text, pair, prev, c.state.paths[el.Text].Depth())
		logging.Crawler("improved path for %s: %d -> %d (%s)", el.Text, prev, c.state.paths[el.Text].Depth(), pair)
	} else {
		c.printer.Progress()
	}
	return nil
}
