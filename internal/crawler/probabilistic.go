package crawler

import (
	"context"
	"math/rand"

	"craftbot/internal/config"
	"craftbot/internal/element"
	"craftbot/internal/logging"
	"craftbot/internal/repository"
)

// maxDraws bounds how often a sampler redraws before concluding that the
// space it samples from is effectively exhausted.
const maxDraws = 10000

// Random tries uniformly random untried combinations of known elements.
type Random struct {
	rng *rand.Rand
}

// NewRandom creates the random strategy.
func NewRandom() *Random {
	return &Random{rng: rand.New(rand.NewSource(rand.Int63()))}
}

func (r *Random) Name() string { return "random" }

func (r *Random) Prepare(ctx context.Context, s *State) error { return nil }

func (r *Random) Next(ctx context.Context, s *State) (element.Pair, bool, error) {
	n := len(s.order)
	if n == 0 {
		return element.Pair{}, false, nil
	}
	for draw := 0; draw < maxDraws; draw++ {
		pair := element.NewPair(s.order[r.rng.Intn(n)], s.order[r.rng.Intn(n)])
		if !s.Tried(pair) {
			return pair, true, nil
		}
	}
	logging.Crawler("random sampler found no untried pair in %d draws", maxDraws)
	return element.Pair{}, false, nil
}

func (r *Random) Checkpoint(repo repository.Repository) error { return nil }

// LowDepth biases combinations toward shallow elements, and filters out pairs
// whose crafting paths barely overlap. Shallow ingredients keep result depths
// low, and overlapping paths tend to produce thematically coherent results.
type LowDepth struct {
	rng *rand.Rand
	cfg config.CrawlerConfig
}

// NewLowDepth creates the depth-prioritized strategy.
func NewLowDepth(cfg config.CrawlerConfig) *LowDepth {
	return &LowDepth{
		rng: rand.New(rand.NewSource(rand.Int63())),
		cfg: cfg,
	}
}

func (l *LowDepth) Name() string { return "low-depth" }

func (l *LowDepth) Prepare(ctx context.Context, s *State) error {
	if len(s.byDepth) < len(s.order) {
		logging.Crawler("%d of %d elements have no path and will not be sampled; recompute paths to include them",
			len(s.order)-len(s.byDepth), len(s.order))
	}
	return nil
}

func (l *LowDepth) Next(ctx context.Context, s *State) (element.Pair, bool, error) {
	n := len(s.byDepth)
	if n == 0 {
		return element.Pair{}, false, nil
	}
	for draw := 0; draw < maxDraws; draw++ {
		a := s.byDepth[lowIndex(l.rng, n, l.cfg.DepthPrioritization)]
		b := s.byDepth[lowIndex(l.rng, n, l.cfg.DepthPrioritization)]
		pair := element.NewPair(a, b)
		if s.Tried(pair) {
			continue
		}
		if l.cfg.SynergyPenalization > 0 {
			pa, pb := s.paths[a], s.paths[b]
			keep := synergyKeepProbability(pa.Depth(), pb.Depth(), element.Overlap(pa, pb), l.cfg.SynergyPenalization)
			if l.rng.Float64() >= keep {
				continue
			}
		}
		return pair, true, nil
	}
	logging.Crawler("low-depth sampler found no untried pair in %d draws", maxDraws)
	return element.Pair{}, false, nil
}

func (l *LowDepth) Checkpoint(repo repository.Repository) error { return nil }
