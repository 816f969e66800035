package crawler

import (
	"context"
	"math/rand"
	"sort"
	"sync/atomic"
	"unicode/utf8"

	"craftbot/internal/config"
	"craftbot/internal/element"
	"craftbot/internal/embedding"
	"craftbot/internal/logging"
	"craftbot/internal/repository"
)

// Targeted steers the crawl toward a target element by name similarity:
// every known element is scored against the target's embedding, and samples
// are drawn from the top of the resulting order with exponential falloff.
// A pattern file excludes name families that already flooded the pool.
// Crafting the target is announced but does not stop the run; the mode
// doubles as "explore around a concept".
type Targeted struct {
	target      string
	engine      embedding.Engine
	flush       func() error
	patternPath string
	cfg         config.CrawlerConfig
	rng         *rand.Rand

	patterns  *patternList
	targetVec []float32
	scores    map[string]float64
	ranked    []string // eligible element names, best score first
	scored    int      // prefix of State.order already scored
	dirty     atomic.Bool
	announced bool
}

// NewTargeted creates the targeted strategy. The engine should be cache
// wrapped; flush persists that cache at checkpoints (nil is fine).
func NewTargeted(target string, engine embedding.Engine, flush func() error, patternPath string, cfg config.CrawlerConfig) *Targeted {
	return &Targeted{
		target:      target,
		engine:      engine,
		flush:       flush,
		patternPath: patternPath,
		cfg:         cfg,
		rng:         rand.New(rand.NewSource(rand.Int63())),
		scores:      make(map[string]float64),
	}
}

func (t *Targeted) Name() string { return "targeted" }

// Prepare embeds the target and every known element, builds the similarity
// order, and starts watching the pattern file.
func (t *Targeted) Prepare(ctx context.Context, s *State) error {
	patterns, err := newPatternList(t.patternPath)
	if err != nil {
		return err
	}
	t.patterns = patterns
	go func() {
		if err := patterns.watch(ctx, func() { t.dirty.Store(true) }); err != nil {
			logging.Get(logging.CategoryCrawler).Warn("pattern watcher stopped: %v", err)
		}
	}()

	t.targetVec, err = t.engine.Embed(ctx, t.target)
	if err != nil {
		return err
	}

	vecs, err := t.engine.EmbedBatch(ctx, s.order)
	if err != nil {
		return err
	}
	for i, name := range s.order {
		t.scores[name] = t.score(name, vecs[i])
	}
	t.scored = len(s.order)
	t.rebuild()
	logging.Crawler("targeted crawl toward %q: %d elements scored, %d eligible", t.target, len(t.scores), len(t.ranked))
	return nil
}

// score combines similarity to the target with a mild length penalty; long
// names are usually compound dead ends. The penalty counts runes, so names
// with multibyte characters are not punished for their encoding.
func (t *Targeted) score(name string, vec []float32) float64 {
	sim, err := embedding.CosineSimilarity(t.targetVec, vec)
	if err != nil {
		logging.EmbeddingDebug("scoring %q: %v", name, err)
		return -1
	}
	return sim - 0.01*float64(utf8.RuneCountInString(name))
}

// rebuild recomputes the eligible order from scores and patterns.
func (t *Targeted) rebuild() {
	t.ranked = t.ranked[:0]
	for name := range t.scores {
		if !t.patterns.forbidden(name) {
			t.ranked = append(t.ranked, name)
		}
	}
	sort.Slice(t.ranked, func(i, j int) bool {
		si, sj := t.scores[t.ranked[i]], t.scores[t.ranked[j]]
		if si != sj {
			return si > sj
		}
		return t.ranked[i] < t.ranked[j]
	})
}

// insert places one newly scored, eligible name into the ranked order.
func (t *Targeted) insert(name string) {
	score := t.scores[name]
	i := sort.Search(len(t.ranked), func(i int) bool {
		si := t.scores[t.ranked[i]]
		if si != score {
			return si < score
		}
		return t.ranked[i] > name
	})
	t.ranked = append(t.ranked, "")
	copy(t.ranked[i+1:], t.ranked[i:])
	t.ranked[i] = name
}

func (t *Targeted) Next(ctx context.Context, s *State) (element.Pair, bool, error) {
	if !t.announced && s.Known(t.target) {
		t.announced = true
		logging.Crawler("target %q crafted, continuing to explore around it", t.target)
	}

	if t.dirty.Swap(false) {
		t.rebuild()
	}

	// score elements crafted since the last pick
	for ; t.scored < len(s.order); t.scored++ {
		name := s.order[t.scored]
		vec, err := t.engine.Embed(ctx, name)
		if err != nil {
			return element.Pair{}, false, err
		}
		t.scores[name] = t.score(name, vec)
		if !t.patterns.forbidden(name) {
			t.insert(name)
		}
	}

	n := len(t.ranked)
	if n == 0 {
		return element.Pair{}, false, nil
	}
	for draw := 0; draw < maxDraws; draw++ {
		a := t.ranked[expIndex(t.rng, n, t.cfg.SimilarityPrioritization)]
		b := t.ranked[expIndex(t.rng, n, t.cfg.SimilarityPrioritization)]
		pair := element.NewPair(a, b)
		if !s.Tried(pair) {
			return pair, true, nil
		}
	}
	logging.Crawler("targeted sampler found no untried pair in %d draws", maxDraws)
	return element.Pair{}, false, nil
}

func (t *Targeted) Checkpoint(repo repository.Repository) error {
	if t.flush != nil {
		return t.flush()
	}
	return nil
}
