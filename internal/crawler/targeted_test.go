package crawler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"craftbot/internal/config"
	"craftbot/internal/element"
)

// vectorEngine serves fixed embeddings by name; unknown names get a vector
// orthogonal to everything interesting.
type vectorEngine struct {
	vectors map[string][]float32
}

func (v *vectorEngine) Name() string { return "test:vectors" }

func (v *vectorEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := v.vectors[text]; ok {
		return vec, nil
	}
	return []float32{0, 0, 1}, nil
}

func (v *vectorEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i], _ = v.Embed(ctx, text)
	}
	return out, nil
}

func testTargeted(t *testing.T, target string, patterns string) (*Targeted, *int) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forbidden_patterns.txt")
	if patterns != "" {
		writePatterns(t, path, patterns)
	}
	engine := &vectorEngine{vectors: map[string][]float32{
		target:  {1, 0, 0},
		"Fire":  {0.9, 0.1, 0},
		"Water": {0.5, 0.5, 0},
	}}
	flushes := 0
	flush := func() error { flushes++; return nil }
	return NewTargeted(target, engine, flush, path, config.DefaultConfig().Crawler), &flushes
}

func TestTargetedCrawlReachesTarget(t *testing.T) {
	repo := testRepo(t)
	client := newFakeClient(map[string]element.Element{
		pairKey("Fire", "Fire"): {Text: "Dragon", Emoji: "🐉"},
	})

	strategy, flushes := testTargeted(t, "Dragon", "")
	err := runCrawl(t, repo, client, strategy, Options{Workers: 2})
	require.NoError(t, err)

	elements, err := repo.LoadElements()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, el := range elements {
		names[el.Text] = true
	}
	assert.True(t, names["Dragon"], "crawl must reach the target")
	assert.Greater(t, *flushes, 0, "embedding cache must be flushed at checkpoint")
}

func TestTargetedRankingPrefersSimilarNames(t *testing.T) {
	repo := testRepo(t)
	strategy, _ := testTargeted(t, "Dragon", "")

	s, err := loadState(repo)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, strategy.Prepare(ctx, s))

	require.NotEmpty(t, strategy.ranked)
	assert.Equal(t, "Fire", strategy.ranked[0], "most similar element ranks first")
}

func TestTargetedPatternsExcludeElements(t *testing.T) {
	repo := testRepo(t)
	strategy, _ := testTargeted(t, "Dragon", "water")

	s, err := loadState(repo)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, strategy.Prepare(ctx, s))

	for _, name := range strategy.ranked {
		assert.NotEqual(t, "Water", name, "forbidden element must not be sampleable")
	}
	assert.Len(t, strategy.ranked, 3)
}

func TestTargetedScoreCountsRunes(t *testing.T) {
	strategy, _ := testTargeted(t, "Dragon", "")
	strategy.targetVec = []float32{1, 0, 0}

	// same vector, same rune count: the accented name must score the same
	// even though it encodes to more bytes
	vec := []float32{0.9, 0.1, 0}
	assert.Equal(t, strategy.score("Cafe", vec), strategy.score("Café", vec))
	assert.Greater(t, strategy.score("Café", vec), strategy.score("Coffee", vec))
}

func TestTargetedScoresNewElements(t *testing.T) {
	repo := testRepo(t)
	client := newFakeClient(map[string]element.Element{
		pairKey("Fire", "Water"): {Text: "Steam", Emoji: "💨"},
		pairKey("Steam", "Fire"): {Text: "Dragon", Emoji: "🐉"},
	})

	strategy, _ := testTargeted(t, "Dragon", "")
	err := runCrawl(t, repo, client, strategy, Options{Workers: 1})
	require.NoError(t, err)

	// Steam was crafted mid-run and must have been scored to reach Dragon
	assert.Contains(t, strategy.scores, "Steam")

	elements, err := repo.LoadElements()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, el := range elements {
		names[el.Text] = true
	}
	assert.True(t, names["Dragon"])
}
