package crawler

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"craftbot/internal/api"
	"craftbot/internal/config"
	"craftbot/internal/element"
	"craftbot/internal/repository"
	"craftbot/internal/ui"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClient serves combinations from a fixed table; everything else makes
// Nothing. It can be primed to fail, globally or for single pairs.
type fakeClient struct {
	mu     sync.Mutex
	table  map[string]element.Element
	err    error
	errFor map[string]error
	calls  int
}

func newFakeClient(table map[string]element.Element) *fakeClient {
	return &fakeClient{table: table}
}

func pairKey(first, second string) string {
	return element.NewPair(first, second).Key()
}

func (f *fakeClient) Pair(ctx context.Context, first, second string) (*element.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if err, ok := f.errFor[pairKey(first, second)]; ok {
		return nil, err
	}
	if el, ok := f.table[pairKey(first, second)]; ok {
		return &el, nil
	}
	return &element.Element{Text: element.Nothing}, nil
}

func testRepo(t *testing.T) repository.Repository {
	t.Helper()
	repo, err := repository.OpenJSON(t.TempDir(), true)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func runCrawl(t *testing.T, repo repository.Repository, client api.PairClient, strategy Strategy, opts Options) error {
	t.Helper()
	c, err := New(client, repo, strategy, ui.NewPrinter(io.Discard), opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	return c.Run(ctx)
}

func TestExhaustiveCrawlRootsOnly(t *testing.T) {
	repo := testRepo(t)
	client := newFakeClient(nil) // every combination makes Nothing

	err := runCrawl(t, repo, client, NewExhaustive(), Options{Workers: 3})
	require.NoError(t, err)

	// 4 roots, pairs with j <= i: 10 combinations
	recipes, err := repo.LoadRecipes()
	require.NoError(t, err)
	assert.Len(t, recipes, 10)
	for _, r := range recipes {
		assert.Equal(t, element.Nothing, r.Result)
	}

	// Nothing is never stored as an element
	elements, err := repo.LoadElements()
	require.NoError(t, err)
	assert.Len(t, elements, 4)
}

func TestCrawlRecordsNewElementsAndPaths(t *testing.T) {
	repo := testRepo(t)
	client := newFakeClient(map[string]element.Element{
		pairKey("Water", "Fire"):  {Text: "Steam", Emoji: "💨"},
		pairKey("Steam", "Earth"): {Text: "Mud", Emoji: "🟤", Discovered: true},
	})

	err := runCrawl(t, repo, client, NewExhaustive(), Options{Workers: 1})
	require.NoError(t, err)

	elements, err := repo.LoadElements()
	require.NoError(t, err)
	byName := map[string]element.Element{}
	for _, el := range elements {
		byName[el.Text] = el
	}
	require.Contains(t, byName, "Steam")
	require.Contains(t, byName, "Mud")
	assert.True(t, byName["Mud"].Discovered)

	// every element produced by a recipe is persisted, and vice versa
	recipes, err := repo.LoadRecipes()
	require.NoError(t, err)
	for _, r := range recipes {
		if r.Result != element.Nothing {
			assert.Contains(t, byName, r.Result, "recipe result %q not stored", r.Result)
		}
		assert.Contains(t, byName, r.Ingredients.First())
		assert.Contains(t, byName, r.Ingredients.Second())
	}

	// paths were checkpointed on the way out
	paths, err := repo.LoadPaths()
	require.NoError(t, err)
	require.Contains(t, paths, "Mud")
	assert.Equal(t, 2, paths["Mud"].Depth())
}

func TestCrawlHonorsLimit(t *testing.T) {
	repo := testRepo(t)
	client := newFakeClient(nil)

	err := runCrawl(t, repo, client, NewExhaustive(), Options{Workers: 2, Limit: 3})
	require.NoError(t, err)

	recipes, err := repo.LoadRecipes()
	require.NoError(t, err)
	assert.Len(t, recipes, 3)
}

func TestCrawlAbortsOnSchemaChange(t *testing.T) {
	repo := testRepo(t)
	client := newFakeClient(nil)
	client.err = api.ErrSchemaChanged

	err := runCrawl(t, repo, client, NewExhaustive(), Options{Workers: 2})
	assert.ErrorIs(t, err, api.ErrSchemaChanged)

	recipes, err := repo.LoadRecipes()
	require.NoError(t, err)
	assert.Empty(t, recipes, "nothing may be persisted after a schema change")
}

func TestCrawlSkipsOnServerErrors(t *testing.T) {
	repo := testRepo(t)
	client := newFakeClient(nil)
	client.err = &api.ServerError{StatusCode: 502}

	err := runCrawl(t, repo, client, NewExhaustive(), Options{Workers: 1})
	require.NoError(t, err)

	// every combination was retried, skipped, and left unrecorded
	recipes, err := repo.LoadRecipes()
	require.NoError(t, err)
	assert.Empty(t, recipes)
	assert.Equal(t, 10*serverErrorRetries, client.calls)
}

func TestCrawlRequiresWriteAccess(t *testing.T) {
	dir := t.TempDir()
	holder, err := repository.OpenJSON(dir, true)
	require.NoError(t, err)
	defer holder.Close()

	reader, err := repository.OpenJSON(dir, false)
	require.NoError(t, err)
	defer reader.Close()

	_, err = New(newFakeClient(nil), reader, NewExhaustive(), ui.NewPrinter(io.Discard), Options{})
	assert.ErrorIs(t, err, repository.ErrNoWriteAccess)
}

func TestExhaustiveResumesFromRecipes(t *testing.T) {
	repo := testRepo(t)
	client := newFakeClient(nil)

	// stop after 4 of the 10 root combinations
	require.NoError(t, runCrawl(t, repo, client, NewExhaustive(), Options{Workers: 1, Limit: 4}))
	callsAfterFirst := client.calls
	assert.Equal(t, 4, callsAfterFirst)

	// the second run skips the recorded prefix instead of re-requesting
	require.NoError(t, runCrawl(t, repo, client, NewExhaustive(), Options{Workers: 1}))
	assert.Equal(t, 10, client.calls)

	recipes, err := repo.LoadRecipes()
	require.NoError(t, err)
	assert.Len(t, recipes, 10)
}

func TestExhaustiveRetriesAbandonedPair(t *testing.T) {
	repo := testRepo(t)
	client := newFakeClient(nil)
	client.errFor = map[string]error{
		pairKey("Earth", "Fire"): &api.ServerError{StatusCode: 502},
	}

	require.NoError(t, runCrawl(t, repo, client, NewExhaustive(), Options{Workers: 1}))
	recipes, err := repo.LoadRecipes()
	require.NoError(t, err)
	assert.Len(t, recipes, 9, "the failing pair is skipped for this run only")

	// once the server recovers, the next run serves the abandoned pair even
	// though later combinations were already recorded past it
	client.errFor = nil
	require.NoError(t, runCrawl(t, repo, client, NewExhaustive(), Options{Workers: 1}))
	recipes, err = repo.LoadRecipes()
	require.NoError(t, err)
	assert.Len(t, recipes, 10)
}

func TestRunReturnsWhenStrategyExhausted(t *testing.T) {
	repo := testRepo(t)
	c, err := New(newFakeClient(nil), repo, NewExhaustive(), ui.NewPrinter(io.Discard), Options{Workers: 2})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after the strategy ran dry")
	}

	recipes, err := repo.LoadRecipes()
	require.NoError(t, err)
	assert.Len(t, recipes, 10)
}

func TestExhaustiveAdvance(t *testing.T) {
	e := &Exhaustive{}
	var got [][2]int
	for range [6]struct{}{} {
		got = append(got, [2]int{e.i, e.j})
		e.advance()
	}
	want := [][2]int{{0, 0}, {1, 0}, {1, 1}, {2, 0}, {2, 1}, {2, 2}}
	assert.Equal(t, want, got)
}

func TestRandomStrategyStopsWhenExhausted(t *testing.T) {
	repo := testRepo(t)
	client := newFakeClient(map[string]element.Element{
		pairKey("Water", "Fire"): {Text: "Steam", Emoji: "💨"},
	})

	err := runCrawl(t, repo, client, NewRandom(), Options{Workers: 4})
	require.NoError(t, err)

	// 5 elements once Steam exists: 15 unordered pairs in total
	recipes, err := repo.LoadRecipes()
	require.NoError(t, err)
	assert.Len(t, recipes, 15)
}

func TestLowDepthCrawls(t *testing.T) {
	repo := testRepo(t)
	client := newFakeClient(map[string]element.Element{
		pairKey("Water", "Fire"): {Text: "Steam", Emoji: "💨"},
	})

	cfg := config.DefaultConfig().Crawler
	err := runCrawl(t, repo, client, NewLowDepth(cfg), Options{Workers: 2})
	require.NoError(t, err)

	elements, err := repo.LoadElements()
	require.NoError(t, err)
	assert.Len(t, elements, 5)

	// Steam got a path and became sampleable itself: all 15 pairs were tried
	recipes, err := repo.LoadRecipes()
	require.NoError(t, err)
	assert.Len(t, recipes, 15)
}

func TestStatePathImprovementPropagates(t *testing.T) {
	s := &State{
		elements: map[string]element.Element{},
		recipes:  map[element.Pair]string{},
		paths:    map[string]element.Path{},
	}
	root := element.Path{Elements: map[string]struct{}{}}
	s.setPath("Water", root)
	s.setPath("Fire", root)
	s.setPath("Wind", root)

	// Steam at depth 3 via a detour, Mud depends on it
	detour := element.NewPath("Water", "Fire", root, root, "Haze")
	s.setPath("Haze", detour)
	mist := element.NewPath("Haze", "Wind", detour, root, "Mist")
	s.setPath("Mist", mist)
	steam := element.NewPath("Mist", "Fire", mist, root, "Steam")
	s.setPath("Steam", steam)
	mud := element.NewPath("Steam", "Water", steam, root, "Mud")
	s.setPath("Mud", mud)
	require.Equal(t, 4, s.paths["Mud"].Depth())

	// a direct Steam recipe improves Steam and, transitively, Mud
	prev, changed := s.updatePaths(element.NewPair("Water", "Fire"), "Steam")
	assert.True(t, changed)
	assert.Equal(t, 3, prev)
	assert.Equal(t, 1, s.paths["Steam"].Depth())
	assert.Equal(t, 2, s.paths["Mud"].Depth())
}
