package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"craftbot/internal/element"
)

func openBackend(t *testing.T, backend, dir string, write bool) Repository {
	t.Helper()
	repo, err := Open(backend, dir, write)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func forEachBackend(t *testing.T, fn func(t *testing.T, backend string)) {
	for _, backend := range []string{"csv", "json", "sqlite"} {
		t.Run(backend, func(t *testing.T) { fn(t, backend) })
	}
}

func TestFreshRepositorySeedsRoots(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		repo := openBackend(t, backend, t.TempDir(), true)

		elements, err := repo.LoadElements()
		require.NoError(t, err)
		assert.Equal(t, element.Roots(), elements)

		recipes, err := repo.LoadRecipes()
		require.NoError(t, err)
		assert.Empty(t, recipes)
	})
}

func TestAddAndReload(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		dir := t.TempDir()
		repo := openBackend(t, backend, dir, true)

		steam := element.Element{Text: "Steam", Emoji: "💨"}
		require.NoError(t, repo.AddElement(steam))
		require.NoError(t, repo.AddRecipe(element.Recipe{
			Ingredients: element.NewPair("Water", "Fire"),
			Result:      "Steam",
		}))
		require.NoError(t, repo.AddRecipe(element.Recipe{
			Ingredients: element.NewPair("Water", "Glass"),
			Result:      element.Nothing,
		}))
		require.NoError(t, repo.Close())

		// reload in a second instance
		repo = openBackend(t, backend, dir, false)
		elements, err := repo.LoadElements()
		require.NoError(t, err)
		assert.Len(t, elements, 5)
		assert.Equal(t, steam, elements[4])

		recipes, err := repo.LoadRecipes()
		require.NoError(t, err)
		require.Len(t, recipes, 2)
		assert.Equal(t, "Steam", recipes[0].Result)
		assert.Equal(t, element.NewPair("Fire", "Water"), recipes[0].Ingredients)
		assert.Equal(t, element.Nothing, recipes[1].Result)
	})
}

func TestWriteAccessExclusive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		dir := t.TempDir()
		holder := openBackend(t, backend, dir, true)

		_, err := Open(backend, dir, true)
		assert.ErrorIs(t, err, ErrWriteLocked)

		// read-only access is still fine
		reader := openBackend(t, backend, dir, false)
		assert.False(t, reader.HasWriteAccess())

		// and its own write attempts are rejected
		err = reader.AddElement(element.Element{Text: "Steam"})
		assert.ErrorIs(t, err, ErrNoWriteAccess)

		// after release the lock is free again
		require.NoError(t, holder.Close())
		require.NoError(t, reader.AcquireWriteAccess())
	})
}

func TestPathsRoundtrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		repo := openBackend(t, backend, t.TempDir(), true)

		root := element.Path{Elements: map[string]struct{}{}}
		steam := element.NewPath("Water", "Fire", root, root, "Steam")
		paths := map[string]element.Path{
			"Water": root,
			"Fire":  root,
			"Steam": steam,
		}
		require.NoError(t, repo.SavePaths(paths))

		loaded, err := repo.LoadPaths()
		require.NoError(t, err)
		require.Len(t, loaded, 3)
		assert.Nil(t, loaded["Water"].Ancestors)
		assert.Equal(t, 0, loaded["Water"].Depth())
		require.NotNil(t, loaded["Steam"].Ancestors)
		assert.Equal(t, [2]string{"Water", "Fire"}, *loaded["Steam"].Ancestors)
		assert.Equal(t, map[string]struct{}{"Steam": {}}, loaded["Steam"].Elements)
	})
}

func TestLoadPathsEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		repo := openBackend(t, backend, t.TempDir(), true)
		paths, err := repo.LoadPaths()
		require.NoError(t, err)
		assert.Empty(t, paths)
	})
}

func TestAux(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		repo := openBackend(t, backend, t.TempDir(), true)

		_, err := repo.LoadAux("stats/notes.txt")
		assert.ErrorIs(t, err, ErrAuxNotFound)

		require.NoError(t, repo.SaveAux("stats/notes.txt", []byte("12 7")))
		data, err := repo.LoadAux("stats/notes.txt")
		require.NoError(t, err)
		assert.Equal(t, []byte("12 7"), data)

		// overwrite
		require.NoError(t, repo.SaveAux("stats/notes.txt", []byte("13 0")))
		data, err = repo.LoadAux("stats/notes.txt")
		require.NoError(t, err)
		assert.Equal(t, []byte("13 0"), data)
	})
}

func TestAuxRejectsReservedNames(t *testing.T) {
	cases := map[string][]string{
		"csv":    {"elements", "elements/00000.csv", "recipes/x", "paths"},
		"json":   {"elements.json", "recipes.json", "paths.json"},
		"sqlite": {"craftbot.db", "craftbot.db-wal"},
	}
	forEachBackend(t, func(t *testing.T, backend string) {
		repo := openBackend(t, backend, t.TempDir(), true)
		for _, name := range append(cases[backend], "../escape", "/abs") {
			assert.Error(t, repo.SaveAux(name, []byte("x")), "name %q", name)
		}
	})
}

func TestJSONReadOnlyOpenNeedsExistingData(t *testing.T) {
	// a directory no crawl ever initialized must not open as an empty
	// repository; readers would mistake a typoed data dir for fresh data
	_, err := OpenJSON(filepath.Join(t.TempDir(), "nowhere"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), elementsJSON)
}

func TestDuplicateElementsRejected(t *testing.T) {
	dir := t.TempDir()
	repo := openBackend(t, "csv", dir, true)
	require.NoError(t, repo.AddElement(element.Element{Text: "Water", Emoji: "💧"}))

	_, err := repo.LoadElements()
	var de *DataError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Msg, "Water")
}

func TestDuplicateRecipesRejected(t *testing.T) {
	for _, backend := range []string{"csv", "json"} {
		t.Run(backend, func(t *testing.T) {
			repo := openBackend(t, backend, t.TempDir(), true)
			rec := element.Recipe{Ingredients: element.NewPair("Water", "Fire"), Result: "Steam"}
			require.NoError(t, repo.AddRecipe(rec))
			require.NoError(t, repo.AddRecipe(rec))

			_, err := repo.LoadRecipes()
			var de *DataError
			assert.ErrorAs(t, err, &de)
		})
	}

	// sqlite enforces uniqueness at insert time instead
	t.Run("sqlite", func(t *testing.T) {
		repo := openBackend(t, "sqlite", t.TempDir(), true)
		rec := element.Recipe{Ingredients: element.NewPair("Water", "Fire"), Result: "Steam"}
		require.NoError(t, repo.AddRecipe(rec))
		assert.Error(t, repo.AddRecipe(rec))
	})
}

func TestCSVPaginationGapDetected(t *testing.T) {
	dir := t.TempDir()
	repo := openBackend(t, "csv", dir, true)
	require.NoError(t, repo.Close())

	// punch a hole in the numbering
	src := filepath.Join(dir, "elements", "00000.csv")
	dst := filepath.Join(dir, "elements", "00002.csv")
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, data, 0644))

	repo = openBackend(t, "csv", dir, false)
	_, err = repo.LoadElements()
	var de *DataError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Msg, "00001.csv")
}

func TestCSVPageRollover(t *testing.T) {
	c := &csvCollection{dir: filepath.Join(t.TempDir(), "rows"), header: []string{"a", "b"}}
	_, err := c.ensure()
	require.NoError(t, err)

	rows := make([][]string, pageSize-1)
	for i := range rows {
		rows[i] = []string{fmt.Sprint(i), "x"}
	}
	require.NoError(t, c.rewrite(rows))

	// two appends: the first fills page 0, the second must open page 1
	require.NoError(t, c.append([]string{"last", "x"}))
	require.NoError(t, c.append([]string{"rolled", "x"}))

	names, err := c.pages()
	require.NoError(t, err)
	assert.Equal(t, []string{"00000.csv", "00001.csv"}, names)

	all, err := c.readAll()
	require.NoError(t, err)
	require.Len(t, all, pageSize+1)
	assert.Equal(t, "rolled", all[pageSize][0])
}

func TestCSVRewriteExactMultiple(t *testing.T) {
	c := &csvCollection{dir: filepath.Join(t.TempDir(), "rows"), header: []string{"a"}}
	_, err := c.ensure()
	require.NoError(t, err)

	rows := make([][]string, pageSize)
	for i := range rows {
		rows[i] = []string{fmt.Sprint(i)}
	}
	require.NoError(t, c.rewrite(rows))

	// an empty trailing page is valid and appendable
	all, err := c.readAll()
	require.NoError(t, err)
	assert.Len(t, all, pageSize)
	require.NoError(t, c.append([]string{"next"}))
}

func TestJSONAppendKeepsFileParseable(t *testing.T) {
	dir := t.TempDir()
	repo := openBackend(t, "json", dir, true)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.AddElement(element.Element{Text: fmt.Sprintf("El %d", i)}))
	}

	// the raw file must stay a valid JSON document after every append
	elements, err := repo.LoadElements()
	require.NoError(t, err)
	assert.Len(t, elements, 7) // 4 roots + 3
}

func TestSQLiteEmbeddingCache(t *testing.T) {
	repo, err := OpenSQLite(t.TempDir(), true)
	require.NoError(t, err)
	defer repo.Close()

	_, ok, err := repo.GetEmbedding("ollama", "Steam")
	require.NoError(t, err)
	assert.False(t, ok)

	vec := []float32{0.25, -1, 0.5}
	require.NoError(t, repo.PutEmbedding("ollama", "Steam", vec))

	got, ok, err := repo.GetEmbedding("ollama", "Steam")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vec, got)

	// providers are independent namespaces
	_, ok, err = repo.GetEmbedding("genai", "Steam")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("xml", t.TempDir(), false)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrWriteLocked))
}
