package repository

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"craftbot/internal/element"
	"craftbot/internal/logging"
)

// pageSize is the number of data rows per CSV page. Keeping pages bounded
// keeps appends cheap and the files diffable.
const pageSize = 50000

const (
	elementsCSVDir = "elements"
	recipesCSVDir  = "recipes"
	pathsCSVDir    = "paths"
)

// CSVRepository stores each collection as a directory of fixed-size CSV
// pages named 00000.csv, 00001.csv, ... Every page carries a header row;
// all pages except the last are exactly full. This is the default backend.
type CSVRepository struct {
	*base
	elements *csvCollection
	recipes  *csvCollection
	paths    *csvCollection
}

// OpenCSV opens (or, with write access, initializes) a CSV repository in dir.
// A fresh repository is seeded with the four root elements.
func OpenCSV(dir string, writeAccess bool) (*CSVRepository, error) {
	b, err := newBase(dir, writeAccess, []string{elementsCSVDir, recipesCSVDir, pathsCSVDir})
	if err != nil {
		return nil, err
	}

	r := &CSVRepository{
		base:     b,
		elements: &csvCollection{dir: filepath.Join(dir, elementsCSVDir), header: []string{"text", "emoji", "discovered"}},
		recipes:  &csvCollection{dir: filepath.Join(dir, recipesCSVDir), header: []string{"first", "second", "result"}},
		paths:    &csvCollection{dir: filepath.Join(dir, pathsCSVDir), header: []string{"element", "first", "second", "path"}},
	}

	if writeAccess {
		fresh, err := r.elements.ensure()
		if err != nil {
			_ = b.ReleaseWriteAccess()
			return nil, err
		}
		if _, err := r.recipes.ensure(); err != nil {
			_ = b.ReleaseWriteAccess()
			return nil, err
		}
		if fresh {
			logging.Repository("initializing csv repository in %s", dir)
			for _, root := range element.Roots() {
				if err := r.elements.append(elementRow(root)); err != nil {
					_ = b.ReleaseWriteAccess()
					return nil, err
				}
			}
		}
	}
	return r, nil
}

func (r *CSVRepository) LoadElements() ([]element.Element, error) {
	rows, err := r.elements.readAll()
	if err != nil {
		return nil, err
	}
	elements := make([]element.Element, 0, len(rows))
	for _, row := range rows {
		discovered, err := strconv.ParseBool(row[2])
		if err != nil {
			return nil, dataErrorf("element %q: bad discovered flag %q", row[0], row[2])
		}
		elements = append(elements, element.Element{Text: row[0], Emoji: row[1], Discovered: discovered})
	}
	if err := checkElements(elements); err != nil {
		return nil, err
	}
	return elements, nil
}

func (r *CSVRepository) LoadRecipes() ([]element.Recipe, error) {
	rows, err := r.recipes.readAll()
	if err != nil {
		return nil, err
	}
	recipes := make([]element.Recipe, 0, len(rows))
	for _, row := range rows {
		recipes = append(recipes, element.Recipe{
			Ingredients: element.NewPair(row[0], row[1]),
			Result:      row[2],
		})
	}
	if dups := findDuplicateRecipes(recipes); len(dups) > 0 {
		return nil, dataErrorf("duplicated recipes: %v", dups)
	}
	return recipes, nil
}

func (r *CSVRepository) AddElement(el element.Element) error {
	if !r.held {
		return ErrNoWriteAccess
	}
	return r.elements.append(elementRow(el))
}

func (r *CSVRepository) AddRecipe(rec element.Recipe) error {
	if !r.held {
		return ErrNoWriteAccess
	}
	return r.recipes.append([]string{rec.Ingredients.First(), rec.Ingredients.Second(), rec.Result})
}

func (r *CSVRepository) LoadPaths() (map[string]element.Path, error) {
	if _, err := os.Stat(r.paths.dir); os.IsNotExist(err) {
		return map[string]element.Path{}, nil
	}
	rows, err := r.paths.readAll()
	if err != nil {
		return nil, err
	}
	records := make([]pathRecord, 0, len(rows))
	for _, row := range rows {
		rec := pathRecord{Element: row[0]}
		if row[1] != "" || row[2] != "" {
			rec.Ancestors = []string{row[1], row[2]}
		}
		if err := json.Unmarshal([]byte(row[3]), &rec.Path); err != nil {
			return nil, dataErrorf("path for %q: bad path cell: %v", row[0], err)
		}
		records = append(records, rec)
	}
	return pathsFromRecords(records)
}

func (r *CSVRepository) SavePaths(paths map[string]element.Path) error {
	if !r.held {
		return ErrNoWriteAccess
	}
	records := pathsToRecords(paths)
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		encoded, err := json.Marshal(rec.Path)
		if err != nil {
			return err
		}
		row := []string{rec.Element, "", "", string(encoded)}
		if len(rec.Ancestors) == 2 {
			row[1], row[2] = rec.Ancestors[0], rec.Ancestors[1]
		}
		rows = append(rows, row)
	}
	return r.paths.rewrite(rows)
}

func (r *CSVRepository) SaveAux(name string, data []byte) error {
	return r.saveAuxFile(name, data)
}

func (r *CSVRepository) LoadAux(name string) ([]byte, error) {
	return r.loadAuxFile(name)
}

func (r *CSVRepository) Close() error {
	return r.ReleaseWriteAccess()
}

func elementRow(el element.Element) []string {
	return []string{el.Text, el.Emoji, strconv.FormatBool(el.Discovered)}
}

// csvCollection is one paginated collection: a directory of CSV pages, each
// starting with the same header row.
type csvCollection struct {
	dir    string
	header []string

	// append cursor; page < 0 until the last page has been inspected
	page int
	rows int

	inited bool
}

func pageName(i int) string { return fmt.Sprintf("%05d.csv", i) }

// ensure creates the directory with an empty first page if it is missing. It
// reports whether the collection was newly created.
func (c *csvCollection) ensure() (bool, error) {
	if _, err := os.Stat(c.dir); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return false, err
	}
	return true, c.writePage(0, nil)
}

// pages lists the page files and verifies the numbering is dense: pages
// 00000..N with none missing and nothing else in the directory.
func (c *csvCollection) pages() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for i, name := range names {
		if name != pageName(i) {
			return nil, dataErrorf("%s: expected page %s, found %s", c.dir, pageName(i), name)
		}
	}
	if len(names) == 0 {
		return nil, dataErrorf("%s: no pages", c.dir)
	}
	return names, nil
}

func (c *csvCollection) readPage(name string) ([][]string, error) {
	f, err := os.Open(filepath.Join(c.dir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = len(c.header)
	all, err := reader.ReadAll()
	if err != nil {
		return nil, dataErrorf("%s/%s: %v", c.dir, name, err)
	}
	if len(all) == 0 {
		return nil, dataErrorf("%s/%s: missing header", c.dir, name)
	}
	for i, col := range all[0] {
		if col != c.header[i] {
			return nil, dataErrorf("%s/%s: bad header %v", c.dir, name, all[0])
		}
	}
	return all[1:], nil
}

// readAll returns every data row across all pages, verifying that every page
// but the last is exactly full.
func (c *csvCollection) readAll() ([][]string, error) {
	names, err := c.pages()
	if err != nil {
		return nil, err
	}
	var rows [][]string
	for i, name := range names {
		page, err := c.readPage(name)
		if err != nil {
			return nil, err
		}
		if i < len(names)-1 && len(page) != pageSize {
			return nil, dataErrorf("%s/%s: non-final page has %d rows, want %d", c.dir, name, len(page), pageSize)
		}
		if len(page) > pageSize {
			return nil, dataErrorf("%s/%s: page has %d rows, max %d", c.dir, name, len(page), pageSize)
		}
		rows = append(rows, page...)
	}
	return rows, nil
}

// initAppend positions the append cursor on the last page.
func (c *csvCollection) initAppend() error {
	if c.inited {
		return nil
	}
	names, err := c.pages()
	if err != nil {
		return err
	}
	last := names[len(names)-1]
	page, err := c.readPage(last)
	if err != nil {
		return err
	}
	c.page = len(names) - 1
	c.rows = len(page)
	c.inited = true
	return nil
}

func (c *csvCollection) append(row []string) error {
	if err := c.initAppend(); err != nil {
		return err
	}
	if c.rows >= pageSize {
		c.page++
		c.rows = 0
		if err := c.writePage(c.page, nil); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(filepath.Join(c.dir, pageName(c.page)), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	c.rows++
	return nil
}

// writePage writes one page file with header and the given rows.
func (c *csvCollection) writePage(i int, rows [][]string) error {
	f, err := os.Create(filepath.Join(c.dir, pageName(i)))
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(c.header); err != nil {
		f.Close()
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// rewrite replaces the whole collection with the given rows, repaginated.
func (c *csvCollection) rewrite(rows [][]string) error {
	if err := os.RemoveAll(c.dir); err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return err
	}

	pages := len(rows)/pageSize + 1
	for i := 0; i < pages; i++ {
		lo := i * pageSize
		hi := lo + pageSize
		if hi > len(rows) {
			hi = len(rows)
		}
		if err := c.writePage(i, rows[lo:hi]); err != nil {
			return err
		}
	}
	c.page = pages - 1
	c.rows = len(rows) % pageSize
	c.inited = true
	return nil
}
