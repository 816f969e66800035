package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"craftbot/internal/element"
	"craftbot/internal/logging"
)

const (
	elementsJSON = "elements.json"
	recipesJSON  = "recipes.json"
	pathsJSON    = "paths.json"
)

// JSONRepository stores each collection in one pretty-printed JSON file.
// Appends rewrite only the constant closing bytes of the file, so adding an
// element is O(1) regardless of collection size.
type JSONRepository struct {
	*base
	elements jsonList
	recipes  jsonList
}

// OpenJSON opens (or, with write access, initializes) a JSON repository in dir.
// A fresh repository is seeded with the four root elements.
func OpenJSON(dir string, writeAccess bool) (*JSONRepository, error) {
	b, err := newBase(dir, writeAccess, []string{elementsJSON, recipesJSON, pathsJSON})
	if err != nil {
		return nil, err
	}

	r := &JSONRepository{
		base:     b,
		elements: jsonList{path: filepath.Join(dir, elementsJSON), key: "elements"},
		recipes:  jsonList{path: filepath.Join(dir, recipesJSON), key: "recipes"},
	}

	if !writeAccess {
		// without write access nothing would initialize the files, and the
		// missing-file tolerance of load would present an empty repository
		if _, err := os.Stat(r.elements.path); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("no repository in %s: %s does not exist", dir, elementsJSON)
			}
			return nil, err
		}
		return r, nil
	}

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
		logging.Repository("initializing json repository in %s", dir)
		for _, root := range element.Roots() {
			if err := r.elements.append(root); err != nil {
				_ = b.ReleaseWriteAccess()
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *JSONRepository) LoadElements() ([]element.Element, error) {
	var elements []element.Element
	if err := r.elements.load(&elements); err != nil {
		return nil, err
	}
	if err := checkElements(elements); err != nil {
		return nil, err
	}
	return elements, nil
}

func (r *JSONRepository) LoadRecipes() ([]element.Recipe, error) {
	var records []recipeRecord
	if err := r.recipes.load(&records); err != nil {
		return nil, err
	}
	recipes := make([]element.Recipe, len(records))
	for i, rec := range records {
		recipes[i] = element.Recipe{
			Ingredients: element.NewPair(rec.First, rec.Second),
			Result:      rec.Result,
		}
	}
	if dups := findDuplicateRecipes(recipes); len(dups) > 0 {
		return nil, dataErrorf("duplicated recipes: %v", dups)
	}
	return recipes, nil
}

func (r *JSONRepository) AddElement(el element.Element) error {
	if !r.held {
		return ErrNoWriteAccess
	}
	return r.elements.append(el)
}

func (r *JSONRepository) AddRecipe(rec element.Recipe) error {
	if !r.held {
		return ErrNoWriteAccess
	}
	return r.recipes.append(recipeRecord{
		First:  rec.Ingredients.First(),
		Second: rec.Ingredients.Second(),
		Result: rec.Result,
	})
}

func (r *JSONRepository) LoadPaths() (map[string]element.Path, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, pathsJSON))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]element.Path{}, nil
		}
		return nil, err
	}
	var doc struct {
		Paths []pathRecord `json:"paths"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, dataErrorf("parse %s: %v", pathsJSON, err)
	}
	return pathsFromRecords(doc.Paths)
}

func (r *JSONRepository) SavePaths(paths map[string]element.Path) error {
	if !r.held {
		return ErrNoWriteAccess
	}
	doc := struct {
		Paths []pathRecord `json:"paths"`
	}{Paths: pathsToRecords(paths)}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.dir, pathsJSON), append(data, '\n'), 0644)
}

func (r *JSONRepository) SaveAux(name string, data []byte) error {
	return r.saveAuxFile(name, data)
}

func (r *JSONRepository) LoadAux(name string) ([]byte, error) {
	return r.loadAuxFile(name)
}

func (r *JSONRepository) Close() error {
	return r.ReleaseWriteAccess()
}

// recipeRecord is the on-disk form of a recipe; ingredients are stored in
// canonical (sorted) order.
type recipeRecord struct {
	First  string `json:"first"`
	Second string `json:"second"`
	Result string `json:"result"`
}

// pathRecord is the on-disk form of one crafting path. Ancestors is empty for
// roots.
type pathRecord struct {
	Element   string   `json:"element"`
	Ancestors []string `json:"ancestors,omitempty"`
	Path      []string `json:"path"`
}

func pathsToRecords(paths map[string]element.Path) []pathRecord {
	records := make([]pathRecord, 0, len(paths))
	for name, p := range paths {
		rec := pathRecord{Element: name, Path: p.PathList()}
		sort.Strings(rec.Path)
		if p.Ancestors != nil {
			rec.Ancestors = []string{p.Ancestors[0], p.Ancestors[1]}
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Element < records[j].Element })
	return records
}

func pathsFromRecords(records []pathRecord) (map[string]element.Path, error) {
	paths := make(map[string]element.Path, len(records))
	for _, rec := range records {
		if _, ok := paths[rec.Element]; ok {
			return nil, dataErrorf("duplicated path for %q", rec.Element)
		}
		var anc *[2]string
		switch len(rec.Ancestors) {
		case 0:
		case 2:
			anc = &[2]string{rec.Ancestors[0], rec.Ancestors[1]}
		default:
			return nil, dataErrorf("path for %q has %d ancestors", rec.Element, len(rec.Ancestors))
		}
		paths[rec.Element] = element.PathFromList(anc, rec.Path)
	}
	return paths, nil
}

// jsonList is a JSON file of the shape {"<key>": [ ...items... ]} that
// supports constant-time appends: the closing "]}" bytes are a fixed suffix
// which gets peeled off, the new item written, and the suffix written back.
type jsonList struct {
	path string
	key  string
}

const jsonListSuffix = "\n    ]\n}\n"

// ensure creates the file with an empty list if it does not exist. It reports
// whether the file was newly created.
func (l *jsonList) ensure() (bool, error) {
	if _, err := os.Stat(l.path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	header := fmt.Sprintf("{\n    %q: [", l.key)
	return true, os.WriteFile(l.path, []byte(header+jsonListSuffix), 0644)
}

func (l *jsonList) append(item interface{}) error {
	encoded, err := json.Marshal(item)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	off := st.Size() - int64(len(jsonListSuffix))
	if off < 1 {
		return dataErrorf("%s: file too short to be a %s list", l.path, l.key)
	}

	// The byte right before the suffix tells us whether the list is empty:
	// '[' means no items yet, so no leading comma.
	var last [1]byte
	if _, err := f.ReadAt(last[:], off-1); err != nil {
		return err
	}

	buf := make([]byte, 0, len(encoded)+len(jsonListSuffix)+16)
	if last[0] != '[' {
		buf = append(buf, ',')
	}
	buf = append(buf, "\n        "...)
	buf = append(buf, encoded...)
	buf = append(buf, jsonListSuffix...)

	// The replacement is always longer than the suffix it overwrites, so a
	// plain WriteAt never leaves stale bytes behind.
	if _, err := f.WriteAt(buf, off); err != nil {
		return err
	}
	return f.Sync()
}

func (l *jsonList) load(into interface{}) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return dataErrorf("parse %s: %v", filepath.Base(l.path), err)
	}
	raw, ok := doc[l.key]
	if !ok {
		return dataErrorf("%s: missing %q key", filepath.Base(l.path), l.key)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return dataErrorf("parse %s: %v", filepath.Base(l.path), err)
	}
	return nil
}
