package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"

	"craftbot/internal/element"
	"craftbot/internal/logging"
)

// SQLiteRepository stores everything in one SQLite database. It also doubles
// as the embedding cache backend.
type SQLiteRepository struct {
	*base
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS elements (
	text       TEXT PRIMARY KEY,
	emoji      TEXT NOT NULL,
	discovered INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS recipes (
	seq    INTEGER PRIMARY KEY AUTOINCREMENT,
	first  TEXT NOT NULL,
	second TEXT NOT NULL,
	result TEXT NOT NULL,
	UNIQUE (first, second)
);
CREATE TABLE IF NOT EXISTS paths (
	element    TEXT PRIMARY KEY,
	anc_first  TEXT,
	anc_second TEXT,
	path       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS aux (
	name TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS embeddings (
	element  TEXT NOT NULL,
	provider TEXT NOT NULL,
	vector   TEXT NOT NULL,
	PRIMARY KEY (element, provider)
);
`

// OpenSQLite opens (or, with write access, initializes) a SQLite repository
// in dir. The database lives at <dir>/craftbot.db.
func OpenSQLite(dir string, writeAccess bool) (*SQLiteRepository, error) {
	b, err := newBase(dir, writeAccess, []string{"craftbot.db", "craftbot.db-wal", "craftbot.db-shm"})
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, "craftbot.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = b.ReleaseWriteAccess()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single connection avoids SQLITE_BUSY between our own statements.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.Repository("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Repository("failed to set sqlite journal_mode=WAL: %v", err)
	}
	// With WAL, synchronous=NORMAL is a large write speedup at no risk to
	// consistency, only to the very last transactions on power loss.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.Repository("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	r := &SQLiteRepository{base: b, db: db}

	if writeAccess {
		if _, err := db.Exec(sqliteSchema); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM elements").Scan(&n); err != nil {
			_ = r.Close()
			return nil, err
		}
		if n == 0 {
			logging.Repository("initializing sqlite repository in %s", dir)
			for _, root := range element.Roots() {
				if err := r.AddElement(root); err != nil {
					_ = r.Close()
					return nil, err
				}
			}
		}
	}
	return r, nil
}

func (r *SQLiteRepository) LoadElements() ([]element.Element, error) {
	rows, err := r.db.Query("SELECT text, emoji, discovered FROM elements ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var elements []element.Element
	for rows.Next() {
		var el element.Element
		if err := rows.Scan(&el.Text, &el.Emoji, &el.Discovered); err != nil {
			return nil, err
		}
		elements = append(elements, el)
	}
	return elements, rows.Err()
}

func (r *SQLiteRepository) LoadRecipes() ([]element.Recipe, error) {
	rows, err := r.db.Query("SELECT first, second, result FROM recipes ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipes []element.Recipe
	for rows.Next() {
		var first, second, result string
		if err := rows.Scan(&first, &second, &result); err != nil {
			return nil, err
		}
		recipes = append(recipes, element.Recipe{
			Ingredients: element.NewPair(first, second),
			Result:      result,
		})
	}
	return recipes, rows.Err()
}

func (r *SQLiteRepository) AddElement(el element.Element) error {
	if !r.held {
		return ErrNoWriteAccess
	}
	_, err := r.db.Exec("INSERT INTO elements (text, emoji, discovered) VALUES (?, ?, ?)",
		el.Text, el.Emoji, el.Discovered)
	return err
}

func (r *SQLiteRepository) AddRecipe(rec element.Recipe) error {
	if !r.held {
		return ErrNoWriteAccess
	}
	_, err := r.db.Exec("INSERT INTO recipes (first, second, result) VALUES (?, ?, ?)",
		rec.Ingredients.First(), rec.Ingredients.Second(), rec.Result)
	return err
}

func (r *SQLiteRepository) LoadPaths() (map[string]element.Path, error) {
	rows, err := r.db.Query("SELECT element, anc_first, anc_second, path FROM paths")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []pathRecord
	for rows.Next() {
		var rec pathRecord
		var ancFirst, ancSecond sql.NullString
		var encoded string
		if err := rows.Scan(&rec.Element, &ancFirst, &ancSecond, &encoded); err != nil {
			return nil, err
		}
		if ancFirst.Valid && ancSecond.Valid {
			rec.Ancestors = []string{ancFirst.String, ancSecond.String}
		}
		if err := json.Unmarshal([]byte(encoded), &rec.Path); err != nil {
			return nil, dataErrorf("path for %q: bad path column: %v", rec.Element, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pathsFromRecords(records)
}

func (r *SQLiteRepository) SavePaths(paths map[string]element.Path) error {
	if !r.held {
		return ErrNoWriteAccess
	}
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM paths"); err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO paths (element, anc_first, anc_second, path) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range pathsToRecords(paths) {
		encoded, err := json.Marshal(rec.Path)
		if err != nil {
			return err
		}
		var ancFirst, ancSecond interface{}
		if len(rec.Ancestors) == 2 {
			ancFirst, ancSecond = rec.Ancestors[0], rec.Ancestors[1]
		}
		if _, err := stmt.Exec(rec.Element, ancFirst, ancSecond, string(encoded)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) SaveAux(name string, data []byte) error {
	if _, err := r.auxPath(name); err != nil {
		return err
	}
	_, err := r.db.Exec(
		"INSERT INTO aux (name, data) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET data = excluded.data",
		name, data)
	return err
}

func (r *SQLiteRepository) LoadAux(name string) ([]byte, error) {
	if _, err := r.auxPath(name); err != nil {
		return nil, err
	}
	var data []byte
	err := r.db.QueryRow("SELECT data FROM aux WHERE name = ?", name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrAuxNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// GetEmbedding returns the cached vector for an element, if present.
func (r *SQLiteRepository) GetEmbedding(provider, el string) ([]float32, bool, error) {
	var encoded string
	err := r.db.QueryRow("SELECT vector FROM embeddings WHERE element = ? AND provider = ?", el, provider).Scan(&encoded)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var vec []float32
	if err := json.Unmarshal([]byte(encoded), &vec); err != nil {
		return nil, false, dataErrorf("embedding for %q: %v", el, err)
	}
	return vec, true, nil
}

// PutEmbedding caches the vector for an element.
func (r *SQLiteRepository) PutEmbedding(provider, el string, vec []float32) error {
	encoded, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(
		"INSERT INTO embeddings (element, provider, vector) VALUES (?, ?, ?) ON CONFLICT(element, provider) DO UPDATE SET vector = excluded.vector",
		el, provider, string(encoded))
	return err
}

func (r *SQLiteRepository) Close() error {
	err := r.db.Close()
	if lockErr := r.ReleaseWriteAccess(); err == nil {
		err = lockErr
	}
	return err
}
