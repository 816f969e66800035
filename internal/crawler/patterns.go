package crawler

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"craftbot/internal/logging"
)

// patternList filters element names for targeted crawling. The file holds
// one regular expression per line; matching names are penalized out of the
// sampling order. If the first non-comment line is "WHITELIST", the polarity
// flips: only matching names stay in.
//
// The file is watched and reloaded on change, so the list can be tuned while
// a crawl is running.
type patternList struct {
	path string

	mu        sync.RWMutex
	whitelist bool
	patterns  []*regexp.Regexp
}

// whitelistMarker flips the list's polarity when it is the first line.
const whitelistMarker = "WHITELIST"

// PatternPath returns the pattern file for one target, under
// <dataDir>/targeted/<target>/forbidden_patterns.txt, so every target keeps
// its own filter list. The file is created empty on first use, ready to be
// edited while the crawl runs.
func PatternPath(dataDir, target string) (string, error) {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, target)
	if safe == "" {
		safe = "target"
	}

	path := filepath.Join(dataDir, "targeted", safe, "forbidden_patterns.txt")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, nil, 0644); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	return path, nil
}

// newPatternList loads path; a missing file yields an empty blocklist.
func newPatternList(path string) (*patternList, error) {
	p := &patternList{path: path}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *patternList) reload() error {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		p.mu.Lock()
		p.whitelist = false
		p.patterns = nil
		p.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	var patterns []*regexp.Regexp
	whitelist := false
	first := true
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if first && line == whitelistMarker {
			whitelist = true
			first = false
			continue
		}
		first = false
		re, err := regexp.Compile("(?i)" + line)
		if err != nil {
			logging.Get(logging.CategoryCrawler).Warn("ignoring bad pattern %q: %v", line, err)
			continue
		}
		patterns = append(patterns, re)
	}

	p.mu.Lock()
	p.whitelist = whitelist
	p.patterns = patterns
	p.mu.Unlock()
	logging.Crawler("loaded %d patterns from %s (whitelist=%v)", len(patterns), p.path, whitelist)
	return nil
}

// forbidden reports whether name should be kept out of the sampling order.
func (p *patternList) forbidden(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.patterns) == 0 {
		// an empty whitelist would forbid everything; treat it as no filter
		return false
	}
	for _, re := range p.patterns {
		if re.MatchString(name) {
			return !p.whitelist
		}
	}
	return p.whitelist
}

// watch reloads the list when the file changes, debouncing rapid saves, and
// calls onChange after each successful reload. It returns when ctx ends.
func (p *patternList) watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which would drop
	// a watch on the file itself.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		return err
	}

	var pending bool
	debounce := time.NewTicker(500 * time.Millisecond)
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != p.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				pending = true
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryCrawler).Warn("pattern watcher: %v", err)
		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			if err := p.reload(); err != nil {
				logging.Get(logging.CategoryCrawler).Warn("reload patterns: %v", err)
				continue
			}
			if onChange != nil {
				onChange()
			}
		}
	}
}
