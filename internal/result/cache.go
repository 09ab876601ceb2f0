package result

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const cacheDirName = ".cache"

// ErrCacheMiss is returned by Cache.Get when no record is stored for a key.
var ErrCacheMiss = errors.New("cache miss")

// CacheKey identifies a run by everything that determines its outcome.
// Editing the scenario file or the prompt changes the key.
type CacheKey struct {
	ScenarioHash string
	PromptHash   string
	Agent        string
	Model        string
}

func NewCacheKey(scenarioYAML []byte, prompt, agent, model string) CacheKey {
	return CacheKey{
		ScenarioHash: HashBytes(scenarioYAML),
		PromptHash:   HashBytes([]byte(prompt)),
		Agent:        agent,
		Model:        model,
	}
}

// HashBytes returns the hex sha256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// String is safe to use as a file name.
func (k CacheKey) String() string {
	model := strings.NewReplacer("/", "_", "\\", "_").Replace(k.Model)
	return fmt.Sprintf("%s_%s_%s_%s", k.ScenarioHash, k.PromptHash, k.Agent, model)
}

// Cache stores the record of the latest run for each key.
type Cache struct {
	Dir string
}

func OpenCache(baseDir string) *Cache {
	return &Cache{Dir: filepath.Join(baseDir, cacheDirName)}
}

func (c *Cache) path(key CacheKey) string {
	return filepath.Join(c.Dir, key.String()+".json")
}

// Get returns the cached record for key. A record whose run directory has
// since been removed counts as a miss.
func (c *Cache) Get(key CacheKey) (*RunRecord, error) {
	rec, err := ReadRecord(c.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	if rec.ResultsDir != "" {
		if _, err := os.Stat(rec.ResultsDir); errors.Is(err, os.ErrNotExist) {
			return nil, ErrCacheMiss
		}
	}
	return rec, nil
}

func (c *Cache) Put(key CacheKey, rec *RunRecord) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling cached record: %w", err)
	}
	tmp := c.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return os.Rename(tmp, c.path(key))
}

// Prune deletes the entries whose record matches drop and returns how
// many were removed. Unreadable entries are removed as well.
func (c *Cache) Prune(drop func(*RunRecord) bool) (int, error) {
	entries, err := os.ReadDir(c.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading cache dir: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		p := filepath.Join(c.Dir, e.Name())
		rec, err := ReadRecord(p)
		if err == nil && !drop(rec) {
			continue
		}
		if err := os.Remove(p); err != nil {
			return n, fmt.Errorf("removing cache entry: %w", err)
		}
		n++
	}
	return n, nil
}

// Clear removes every cache entry.
func (c *Cache) Clear() error {
	return os.RemoveAll(c.Dir)
}
