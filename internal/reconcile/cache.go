package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CacheEntry is a previously confirmed resolution of a free-text owner
// name, keyed by the name exactly as it appears in the spreadsheet data
// (trimmed).
type CacheEntry struct {
	SlackID string `json:"owner_slack_id"`
	Email   string `json:"owner_email"`
}

// Cache is the persistent name→identity match cache. It is the single
// source of truth for previously resolved ambiguous names: hits bypass
// fuzzy matching, and existing entries are never overwritten. Every newly
// confirmed match is written through to disk immediately, so an
// interrupted run loses nothing already confirmed.
type Cache struct {
	path    string
	entries map[string]CacheEntry
}

// LoadCache reads the cache file. A missing, empty, or unreadable file is
// never fatal: the cache starts over as an empty mapping. Callers that
// care can log when an existing file failed to parse.
func LoadCache(path string) (*Cache, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	c := &Cache{path: path, entries: make(map[string]CacheEntry)}
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, nil
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c.entries); err != nil {
		c.entries = make(map[string]CacheEntry)
		return c, nil
	}
	return c, nil
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

func (c *Cache) Get(name string) (CacheEntry, bool) {
	if c == nil {
		return CacheEntry{}, false
	}
	entry, ok := c.entries[strings.TrimSpace(name)]
	return entry, ok
}

// Put records a confirmed match and persists the cache. An existing entry
// for the name is kept untouched and reported with ok=false; confirmed
// matches are never downgraded.
func (c *Cache) Put(name string, entry CacheEntry) (bool, error) {
	if c == nil {
		return false, fmt.Errorf("cache is not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return false, fmt.Errorf("cache key is required")
	}
	if _, exists := c.entries[name]; exists {
		return false, nil
	}
	c.entries[name] = entry
	if err := c.flush(); err != nil {
		delete(c.entries, name)
		return false, err
	}
	return true, nil
}

// Names returns the cached names in sorted order, for reporting.
func (c *Cache) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Cache) flush() error {
	raw, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".cache-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
