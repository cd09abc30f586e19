package importer

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// gcDiscardRatio is the value-log share that must be garbage before a
// rewrite.
const gcDiscardRatio = 0.5

// Cache stores analysis results keyed by module, company and header set.
// An empty dir keeps it in memory.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
	log *logrus.Entry
}

// OpenCache opens (creating if needed) the cache at dir.
func OpenCache(dir string, ttl time.Duration, log *logrus.Entry) (*Cache, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("importer: create cache dir %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(nil)
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("importer: open cache: %w", err)
	}
	return &Cache{db: bdb, ttl: ttl, log: log}, nil
}

// CacheKey is md5 of "module:company:sorted,headers".
func CacheKey(module, companyID string, headers []string) string {
	sorted := slices.Clone(headers)
	slices.Sort(sorted)
	sum := md5.Sum([]byte(module + ":" + companyID + ":" + strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached result for key, if present and unexpired.
func (c *Cache) Get(key string) (*AnalyzeResult, bool) {
	var res AnalyzeResult
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &res)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) && c.log != nil {
			c.log.WithError(err).Warn("cache read failed")
		}
		return nil, false
	}
	return &res, true
}

// Put stores res under key. Write failures are logged, not returned.
func (c *Cache) Put(key string, res *AnalyzeResult) {
	raw, err := json.Marshal(res)
	if err == nil {
		err = c.db.Update(func(txn *badger.Txn) error {
			e := badger.NewEntry([]byte(key), raw)
			if c.ttl > 0 {
				e = e.WithTTL(c.ttl)
			}
			return txn.SetEntry(e)
		})
	}
	if err != nil && c.log != nil {
		c.log.WithError(err).Warn("cache write failed")
	}
}

// GC rewrites value-log files that are mostly expired entries. It is a
// no-op for in-memory caches and when nothing needs rewriting.
func (c *Cache) GC() error {
	err := c.db.RunValueLogGC(gcDiscardRatio)
	if err == nil || errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return fmt.Errorf("importer: cache gc: %w", err)
}

// Close flushes and closes the cache.
func (c *Cache) Close() error {
	return c.db.Close()
}
