package engine

import (
	"context"
	"crypto/md5"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/vk/policylab/internal/analysis"
	"github.com/vk/policylab/internal/ctxlog"
)

// cacheVersion invalidates entries written by incompatible encodings.
const cacheVersion = 1

// StateCache memoizes evaluation-state trees on disk, keyed by the study
// module, the selected model record, and the hyperparameters that
// produced them. It is strictly best-effort: every failure on the read or
// write path degrades to a recompute, never to a run failure.
type StateCache struct {
	dir     string
	noRead  bool
	noWrite bool
}

func NewStateCache(dir string, noRead, noWrite bool) *StateCache {
	return &StateCache{dir: dir, noRead: noRead, noWrite: noWrite}
}

type cacheEntry struct {
	Version int
	States  any
}

// Key derives the cache key for one module's evaluation. Different
// modules, different model records, and different hyperparameters all
// produce different states, so all three enter the hash. json.Marshal
// sorts map keys, so the encoding is canonical.
func (c *StateCache) Key(moduleID string, modelRef *int64, hps *analysis.Hyperparams) (string, error) {
	scope := map[string]any{
		"module": moduleID,
		"model":  nil,
		"hps":    hps.Flat(),
	}
	if modelRef != nil {
		scope["model"] = *modelRef
	}
	blob, err := json.Marshal(scope)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	sum := md5.Sum(blob)
	return hex.EncodeToString(sum[:]), nil
}

func (c *StateCache) path(key string) string {
	return filepath.Join(c.dir, key+".states")
}

// Load returns the cached states for the module's evaluation, or false on
// any miss: disabled cache, absent entry, or an entry that fails to
// decode.
func (c *StateCache) Load(ctx context.Context, moduleID string, modelRef *int64, hps *analysis.Hyperparams) (any, bool) {
	if c.noRead || c.dir == "" {
		return nil, false
	}
	logger := ctxlog.FromContext(ctx)

	key, err := c.Key(moduleID, modelRef, hps)
	if err != nil {
		logger.Warn("State cache key failed; recomputing.", "error", err)
		return nil, false
	}
	f, err := os.Open(c.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("State cache read failed; recomputing.", "key", key, "error", err)
		}
		return nil, false
	}
	defer f.Close()

	var entry cacheEntry
	if err := gob.NewDecoder(f).Decode(&entry); err != nil {
		logger.Warn("State cache entry corrupt; recomputing.", "key", key, "error", err)
		return nil, false
	}
	if entry.Version != cacheVersion {
		logger.Warn("State cache entry version mismatch; recomputing.",
			"key", key, "got", entry.Version, "want", cacheVersion)
		return nil, false
	}
	logger.Info("Loaded evaluation states from cache.", "module", moduleID, "key", key)
	return entry.States, true
}

// Save writes the states under the module evaluation's key. The entry
// lands via a temp file and rename, so readers never observe a partial
// write.
func (c *StateCache) Save(ctx context.Context, moduleID string, modelRef *int64, hps *analysis.Hyperparams, states any) {
	if c.noWrite || c.dir == "" {
		return
	}
	logger := ctxlog.FromContext(ctx)

	key, err := c.Key(moduleID, modelRef, hps)
	if err != nil {
		logger.Warn("State cache key failed; not caching.", "error", err)
		return
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		logger.Warn("State cache directory unavailable; not caching.", "dir", c.dir, "error", err)
		return
	}

	tmp := filepath.Join(c.dir, "tmp_"+uuid.NewString())
	f, err := os.Create(tmp)
	if err != nil {
		logger.Warn("State cache write failed; not caching.", "key", key, "error", err)
		return
	}
	err = gob.NewEncoder(f).Encode(cacheEntry{Version: cacheVersion, States: states})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		logger.Warn("State cache encode failed; not caching.", "key", key, "error", err)
		return
	}
	if err := os.Rename(tmp, c.path(key)); err != nil {
		os.Remove(tmp)
		logger.Warn("State cache rename failed; not caching.", "key", key, "error", err)
		return
	}
	logger.Debug("Cached evaluation states.", "module", moduleID, "key", key)
}
