package store

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// HashBytes returns the hex MD5 content hash used for artifact addressing.
func HashBytes(payload []byte) string {
	sum := md5.Sum(payload)
	return hex.EncodeToString(sum[:])
}

// SaveWithHash writes payload to a temporary file in dir, computes its
// content hash, and renames to the hash-derived final path. Saving
// identical bytes twice yields the same hash and path and leaves exactly
// one file.
func SaveWithHash(dir, ext string, payload []byte) (hash string, path string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("save artifact: create %s: %w", dir, err)
	}
	tmp := filepath.Join(dir, "tmp_"+uuid.NewString()+ext)
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return "", "", fmt.Errorf("save artifact: write %s: %w", tmp, err)
	}

	hash = HashBytes(payload)
	final := filepath.Join(dir, hash+ext)

	if _, err := os.Stat(final); err == nil {
		// Already stored: same content, same address.
		if err := os.Remove(tmp); err != nil {
			return "", "", fmt.Errorf("save artifact: remove temp %s: %w", tmp, err)
		}
		return hash, final, nil
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", "", fmt.Errorf("save artifact: rename %s -> %s: %w", tmp, final, err)
	}
	return hash, final, nil
}

// saveAtPath writes payload to dir/name using the same temp-write then
// rename discipline as SaveWithHash (read-before-write, full-file replace).
func saveAtPath(dir, name string, payload []byte) (replaced bool, path string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, "", fmt.Errorf("save artifact: create %s: %w", dir, err)
	}
	final := filepath.Join(dir, name)
	_, statErr := os.Stat(final)
	replaced = statErr == nil

	tmp := filepath.Join(dir, "tmp_"+uuid.NewString())
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return false, "", fmt.Errorf("save artifact: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return false, "", fmt.Errorf("save artifact: rename %s -> %s: %w", tmp, final, err)
	}
	return replaced, final, nil
}

// canonicalJSON serializes params deterministically (encoding/json sorts
// map keys), for identity hashing and parameter blobs.
func canonicalJSON(params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("serialize parameters: %w", err)
	}
	return string(b), nil
}
