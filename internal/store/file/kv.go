package file

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/minio/crc64nvme"
	"github.com/mr-tron/base58"
	"github.com/poltrona/poltrona/internal/store"
	"github.com/rs/zerolog/log"
)

const fileVersion = 1

// document is the on-disk layout. Checksum is the CRC64-NVME of the
// JSON-encoded entries and detects torn or hand-edited files.
type document struct {
	Version  int               `json:"version"`
	Checksum string            `json:"checksum"`
	Entries  map[string]string `json:"entries"`
}

// KV implements store.KV on the local filesystem. It is the durable tier.
// Every write rewrites the whole file atomically (temp file + rename). There
// is no cross-process lock: two processes writing concurrently race and the
// last writer wins.
type KV struct {
	mu   sync.Mutex
	path string
}

// NewKV creates a durable store for one backend project.
// If baseDir is empty, uses ~/.poltrona/.
// namespace (normally the backend URL) selects the file so sessions for
// different projects never collide.
func NewKV(baseDir, namespace string) (*KV, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".poltrona")
	}

	// Create directory with 0700 permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	kv := &KV{path: filepath.Join(baseDir, FileName(namespace))}

	log.Debug().Str("path", kv.path).Msg("durable store initialized")

	return kv, nil
}

// FileName derives the store file name from a namespace.
func FileName(namespace string) string {
	hash := sha256.Sum256([]byte(namespace))
	return "session-" + base58.Encode(hash[:])[:16] + ".json"
}

// Path returns the backing file.
func (k *KV) Path() string {
	return k.path
}

func (k *KV) Get(key string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	entries, err := k.load()
	if err != nil {
		return "", err
	}

	v, ok := entries[key]
	if !ok {
		return "", store.ErrKeyNotFound
	}
	return v, nil
}

func (k *KV) Set(key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	entries, err := k.loadOrReset()
	if err != nil {
		return err
	}

	entries[key] = value
	return k.save(entries)
}

func (k *KV) Delete(keys ...string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	entries, err := k.loadOrReset()
	if err != nil {
		return err
	}

	changed := false
	for _, key := range keys {
		if _, ok := entries[key]; ok {
			delete(entries, key)
			changed = true
		}
	}
	if !changed {
		return nil
	}

	return k.save(entries)
}

// load reads the file. A missing file is an empty store.
func (k *KV) load() (map[string]string, error) {
	data, err := os.ReadFile(k.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to read store: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrCorrupt, err)
	}

	if doc.Entries == nil {
		doc.Entries = make(map[string]string)
	}

	sum, err := checksum(doc.Entries)
	if err != nil {
		return nil, err
	}
	if sum != doc.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", store.ErrCorrupt)
	}

	return doc.Entries, nil
}

// loadOrReset is load for writers: a corrupt file is discarded so the next
// write leaves a consistent store behind.
func (k *KV) loadOrReset() (map[string]string, error) {
	entries, err := k.load()
	if errors.Is(err, store.ErrCorrupt) {
		log.Warn().Err(err).Str("path", k.path).Msg("discarding corrupt durable store")
		return make(map[string]string), nil
	}
	return entries, err
}

// save writes the file atomically.
func (k *KV) save(entries map[string]string) error {
	sum, err := checksum(entries)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(document{
		Version:  fileVersion,
		Checksum: sum,
		Entries:  entries,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	// Write to temp file first
	tempPath := k.path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, k.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save store: %w", err)
	}

	return nil
}

// checksum computes CRC64-NVME over the canonical JSON encoding of entries
// (encoding/json sorts map keys).
func checksum(entries map[string]string) (string, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entries: %w", err)
	}
	h := crc64nvme.New()
	h.Write(data)
	return strconv.FormatUint(h.Sum64(), 16), nil
}
