package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"os"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/antonvlasov/corpus-qa/internal/core/domain"
)

const snapshotFormatVersion = 1

var (
	bucketMeta    = []byte("meta")
	bucketEntries = []byte("entries")
	keySnapshot   = []byte("snapshot")
)

type snapshotMeta struct {
	FormatVersion int    `json:"format_version"`
	Metric        string `json:"metric"`
	Dimension     int    `json:"dimension"`
	Count         int    `json:"count"`
	Checksum      string `json:"checksum"`
}

// Persist writes a durable snapshot: one bbolt file with an entries bucket
// keyed by chunk id and a meta bucket carrying the format version and a
// checksum over all entries. The snapshot is written to a temp file and
// renamed into place, so a crash mid-write never corrupts the previous
// snapshot.
func (idx *Index) Persist(_ context.Context) error {
	if idx.path == "" {
		return nil
	}

	idx.mu.RLock()
	dimension := idx.dimension
	ids := make([]string, 0, len(idx.entries))
	for id := range idx.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	encoded := make(map[string][]byte, len(ids))
	digest := sha256.New()
	for _, id := range ids {
		raw, err := json.Marshal(idx.entries[id].entry)
		if err != nil {
			idx.mu.RUnlock()
			return fmt.Errorf("marshal index entry %s: %w", id, err)
		}
		encoded[id] = raw
		digestEntry(digest, id, raw)
	}
	idx.mu.RUnlock()

	meta := snapshotMeta{
		FormatVersion: snapshotFormatVersion,
		Metric:        string(idx.metric),
		Dimension:     dimension,
		Count:         len(ids),
		Checksum:      hex.EncodeToString(digest.Sum(nil)),
	}
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal snapshot meta: %w", err)
	}

	tmp := idx.path + ".tmp"
	_ = os.Remove(tmp)
	db, err := bbolt.Open(tmp, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("open snapshot file: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		mb, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if err := mb.Put(keySnapshot, metaRaw); err != nil {
			return err
		}
		eb, err := tx.CreateBucketIfNotExists(bucketEntries)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := eb.Put([]byte(id), encoded[id]); err != nil {
				return err
			}
		}
		return nil
	})
	if closeErr := db.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}

	if err := os.Rename(tmp, idx.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// Load replaces the in-memory state with the persisted snapshot. A missing
// file leaves the index empty. Any structural or integrity mismatch yields
// ErrIndexCorrupt and leaves the in-memory state untouched: a silent partial
// load would surface later as an undetectable recall regression.
func (idx *Index) Load(_ context.Context) error {
	if idx.path == "" {
		return nil
	}
	if _, err := os.Stat(idx.path); os.IsNotExist(err) {
		return nil
	}

	db, err := bbolt.Open(idx.path, 0o600, &bbolt.Options{Timeout: 5 * time.Second, ReadOnly: true})
	if err != nil {
		return domain.WrapError(domain.ErrIndexCorrupt, "open snapshot", err)
	}
	defer db.Close()

	var meta snapshotMeta
	loaded := make(map[string]storedEntry)
	digest := sha256.New()

	err = db.View(func(tx *bbolt.Tx) error {
		mb := tx.Bucket(bucketMeta)
		if mb == nil {
			return fmt.Errorf("missing meta bucket")
		}
		metaRaw := mb.Get(keySnapshot)
		if metaRaw == nil {
			return fmt.Errorf("missing snapshot meta")
		}
		if err := json.Unmarshal(metaRaw, &meta); err != nil {
			return fmt.Errorf("decode snapshot meta: %w", err)
		}

		eb := tx.Bucket(bucketEntries)
		if eb == nil {
			return fmt.Errorf("missing entries bucket")
		}
		return eb.ForEach(func(k, v []byte) error {
			var entry domain.IndexEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("decode entry %s: %w", string(k), err)
			}
			if entry.ChunkID != string(k) {
				return fmt.Errorf("entry key %s does not match chunk id %s", string(k), entry.ChunkID)
			}
			digestEntry(digest, string(k), v)
			loaded[entry.ChunkID] = storedEntry{entry: entry, norm: vectorNorm(entry.Vector)}
			return nil
		})
	})
	if err != nil {
		return domain.WrapError(domain.ErrIndexCorrupt, "read snapshot", err)
	}

	if meta.FormatVersion != snapshotFormatVersion {
		return domain.WrapError(domain.ErrIndexCorrupt, "validate snapshot",
			fmt.Errorf("format version %d, expected %d", meta.FormatVersion, snapshotFormatVersion))
	}
	if meta.Metric != string(idx.metric) {
		return domain.WrapError(domain.ErrIndexCorrupt, "validate snapshot",
			fmt.Errorf("snapshot metric %q, index metric %q", meta.Metric, idx.metric))
	}
	if meta.Count != len(loaded) {
		return domain.WrapError(domain.ErrIndexCorrupt, "validate snapshot",
			fmt.Errorf("snapshot count %d, loaded %d entries", meta.Count, len(loaded)))
	}
	if got := hex.EncodeToString(digest.Sum(nil)); got != meta.Checksum {
		return domain.WrapError(domain.ErrIndexCorrupt, "validate snapshot",
			fmt.Errorf("checksum mismatch: %s != %s", got, meta.Checksum))
	}
	for _, stored := range loaded {
		if len(stored.entry.Vector) != meta.Dimension {
			return domain.WrapError(domain.ErrIndexCorrupt, "validate snapshot",
				fmt.Errorf("entry %s dimension %d, snapshot dimension %d",
					stored.entry.ChunkID, len(stored.entry.Vector), meta.Dimension))
		}
	}

	idx.mu.Lock()
	idx.entries = loaded
	idx.dimension = meta.Dimension
	idx.mu.Unlock()
	return nil
}

func digestEntry(h hash.Hash, id string, raw []byte) {
	h.Write([]byte(id))
	h.Write([]byte{0})
	h.Write(raw)
	h.Write([]byte{0})
}
