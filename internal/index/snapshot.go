package index

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/armon/go-radix"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"imagedup/internal/phash"
)

// Snapshot container layout, all integers big-endian:
//
//	offset 0   magic "IDUP" (4 bytes)
//	offset 4   format version (uint16)
//	offset 6   index identity (16-byte UUID)
//	offset 22  xxhash64 of the compressed payload (uint64)
//	offset 30  zstd-compressed JSON payload
//
// Anything that fails validation is discarded wholesale and the caller
// rebuilds from scratch; there is no partial parse of a damaged file.
const (
	snapshotMagic   = "IDUP"
	snapshotVersion = uint16(1)
	headerLen       = 4 + 2 + 16 + 8
)

// ErrSnapshotInvalid wraps every reason a snapshot was discarded: missing
// magic, unknown version, checksum mismatch, undecodable payload.
var ErrSnapshotInvalid = errors.New("snapshot invalid")

type snapshotPayload struct {
	SavedAt time.Time `json:"savedAt"`
	Entries []Entry   `json:"entries"`
}

// SaveSnapshot writes the current entries to path crash-safely: the full
// container goes to a temp file in the same directory, is synced, then
// atomically renamed over the previous snapshot. A crash at any point
// leaves either the old or the new snapshot intact, never a torn one.
func (s *Store) SaveSnapshot(path string) error {
	payload := snapshotPayload{SavedAt: time.Now()}
	s.entries.Walk(func(_ string, v interface{}) bool {
		payload.Entries = append(payload.Entries, *v.(*Entry))
		return false
	})

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	if err != nil {
		return fmt.Errorf("init compressor: %w", err)
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}

	buf := make([]byte, 0, headerLen+compressed.Len())
	buf = append(buf, snapshotMagic...)
	buf = binary.BigEndian.AppendUint16(buf, snapshotVersion)
	buf = append(buf, s.id[:]...)
	buf = binary.BigEndian.AppendUint64(buf, xxhash.Sum64(compressed.Bytes()))
	buf = append(buf, compressed.Bytes()...)

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	s.logger.Info("snapshot saved",
		"path", path,
		"entries", len(payload.Entries),
		"bytes", len(buf))
	return nil
}

// LoadSnapshot replaces the store's contents with the snapshot at path.
// A missing file yields (false, nil). Any corruption or version mismatch
// leaves the store empty and returns an error wrapping ErrSnapshotInvalid;
// callers log it and rebuild, they never treat it as fatal.
func (s *Store) LoadSnapshot(path string) (bool, error) {
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		s.reset()
		return false, fmt.Errorf("%w: %v", ErrSnapshotInvalid, err)
	}

	if len(buf) < headerLen || string(buf[:4]) != snapshotMagic {
		s.reset()
		return false, fmt.Errorf("%w: bad magic", ErrSnapshotInvalid)
	}
	if v := binary.BigEndian.Uint16(buf[4:6]); v != snapshotVersion {
		s.reset()
		return false, fmt.Errorf("%w: unsupported version %d", ErrSnapshotInvalid, v)
	}

	id, err := uuid.FromBytes(buf[6:22])
	if err != nil {
		s.reset()
		return false, fmt.Errorf("%w: bad identity: %v", ErrSnapshotInvalid, err)
	}

	sum := binary.BigEndian.Uint64(buf[22:30])
	compressed := buf[headerLen:]
	if xxhash.Sum64(compressed) != sum {
		s.reset()
		return false, fmt.Errorf("%w: checksum mismatch", ErrSnapshotInvalid)
	}

	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		s.reset()
		return false, fmt.Errorf("%w: %v", ErrSnapshotInvalid, err)
	}
	defer dec.Close()

	var payload snapshotPayload
	if err := json.NewDecoder(dec).Decode(&payload); err != nil {
		s.reset()
		return false, fmt.Errorf("%w: %v", ErrSnapshotInvalid, err)
	}

	s.reset()
	s.id = id
	for _, e := range payload.Entries {
		s.apply(e)
	}

	s.logger.Info("snapshot loaded",
		"path", path,
		"entries", len(payload.Entries),
		"identity", s.id.String(),
		"saved_at", payload.SavedAt)
	return true, nil
}

// reset drops all entries but keeps the configured workers and logger.
func (s *Store) reset() {
	s.entries = radix.New()
	s.byHash = make(map[phash.Hash][]string)
}
