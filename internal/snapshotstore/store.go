// Package snapshotstore persists cooked edge snapshots as zstd-compressed
// files, one per raster.
package snapshotstore

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/Faultbox/edgefixup/internal/fixup"
)

// Extension is the file suffix of stored snapshots.
const Extension = ".edge.zst"

var encoderPool = sync.Pool{
	New: func() any {
		enc, _ := zstd.NewWriter(nil)
		return enc
	},
}

var decoderPool = sync.Pool{
	New: func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	},
}

// Store is a directory of snapshot files named by raster id.
type Store struct {
	dir string
	log *zap.Logger
}

// Open creates dir if needed and returns a store rooted there.
func Open(dir string, log *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("snapshot directory not set")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{dir: dir, log: log.Named("snapshotstore")}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+Extension)
}

// Load reads the snapshot of a raster. It returns fixup.ErrSnapshotNotFound
// when there is none.
func (s *Store) Load(id uuid.UUID) (*fixup.EdgeSnapshot, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", fixup.ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	raw, err := decompress(data)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot %s: %w", id, err)
	}

	var snap fixup.EdgeSnapshot
	if err := snap.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// Save writes the snapshot of a raster, replacing any previous one.
func (s *Store) Save(id uuid.UUID, snap *fixup.EdgeSnapshot) error {
	raw, err := snap.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", id, err)
	}
	data, err := compress(raw)
	if err != nil {
		return fmt.Errorf("compress snapshot %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(s.dir, id.String()+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename snapshot: %w", err)
	}

	s.log.Debug("snapshot saved",
		zap.Stringer("raster", id),
		zap.Int("raw_bytes", len(raw)),
		zap.Int("stored_bytes", len(data)))
	return nil
}

// Delete removes the snapshot of a raster. Missing files are not an error.
func (s *Store) Delete(id uuid.UUID) error {
	err := os.Remove(s.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// List returns the ids of every stored snapshot. Files with other names are
// skipped.
func (s *Store) List() ([]uuid.UUID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	var ids []uuid.UUID
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, Extension) {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, Extension))
		if err != nil {
			s.log.Debug("skipping foreign file", zap.String("name", name))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)
	enc.Reset(&buf)

	if _, err := enc.Write(data); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	dec := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(dec)
	if err := dec.Reset(bytes.NewReader(data)); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if _, err := out.ReadFrom(dec); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
