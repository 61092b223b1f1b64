package snapshotstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/edgefixup/internal/fixup"
	"github.com/Faultbox/edgefixup/pkg/math"
)

// borderReader serves a ramp so every row differs.
func borderReader(res int) fixup.BorderReader {
	return func(d fixup.Direction, mip, inset int) ([]uint16, bool) {
		n := fixup.RowLength(d, res, mip)
		out := make([]uint16, n)
		for i := range out {
			out[i] = uint16(1000*int(d) + 10*mip + i + inset)
		}
		return out, true
	}
}

func testSnapshot(t *testing.T) *fixup.EdgeSnapshot {
	t.Helper()
	s, err := fixup.Capture(borderReader(16), 16, fixup.MipCountFor(16), math.Vec3{X: 1, Y: 1, Z: 1}, nil)
	require.NoError(t, err)
	return s
}

func TestStore_SaveLoad(t *testing.T) {
	store, err := Open(t.TempDir(), nil)
	require.NoError(t, err)

	id := uuid.New()
	snap := testSnapshot(t)
	require.NoError(t, store.Save(id, snap))

	got, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	_, err = os.Stat(filepath.Join(store.Dir(), id.String()+Extension))
	assert.NoError(t, err)
}

func TestStore_LoadMissing(t *testing.T) {
	store, err := Open(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = store.Load(uuid.New())
	assert.ErrorIs(t, err, fixup.ErrSnapshotNotFound)
}

func TestStore_LoadCorrupt(t *testing.T) {
	store, err := Open(t.TempDir(), nil)
	require.NoError(t, err)

	id := uuid.New()
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), id.String()+Extension), []byte("not zstd"), 0644))

	_, err = store.Load(id)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, fixup.ErrSnapshotNotFound)
}

func TestStore_ListAndDelete(t *testing.T) {
	store, err := Open(t.TempDir(), nil)
	require.NoError(t, err)

	a, b := uuid.New(), uuid.New()
	snap := testSnapshot(t)
	require.NoError(t, store.Save(a, snap))
	require.NoError(t, store.Save(b, snap))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "notes.txt"), []byte("x"), 0644))

	ids, err := store.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, ids)

	require.NoError(t, store.Delete(a))
	require.NoError(t, store.Delete(a))
	ids, err = store.List()
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b}, ids)
}

func TestStore_SatisfiesCoordinator(t *testing.T) {
	var _ fixup.SnapshotStore = (*Store)(nil)

	_, err := Open("", nil)
	assert.Error(t, err)
}
