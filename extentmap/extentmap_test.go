package extentmap_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lab47/dbs/device"
	"github.com/lab47/dbs/extentmap"
	"github.com/lab47/dbs/wire"
	"github.com/stretchr/testify/require"
)

func openMetadata(t *testing.T, extents int64) *device.MetadataContext {
	t.Helper()

	path := filepath.Join(t.TempDir(), "device.img")
	size := wire.DataOffset() + extents*wire.ExtentSize
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))

	ctx, err := device.Init(slog.Default(), path)
	require.NoError(t, err)

	mc, err := device.OpenMetadata(ctx)
	require.NoError(t, err)

	t.Cleanup(func() { mc.Close() })
	return mc
}

func allocate(t *testing.T, mc *device.MetadataContext, snapshotID uint16, logical uint32) uint32 {
	t.Helper()

	pos, err := mc.NextExtentPosition()
	require.NoError(t, err)

	require.NoError(t, mc.WriteExtentRecord(pos, wire.ExtentRecord{SnapshotID: snapshotID, ExtentPos: logical}))
	require.NoError(t, mc.CommitExtentAllocation())

	return pos
}

func TestBuildSnapshotFiltersByOwner(t *testing.T) {
	mc := openMetadata(t, 4)

	s1, err := mc.AddSnapshot(0, time.Unix(1, 0))
	require.NoError(t, err)
	s2, err := mc.AddSnapshot(s1, time.Unix(2, 0))
	require.NoError(t, err)

	allocate(t, mc, s1, 0)
	allocate(t, mc, s2, 1)

	m, err := extentmap.BuildSnapshot(mc, s1, 2*wire.ExtentSize)
	require.NoError(t, err)

	require.True(t, m.Present.Test(0))
	require.False(t, m.Present.Test(1))
}

func TestBuildVolumeMergesAncestors(t *testing.T) {
	mc := openMetadata(t, 4)

	s1, err := mc.AddSnapshot(0, time.Unix(1, 0))
	require.NoError(t, err)
	s2, err := mc.AddSnapshot(s1, time.Unix(2, 0))
	require.NoError(t, err)

	allocate(t, mc, s1, 0)
	allocate(t, mc, s2, 1)

	m, err := extentmap.BuildVolume(mc, s2, 2*wire.ExtentSize)
	require.NoError(t, err)

	require.True(t, m.Present.Test(0))
	require.True(t, m.Present.Test(1))
	require.EqualValues(t, s1, m.Extents[0].SnapshotID)
	require.EqualValues(t, s2, m.Extents[1].SnapshotID)
}

func TestBuildVolumeNearestWriterWins(t *testing.T) {
	mc := openMetadata(t, 4)

	s1, err := mc.AddSnapshot(0, time.Unix(1, 0))
	require.NoError(t, err)
	s2, err := mc.AddSnapshot(s1, time.Unix(2, 0))
	require.NoError(t, err)

	allocate(t, mc, s1, 0)
	allocate(t, mc, s2, 0) // s2 overwrites logical index 0

	m, err := extentmap.BuildVolume(mc, s2, wire.ExtentSize)
	require.NoError(t, err)

	require.EqualValues(t, s2, m.Extents[0].SnapshotID)
}

func TestEachPresentVisitsOnlySetIndices(t *testing.T) {
	mc := openMetadata(t, 4)

	s1, err := mc.AddSnapshot(0, time.Unix(1, 0))
	require.NoError(t, err)

	allocate(t, mc, s1, 0)
	allocate(t, mc, s1, 3)

	m, err := extentmap.BuildSnapshot(mc, s1, 4*wire.ExtentSize)
	require.NoError(t, err)

	var seen []uint32
	require.NoError(t, m.EachPresent(func(logical uint32) error {
		seen = append(seen, logical)
		return nil
	}))

	require.Equal(t, []uint32{0, 3}, seen)
}
