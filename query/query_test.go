package query_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/lab47/dbs/dbserr"
	"github.com/lab47/dbs/manage"
	"github.com/lab47/dbs/query"
	"github.com/lab47/dbs/wire"
	"github.com/stretchr/testify/require"
)

func newDeviceFile(t *testing.T, extents int64) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "device.img")
	size := wire.DataOffset() + extents*wire.ExtentSize
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestDeviceReportsAllocationState(t *testing.T) {
	log := slog.Default()
	path := newDeviceFile(t, 4)

	require.NoError(t, manage.InitDevice(log, path))

	info, err := query.Device(log, path)
	require.NoError(t, err)
	require.EqualValues(t, 4, info.TotalDeviceExtents)
	require.EqualValues(t, 0, info.AllocatedDeviceExtents)
	require.Equal(t, 0, info.VolumeCount)
	require.NotEmpty(t, info.UUID)

	require.NoError(t, manage.CreateVolume(log, path, "vol", wire.ExtentSize))

	info, err = query.Device(log, path)
	require.NoError(t, err)
	require.Equal(t, 1, info.VolumeCount)
}

func TestSnapshotsListsCurrentFirst(t *testing.T) {
	log := slog.Default()
	path := newDeviceFile(t, 4)

	require.NoError(t, manage.InitDevice(log, path))
	require.NoError(t, manage.CreateVolume(log, path, "vol", wire.ExtentSize))

	root, err := query.Snapshots(log, path, "vol")
	require.NoError(t, err)
	require.Len(t, root, 1)

	newID, err := manage.CreateSnapshot(log, path, "vol")
	require.NoError(t, err)

	chain, err := query.Snapshots(log, path, "vol")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, newID, chain[0].SnapshotID)
	require.EqualValues(t, 0, chain[1].ParentSnapshotID)
}

func TestSnapshotsUnknownVolume(t *testing.T) {
	log := slog.Default()
	path := newDeviceFile(t, 4)
	require.NoError(t, manage.InitDevice(log, path))

	_, err := query.Snapshots(log, path, "nope")
	require.ErrorIs(t, err, dbserr.ErrNotFound)
}
