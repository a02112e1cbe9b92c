package manage_test

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/lab47/dbs/dbserr"
	"github.com/lab47/dbs/device"
	"github.com/lab47/dbs/manage"
	"github.com/lab47/dbs/query"
	"github.com/lab47/dbs/volume"
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

func TestInitDeviceCreateAndListVolume(t *testing.T) {
	log := slog.Default()
	path := newDeviceFile(t, 8)

	require.NoError(t, manage.InitDevice(log, path))
	require.NoError(t, manage.CreateVolume(log, path, "alpha", 4*wire.ExtentSize))

	vols, err := query.Volumes(log, path)
	require.NoError(t, err)
	require.Len(t, vols, 1)
	require.Equal(t, "alpha", vols[0].Name)

	require.ErrorIs(t, manage.CreateVolume(log, path, "alpha", wire.ExtentSize), dbserr.ErrExists)
}

func TestCreateVolumeFailsOnceVolumeTableIsFull(t *testing.T) {
	log := slog.Default()
	path := newDeviceFile(t, 1)

	require.NoError(t, manage.InitDevice(log, path))

	for i := 0; i < wire.MaxVolumes; i++ {
		name := fmt.Sprintf("vol-%d", i)
		require.NoError(t, manage.CreateVolume(log, path, name, wire.ExtentSize))
	}

	err := manage.CreateVolume(log, path, "one-too-many", wire.ExtentSize)
	require.ErrorIs(t, err, dbserr.ErrCapacity)
}

func TestRenameVolume(t *testing.T) {
	log := slog.Default()
	path := newDeviceFile(t, 8)

	require.NoError(t, manage.InitDevice(log, path))
	require.NoError(t, manage.CreateVolume(log, path, "alpha", wire.ExtentSize))
	require.NoError(t, manage.RenameVolume(log, path, "alpha", "beta"))

	vols, err := query.Volumes(log, path)
	require.NoError(t, err)
	require.Equal(t, "beta", vols[0].Name)
}

func writeBlock(t *testing.T, path, volName string, block uint64, fill byte) {
	t.Helper()

	log := slog.Default()
	dctx, err := device.Open(log, path)
	require.NoError(t, err)
	mc, err := device.OpenMetadata(dctx)
	require.NoError(t, err)
	vc, err := volume.Open(log, mc, volName)
	require.NoError(t, err)
	defer vc.Close()

	buf := make([]byte, wire.BlockSize)
	for i := range buf {
		buf[i] = fill
	}
	require.NoError(t, vc.Write(block, buf))
}

func readBlock(t *testing.T, path, volName string, block uint64) []byte {
	t.Helper()

	log := slog.Default()
	dctx, err := device.Open(log, path)
	require.NoError(t, err)
	mc, err := device.OpenMetadata(dctx)
	require.NoError(t, err)
	vc, err := volume.Open(log, mc, volName)
	require.NoError(t, err)
	defer vc.Close()

	buf := make([]byte, wire.BlockSize)
	require.NoError(t, vc.Read(block, buf))
	return buf
}

func TestCloneSnapshotIsIndependentOfSource(t *testing.T) {
	log := slog.Default()
	path := newDeviceFile(t, 8)

	require.NoError(t, manage.InitDevice(log, path))
	require.NoError(t, manage.CreateVolume(log, path, "alpha", wire.ExtentSize))

	writeBlock(t, path, "alpha", 0, 0xAA)

	snaps, err := query.Snapshots(log, path, "alpha")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	sourceID := snaps[0].SnapshotID

	require.NoError(t, manage.CloneSnapshot(log, path, "alpha-clone", sourceID))

	cloned := readBlock(t, path, "alpha-clone", 0)
	want := make([]byte, wire.BlockSize)
	for i := range want {
		want[i] = 0xAA
	}
	require.Equal(t, want, cloned)

	// Deleting the source volume must not affect the clone.
	require.NoError(t, manage.DeleteVolume(log, path, "alpha"))

	cloned2 := readBlock(t, path, "alpha-clone", 0)
	require.Equal(t, want, cloned2)
}

func TestDeleteVolumeFreesWholeChain(t *testing.T) {
	log := slog.Default()
	path := newDeviceFile(t, 8)

	require.NoError(t, manage.InitDevice(log, path))
	require.NoError(t, manage.CreateVolume(log, path, "alpha", wire.ExtentSize))

	writeBlock(t, path, "alpha", 0, 1)

	_, err := manage.CreateSnapshot(log, path, "alpha")
	require.NoError(t, err)

	writeBlock(t, path, "alpha", 1, 2)

	require.NoError(t, manage.DeleteVolume(log, path, "alpha"))

	vols, err := query.Volumes(log, path)
	require.NoError(t, err)
	require.Empty(t, vols)

	mc, err := device.OpenMetadataPath(log, path)
	require.NoError(t, err)
	defer mc.Close()

	// Both snapshots of the chain are zeroed and both extents they owned
	// (block 0 under the root, the copy-on-write of block 1 under the
	// second snapshot) are free.
	require.True(t, mc.Snapshots[0].Empty())
	require.True(t, mc.Snapshots[1].Empty())
	require.EqualValues(t, 2, mc.Superblock.AllocatedDeviceExtents)
	for pos := uint32(0); pos < mc.Superblock.AllocatedDeviceExtents; pos++ {
		rec, err := mc.ReadExtentRecord(pos)
		require.NoError(t, err)
		require.True(t, rec.Free())
	}
}

func TestDeleteSnapshotInheritsIntoChild(t *testing.T) {
	log := slog.Default()
	path := newDeviceFile(t, 8)

	require.NoError(t, manage.InitDevice(log, path))
	require.NoError(t, manage.CreateVolume(log, path, "alpha", wire.ExtentSize))

	writeBlock(t, path, "alpha", 0, 1)

	snaps, err := query.Snapshots(log, path, "alpha")
	require.NoError(t, err)
	rootID := snaps[0].SnapshotID

	_, err = manage.CreateSnapshot(log, path, "alpha")
	require.NoError(t, err)

	require.NoError(t, manage.DeleteSnapshot(log, path, rootID))

	snaps, err = query.Snapshots(log, path, "alpha")
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	got := readBlock(t, path, "alpha", 0)
	want := make([]byte, wire.BlockSize)
	for i := range want {
		want[i] = 1
	}
	require.Equal(t, want, got)
}

func TestDeleteCurrentSnapshotIsRejected(t *testing.T) {
	log := slog.Default()
	path := newDeviceFile(t, 8)

	require.NoError(t, manage.InitDevice(log, path))
	require.NoError(t, manage.CreateVolume(log, path, "alpha", wire.ExtentSize))

	snaps, err := query.Snapshots(log, path, "alpha")
	require.NoError(t, err)

	err = manage.DeleteSnapshot(log, path, snaps[0].SnapshotID)
	require.ErrorIs(t, err, dbserr.ErrPolicy)
}
