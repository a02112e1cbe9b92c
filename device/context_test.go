package device_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/lab47/dbs/dbserr"
	"github.com/lab47/dbs/device"
	"github.com/lab47/dbs/wire"
	"github.com/stretchr/testify/require"
)

// makeDeviceFile creates a zero-filled backing file sized to hold extents
// physical extents of data, on top of the fixed metadata regions.
func makeDeviceFile(t *testing.T, extents int64) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "device.img")

	size := wire.DataOffset() + extents*wire.ExtentSize
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))

	return path
}

func TestInitThenOpenRoundTrip(t *testing.T) {
	log := slog.Default()
	path := makeDeviceFile(t, 4)

	ctx, err := device.Init(log, path)
	require.NoError(t, err)
	require.EqualValues(t, 4, ctx.TotalDeviceExtents)
	require.NoError(t, ctx.Close())

	reopened, err := device.Open(log, path)
	require.NoError(t, err)
	defer reopened.Close()

	require.True(t, reopened.Superblock.Valid())
	require.EqualValues(t, 0, reopened.Superblock.AllocatedDeviceExtents)
	require.NotEqual(t, [16]byte{}, reopened.Superblock.UUID)
}

func TestOpenRejectsUnformattedDevice(t *testing.T) {
	log := slog.Default()
	path := makeDeviceFile(t, 4)

	_, err := device.Open(log, path)
	require.ErrorIs(t, err, dbserr.ErrFormat)
}

func TestInitRejectsEmptyFile(t *testing.T) {
	log := slog.Default()
	path := filepath.Join(t.TempDir(), "empty.img")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := device.Init(log, path)
	require.ErrorIs(t, err, dbserr.ErrIO)
}

func TestSecondOpenIsLocked(t *testing.T) {
	log := slog.Default()
	path := makeDeviceFile(t, 4)

	ctx, err := device.Init(log, path)
	require.NoError(t, err)
	defer ctx.Close()

	_, err = device.Open(log, path)
	require.ErrorIs(t, err, dbserr.ErrLocked)
}
