// Package device opens the backing file, validates its superblock, and
// derives the region offsets every other package needs. MetadataContext
// (metadata.go) layers the fully loaded volume and snapshot tables on top.
package device

import (
	"log/slog"
	"os"

	"github.com/lab47/dbs/dbserr"
	"github.com/lab47/dbs/wire"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Context is an open backing device: its file handle plus the layout
// derived from its superblock. It owns the file handle and the advisory
// lock acquired on it; both are released by Close.
type Context struct {
	Log  *slog.Logger
	Path string

	file *os.File

	Superblock wire.Superblock

	ExtentOffset       int64
	DataOffset         int64
	TotalDeviceExtents uint32
}

// Open opens an existing, already-initialized device: it acquires the
// advisory lock, reads the superblock, and validates magic and version.
func Open(log *slog.Logger, path string) (ctx *Context, err error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(dbserr.ErrIO, err.Error())
	}

	// Scoped acquisition: release the file handle on every exit path that
	// doesn't hand it off in a successful *Context.
	defer func() {
		if err != nil {
			f.Close()
		}
	}()

	if lerr := lockFile(f); lerr != nil {
		return nil, lerr
	}

	buf := make([]byte, wire.SuperblockSize)
	if rerr := wire.ReadExact(f, buf, 0); rerr != nil {
		return nil, errors.Wrap(dbserr.ErrIO, rerr.Error())
	}

	sb, derr := wire.DecodeSuperblock(buf)
	if derr != nil {
		return nil, errors.Wrap(dbserr.ErrFormat, derr.Error())
	}

	if !sb.Valid() {
		return nil, dbserr.ErrFormat
	}

	return newContext(log, path, f, sb), nil
}

// Init formats a new device: it stats the file for size, writes a
// zero-initialized device-metadata and extent-metadata region in batches,
// and writes the superblock last, so that a crash mid-format leaves the
// device failing the magic check on the next Open.
func Init(log *slog.Logger, path string) (ctx *Context, err error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(dbserr.ErrIO, err.Error())
	}

	defer func() {
		if err != nil {
			f.Close()
		}
	}()

	if lerr := lockFile(f); lerr != nil {
		return nil, lerr
	}

	fi, serr := f.Stat()
	if serr != nil {
		return nil, errors.Wrap(dbserr.ErrIO, serr.Error())
	}
	if fi.Size() == 0 {
		return nil, errors.Wrap(dbserr.ErrIO, "device has zero size")
	}

	deviceSize := fi.Size()
	total := wire.TotalDeviceExtents(deviceSize)

	if werr := zeroRegion(f, wire.SuperblockSize, wire.DeviceMetadataSize); werr != nil {
		return nil, errors.Wrap(dbserr.ErrIO, werr.Error())
	}

	if werr := writeZeroedExtentTable(f, wire.ExtentOffset(), total); werr != nil {
		return nil, errors.Wrap(dbserr.ErrIO, werr.Error())
	}

	sb, serr2 := wire.NewSuperblock(deviceSize)
	if serr2 != nil {
		return nil, errors.Wrap(dbserr.ErrIO, serr2.Error())
	}

	if werr := wire.WriteExact(f, sb.Encode(), 0); werr != nil {
		return nil, errors.Wrap(dbserr.ErrIO, werr.Error())
	}

	log.Info("initialized device", "path", path, "device_size", deviceSize, "total_extents", total)

	return newContext(log, path, f, sb), nil
}

func newContext(log *slog.Logger, path string, f *os.File, sb wire.Superblock) *Context {
	return &Context{
		Log:                log,
		Path:               path,
		file:               f,
		Superblock:         sb,
		ExtentOffset:       wire.ExtentOffset(),
		DataOffset:         wire.DataOffset(),
		TotalDeviceExtents: wire.TotalDeviceExtents(int64(sb.DeviceSize)),
	}
}

// File returns the underlying file handle for callers in this module tree
// that need positional I/O (metadata and volume contexts).
func (c *Context) File() *os.File {
	return c.file
}

// Close releases the file handle (and, with it, the advisory lock).
func (c *Context) Close() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

func lockFile(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		f.Close()
		return errors.Wrap(dbserr.ErrLocked, err.Error())
	}
	return nil
}

func zeroRegion(f *os.File, off int64, size int64) error {
	const chunkSize = 1 << 20 // 1 MiB

	zero := make([]byte, chunkSize)
	remaining := size
	at := off

	for remaining > 0 {
		n := int64(chunkSize)
		if n > remaining {
			n = remaining
		}
		if err := wire.WriteExact(f, zero[:n], at); err != nil {
			return err
		}
		at += n
		remaining -= n
	}

	return nil
}

// writeZeroedExtentTable zeros the extent metadata region, one record per
// physical extent, in batches of 65536 records to bound memory use on
// large devices.
func writeZeroedExtentTable(f *os.File, extentOffset int64, total uint32) error {
	const batch = 65536

	var zeroRecord wire.ExtentRecord
	encoded := zeroRecord.Encode()

	buf := make([]byte, 0, batch*len(encoded))
	for i := 0; i < batch; i++ {
		buf = append(buf, encoded...)
	}

	var written uint32
	for written < total {
		n := uint32(batch)
		if remaining := total - written; remaining < n {
			n = remaining
		}

		off := extentOffset + int64(written)*int64(len(encoded))
		if err := wire.WriteExact(f, buf[:n*uint32(len(encoded))], off); err != nil {
			return err
		}

		written += n
	}

	return nil
}
