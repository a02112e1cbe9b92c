// Package volume implements the block I/O path — read, write, unmap —
// over an open volume, including the copy-on-write allocation that
// happens on first write into an inherited extent.
package volume

import (
	"log/slog"

	"github.com/lab47/dbs/dbserr"
	"github.com/lab47/dbs/device"
	"github.com/lab47/dbs/extentmap"
	"github.com/lab47/dbs/wire"
	"github.com/pkg/errors"
)

// Context is an open volume: the device's metadata context, the volume's
// own cached record, and the resolved extent map for its current
// snapshot's full ancestry. It owns the underlying device.Context (and
// with it, the file handle and advisory lock); Close releases all of it.
type Context struct {
	*device.MetadataContext

	Log *slog.Logger

	VolumeIndex       int
	Name              string
	CurrentSnapshotID uint16
	Size              uint64

	Map *extentmap.Map
}

// Open resolves name against the volume table, builds the full-volume
// extent map across its snapshot chain, and returns a ready-to-use
// Context.
func Open(log *slog.Logger, mc *device.MetadataContext, name string) (*Context, error) {
	idx, ok := mc.FindVolumeByName(name)
	if !ok {
		return nil, errors.Wrapf(dbserr.ErrNotFound, "volume %q", name)
	}

	rec := mc.Volumes[idx]

	m, err := extentmap.BuildVolume(mc, rec.SnapshotID, rec.VolumeSize)
	if err != nil {
		return nil, err
	}

	return &Context{
		MetadataContext:   mc,
		Log:               log,
		VolumeIndex:       idx,
		Name:              name,
		CurrentSnapshotID: rec.SnapshotID,
		Size:              rec.VolumeSize,
		Map:               m,
	}, nil
}

// Close releases the underlying device context.
func (c *Context) Close() error {
	return c.MetadataContext.Close()
}

func (c *Context) resolveBlock(block uint64) (logical uint32, blockInExtent int, err error) {
	li := block >> 8
	if li >= uint64(c.Map.Len()) {
		return 0, 0, errors.Wrapf(dbserr.ErrPolicy, "block %d out of range for volume %q", block, c.Name)
	}
	return uint32(li), int(block & 0xFF), nil
}

func (c *Context) extentPresent(logical uint32) bool {
	return c.Map.Present.Test(logical) && c.Map.Extents[logical].SnapshotID != 0
}

// Read fills buf (exactly 512 bytes) with the contents of block. An
// extent that was never written, or a block within an extent that was
// never written, reads as zero.
func (c *Context) Read(block uint64, buf []byte) error {
	if len(buf) != wire.BlockSize {
		return errors.Wrap(dbserr.ErrPolicy, "buffer must be exactly one block")
	}

	logical, blockInExtent, err := c.resolveBlock(block)
	if err != nil {
		return err
	}

	if !c.extentPresent(logical) {
		clear(buf)
		return nil
	}

	ext := c.Map.Extents[logical]
	if !ext.BlockBitmap.Test(blockInExtent) {
		clear(buf)
		return nil
	}

	off := c.blockOffset(ext.PhysicalPos, blockInExtent)
	if err := wire.ReadExact(c.File(), buf, off); err != nil {
		return errors.Wrap(dbserr.ErrIO, err.Error())
	}

	return nil
}

// Write stores buf (exactly 512 bytes) at block. If the logical extent is
// absent, or present but owned by an ancestor snapshot rather than the
// volume's current one, this is the copy-on-write point: a new physical
// extent is allocated and claimed by the current snapshot before the
// block is written.
func (c *Context) Write(block uint64, buf []byte) error {
	if len(buf) != wire.BlockSize {
		return errors.Wrap(dbserr.ErrPolicy, "buffer must be exactly one block")
	}

	logical, blockInExtent, err := c.resolveBlock(block)
	if err != nil {
		return err
	}

	if !c.extentPresent(logical) || c.Map.Extents[logical].SnapshotID != c.CurrentSnapshotID {
		if err := c.allocateExtent(logical); err != nil {
			return err
		}
	}

	ext := &c.Map.Extents[logical]

	off := c.blockOffset(ext.PhysicalPos, blockInExtent)
	if err := wire.WriteExact(c.File(), buf, off); err != nil {
		return errors.Wrap(dbserr.ErrIO, err.Error())
	}

	if ext.BlockBitmap.Test(blockInExtent) {
		return nil
	}

	ext.BlockBitmap.Set(blockInExtent)
	return c.persistExtent(logical, *ext)
}

// allocateExtent claims a fresh physical extent for logical, owned by the
// volume's current snapshot. Only the block that triggered the allocation
// is written afterward; every other block in the new extent stays
// zero-initialized on disk, masked from reads by the fresh (empty) block
// bitmap.
func (c *Context) allocateExtent(logical uint32) error {
	pos, err := c.NextExtentPosition()
	if err != nil {
		return err
	}

	newExt := extentmap.Extent{
		SnapshotID:  c.CurrentSnapshotID,
		PhysicalPos: pos,
	}

	if err := c.persistExtent(logical, newExt); err != nil {
		return err
	}

	if err := c.CommitExtentAllocation(); err != nil {
		return err
	}

	c.Map.Extents[logical] = newExt
	if !c.Map.Present.Test(logical) {
		c.Map.Present.Set(logical)
		c.Map.AllocatedVolumeExtents++
	}

	return nil
}

func (c *Context) persistExtent(logical uint32, ext extentmap.Extent) error {
	rec := wire.ExtentRecord{
		SnapshotID:  ext.SnapshotID,
		ExtentPos:   logical,
		BlockBitmap: [8]uint32(ext.BlockBitmap),
	}
	if err := c.WriteExtentRecord(ext.PhysicalPos, rec); err != nil {
		return errors.Wrap(dbserr.ErrIO, err.Error())
	}
	return nil
}

// Unmap clears block's bit in its extent's bitmap. If that empties the
// bitmap entirely, the extent is freed (its record's snapshot id set to
// 0) so a future vacuum can reclaim the physical space; otherwise the
// extent stays allocated for its remaining written blocks. Unmapping a
// block that was never written is a no-op.
//
// The source this was modeled on frees the extent when the bitmap check
// returns "not empty", which inverts the evident intent ("release only
// when nothing is left"); this implementation frees only when the bitmap
// is actually empty. See the design notes for the discrepancy.
func (c *Context) Unmap(block uint64) error {
	logical, blockInExtent, err := c.resolveBlock(block)
	if err != nil {
		return err
	}

	if !c.extentPresent(logical) {
		return nil
	}

	ext := &c.Map.Extents[logical]
	if !ext.BlockBitmap.Test(blockInExtent) {
		return nil
	}

	ext.BlockBitmap.Clear(blockInExtent)

	if ext.BlockBitmap.IsEmpty() {
		ext.SnapshotID = 0
	}

	return c.persistExtent(logical, *ext)
}

func (c *Context) blockOffset(physicalPos uint32, blockInExtent int) int64 {
	return c.DataOffset + int64(physicalPos)*wire.ExtentSize + int64(blockInExtent)*wire.BlockSize
}
