package device

import (
	"log/slog"
	"time"

	"github.com/lab47/dbs/dbserr"
	"github.com/lab47/dbs/wire"
	"github.com/pkg/errors"
)

// MetadataContext is a device Context plus the fully loaded volume and
// snapshot tables. Management and query operations work against it;
// volume contexts hold one open alongside their extent map.
type MetadataContext struct {
	*Context

	Volumes   [wire.MaxVolumes]wire.VolumeRecord
	Snapshots [wire.MaxSnapshots]wire.SnapshotRecord
}

// OpenMetadata loads both tables over an already open device Context.
func OpenMetadata(ctx *Context) (*MetadataContext, error) {
	mc := &MetadataContext{Context: ctx}
	if err := mc.reload(); err != nil {
		return nil, err
	}
	return mc, nil
}

// OpenMetadataPath is the common open-then-load-tables path every
// management and query operation starts from: open the device at path and
// load its metadata, releasing the file handle if loading fails.
func OpenMetadataPath(log *slog.Logger, path string) (*MetadataContext, error) {
	ctx, err := Open(log, path)
	if err != nil {
		return nil, err
	}

	mc, err := OpenMetadata(ctx)
	if err != nil {
		ctx.Close()
		return nil, err
	}

	return mc, nil
}

func (mc *MetadataContext) reload() error {
	buf := make([]byte, wire.VolumeTableSize)
	if err := wire.ReadExact(mc.File(), buf, wire.SuperblockSize); err != nil {
		return errors.Wrap(dbserr.ErrIO, err.Error())
	}

	const volRecSize = wire.VolumeTableSize / wire.MaxVolumes
	for i := 0; i < wire.MaxVolumes; i++ {
		rec, err := wire.DecodeVolumeRecord(buf[i*volRecSize : (i+1)*volRecSize])
		if err != nil {
			return errors.Wrap(dbserr.ErrFormat, err.Error())
		}
		mc.Volumes[i] = rec
	}

	snapOff := wire.SuperblockSize + wire.VolumeTableSize
	sbuf := make([]byte, wire.SnapshotTableSize)
	if err := wire.ReadExact(mc.File(), sbuf, int64(snapOff)); err != nil {
		return errors.Wrap(dbserr.ErrIO, err.Error())
	}

	const snapRecSize = wire.SnapshotTableSize / wire.MaxSnapshots
	for i := 0; i < wire.MaxSnapshots; i++ {
		rec, err := wire.DecodeSnapshotRecord(sbuf[i*snapRecSize : (i+1)*snapRecSize])
		if err != nil {
			return errors.Wrap(dbserr.ErrFormat, err.Error())
		}
		mc.Snapshots[i] = rec
	}

	return nil
}

// PersistVolume writes back a single volume slot.
func (mc *MetadataContext) PersistVolume(idx int) error {
	const volRecSize = wire.VolumeTableSize / wire.MaxVolumes
	off := int64(wire.SuperblockSize + idx*volRecSize)
	return wire.WriteExact(mc.File(), mc.Volumes[idx].Encode(), off)
}

// PersistSnapshot writes back a single snapshot slot. idx is the slot
// index (snapshot id - 1).
func (mc *MetadataContext) PersistSnapshot(idx int) error {
	const snapRecSize = wire.SnapshotTableSize / wire.MaxSnapshots
	off := int64(wire.SuperblockSize + wire.VolumeTableSize + idx*snapRecSize)
	return wire.WriteExact(mc.File(), mc.Snapshots[idx].Encode(), off)
}

// PersistSuperblock writes back the superblock.
func (mc *MetadataContext) PersistSuperblock() error {
	return wire.WriteExact(mc.File(), mc.Superblock.Encode(), 0)
}

// FindVolumeByName scans all slots, ignoring empty ones, and returns the
// index of the first slot whose name matches exactly.
func (mc *MetadataContext) FindVolumeByName(name string) (int, bool) {
	for i := 0; i < wire.MaxVolumes; i++ {
		if mc.Volumes[i].Empty() {
			continue
		}
		if mc.Volumes[i].VolumeName == name {
			return i, true
		}
	}
	return 0, false
}

// FindFreeVolumeSlot returns the index of the first empty volume slot.
func (mc *MetadataContext) FindFreeVolumeSlot() (int, bool) {
	for i := 0; i < wire.MaxVolumes; i++ {
		if mc.Volumes[i].Empty() {
			return i, true
		}
	}
	return 0, false
}

// FindVolumeWithSnapshot locates the volume that currently owns the given
// snapshot id. If no volume slot directly points at it (a newer snapshot
// has superseded it), the search follows child links downward until it
// reaches a snapshot that is some volume's current snapshot. The DAG is a
// forest rooted at per-volume current snapshots, so any reachable snapshot
// has a descending path to a current snapshot in at most MaxSnapshots
// hops.
func (mc *MetadataContext) FindVolumeWithSnapshot(id uint16) (int, bool) {
	for hops := 0; hops < wire.MaxSnapshots; hops++ {
		for i := 0; i < wire.MaxVolumes; i++ {
			if !mc.Volumes[i].Empty() && mc.Volumes[i].SnapshotID == id {
				return i, true
			}
		}

		child, ok := mc.FindChildSnapshotID(id)
		if !ok {
			return 0, false
		}
		id = child
	}

	return 0, false
}

// FindChildSnapshotID returns the unique snapshot whose parent is id.
// Snapshot creation only ever branches by cloning, which always re-roots
// with parent 0, so a non-cloned snapshot has at most one child; clone
// must preserve that invariant.
func (mc *MetadataContext) FindChildSnapshotID(id uint16) (uint16, bool) {
	for i := 0; i < wire.MaxSnapshots; i++ {
		if mc.Snapshots[i].Empty() {
			continue
		}
		if mc.Snapshots[i].ParentSnapshotID == id {
			return uint16(i + 1), true
		}
	}
	return 0, false
}

// AddSnapshot finds the first empty snapshot slot, writes (parent, now()),
// and returns its id (1-based). It returns ErrCapacity if the table is
// full.
func (mc *MetadataContext) AddSnapshot(parent uint16, now time.Time) (uint16, error) {
	for i := 0; i < wire.MaxSnapshots; i++ {
		if mc.Snapshots[i].Empty() {
			mc.Snapshots[i] = wire.SnapshotRecord{
				ParentSnapshotID: parent,
				CreatedAt:        now.Unix(),
			}
			if err := mc.PersistSnapshot(i); err != nil {
				return 0, errors.Wrap(dbserr.ErrIO, err.Error())
			}
			return uint16(i + 1), nil
		}
	}

	return 0, dbserr.ErrCapacity
}

// NextExtentPosition returns the physical position the next allocation
// would claim, without reserving it. Callers must write the new extent's
// own metadata record at this position before calling CommitExtentAllocation
// — the write-ordering rule that keeps a crash mid-allocation from ever
// making the superblock's counter outrun the extent table.
func (mc *MetadataContext) NextExtentPosition() (uint32, error) {
	if mc.Superblock.AllocatedDeviceExtents >= mc.TotalDeviceExtents {
		return 0, dbserr.ErrCapacity
	}
	return mc.Superblock.AllocatedDeviceExtents, nil
}

// CommitExtentAllocation bumps and persists the allocation counter. Call
// this only after the new extent's metadata record has already been
// persisted at the position NextExtentPosition returned.
func (mc *MetadataContext) CommitExtentAllocation() error {
	mc.Superblock.AllocatedDeviceExtents++

	if err := mc.PersistSuperblock(); err != nil {
		mc.Superblock.AllocatedDeviceExtents--
		return errors.Wrap(dbserr.ErrIO, err.Error())
	}

	return nil
}

// ExtentRecordOffset returns the byte offset of the extent metadata record
// at physical position pos.
func (mc *MetadataContext) ExtentRecordOffset(pos uint32) int64 {
	return mc.ExtentOffset + int64(pos)*wire.ExtentRecordSize
}

// ReadExtentRecord reads the raw on-disk extent record at physical
// position pos.
func (mc *MetadataContext) ReadExtentRecord(pos uint32) (wire.ExtentRecord, error) {
	buf := make([]byte, wire.ExtentRecordSize)
	if err := wire.ReadExact(mc.File(), buf, mc.ExtentRecordOffset(pos)); err != nil {
		return wire.ExtentRecord{}, errors.Wrap(dbserr.ErrIO, err.Error())
	}
	rec, err := wire.DecodeExtentRecord(buf)
	if err != nil {
		return wire.ExtentRecord{}, errors.Wrap(dbserr.ErrFormat, err.Error())
	}
	return rec, nil
}

// WriteExtentRecord persists the on-disk extent record at physical
// position pos.
func (mc *MetadataContext) WriteExtentRecord(pos uint32, rec wire.ExtentRecord) error {
	if err := wire.WriteExact(mc.File(), rec.Encode(), mc.ExtentRecordOffset(pos)); err != nil {
		return errors.Wrap(dbserr.ErrIO, err.Error())
	}
	return nil
}
