// Package manage implements the management operations that mutate the
// volume table, snapshot table, and extent table: init, create/rename/
// delete volume, create/clone/delete snapshot, and the reserved vacuum.
package manage

import (
	"log/slog"
	"time"

	"github.com/lab47/dbs/dbserr"
	"github.com/lab47/dbs/device"
	"github.com/lab47/dbs/extentmap"
	"github.com/lab47/dbs/wire"
	"github.com/pkg/errors"
)

// InitDevice formats path as a fresh, empty device.
func InitDevice(log *slog.Logger, path string) error {
	ctx, err := device.Init(log, path)
	if err != nil {
		return err
	}
	return ctx.Close()
}

// CreateVolume allocates a volume slot and a root snapshot for a new,
// empty volume of the given size.
func CreateVolume(log *slog.Logger, path, name string, size uint64) error {
	mc, err := device.OpenMetadataPath(log, path)
	if err != nil {
		return err
	}
	defer mc.Close()

	if len(name) >= wire.MaxVolumeNameSize {
		return errors.Wrapf(dbserr.ErrPolicy, "volume name %q exceeds %d bytes", name, wire.MaxVolumeNameSize-1)
	}

	if _, ok := mc.FindVolumeByName(name); ok {
		return errors.Wrapf(dbserr.ErrExists, "volume %q", name)
	}

	idx, ok := mc.FindFreeVolumeSlot()
	if !ok {
		return errors.Wrap(dbserr.ErrCapacity, "volume table full")
	}

	snapID, err := mc.AddSnapshot(0, time.Now())
	if err != nil {
		return err
	}

	mc.Volumes[idx] = wire.VolumeRecord{
		SnapshotID: snapID,
		VolumeSize: size,
		VolumeName: name,
	}
	if err := mc.PersistVolume(idx); err != nil {
		return err
	}

	log.Info("created volume", "name", name, "size", size, "snapshot_id", snapID)
	return nil
}

// RenameVolume changes a volume's name in place.
func RenameVolume(log *slog.Logger, path, oldName, newName string) error {
	mc, err := device.OpenMetadataPath(log, path)
	if err != nil {
		return err
	}
	defer mc.Close()

	if len(newName) >= wire.MaxVolumeNameSize {
		return errors.Wrapf(dbserr.ErrPolicy, "volume name %q exceeds %d bytes", newName, wire.MaxVolumeNameSize-1)
	}

	idx, ok := mc.FindVolumeByName(oldName)
	if !ok {
		return errors.Wrapf(dbserr.ErrNotFound, "volume %q", oldName)
	}

	if _, ok := mc.FindVolumeByName(newName); ok {
		return errors.Wrapf(dbserr.ErrExists, "volume %q", newName)
	}

	mc.Volumes[idx].VolumeName = newName
	if err := mc.PersistVolume(idx); err != nil {
		return err
	}

	log.Info("renamed volume", "old_name", oldName, "new_name", newName)
	return nil
}

// CreateSnapshot adds a new current snapshot to name's chain, parented by
// the volume's previous current snapshot. The previous current snapshot
// becomes read-only the instant the volume record is repointed.
func CreateSnapshot(log *slog.Logger, path, name string) (uint16, error) {
	mc, err := device.OpenMetadataPath(log, path)
	if err != nil {
		return 0, err
	}
	defer mc.Close()

	idx, ok := mc.FindVolumeByName(name)
	if !ok {
		return 0, errors.Wrapf(dbserr.ErrNotFound, "volume %q", name)
	}

	previous := mc.Volumes[idx].SnapshotID

	newID, err := mc.AddSnapshot(previous, time.Now())
	if err != nil {
		return 0, err
	}

	mc.Volumes[idx].SnapshotID = newID
	if err := mc.PersistVolume(idx); err != nil {
		return 0, err
	}

	log.Info("created snapshot", "volume", name, "snapshot_id", newID, "parent", previous)
	return newID, nil
}

// CloneSnapshot materializes an independent new volume from sourceSnapshotID.
// Every block the source snapshot's chain would resolve is physically
// duplicated into the new volume's root snapshot, so deleting the source
// volume or any snapshot in its chain cannot affect the clone.
func CloneSnapshot(log *slog.Logger, path, newName string, sourceSnapshotID uint16) error {
	mc, err := device.OpenMetadataPath(log, path)
	if err != nil {
		return err
	}
	defer mc.Close()

	if len(newName) >= wire.MaxVolumeNameSize {
		return errors.Wrapf(dbserr.ErrPolicy, "volume name %q exceeds %d bytes", newName, wire.MaxVolumeNameSize-1)
	}

	ownerIdx, ok := mc.FindVolumeWithSnapshot(sourceSnapshotID)
	if !ok {
		return errors.Wrapf(dbserr.ErrNotFound, "snapshot %d", sourceSnapshotID)
	}
	srcSize := mc.Volumes[ownerIdx].VolumeSize

	srcMap, err := extentmap.BuildVolume(mc, sourceSnapshotID, srcSize)
	if err != nil {
		return err
	}

	if _, ok := mc.FindVolumeByName(newName); ok {
		return errors.Wrapf(dbserr.ErrExists, "volume %q", newName)
	}

	destIdx, ok := mc.FindFreeVolumeSlot()
	if !ok {
		return errors.Wrap(dbserr.ErrCapacity, "volume table full")
	}

	remaining := mc.TotalDeviceExtents - mc.Superblock.AllocatedDeviceExtents
	if srcMap.AllocatedVolumeExtents > remaining {
		return errors.Wrapf(dbserr.ErrCapacity, "need %d extents, device has %d free", srcMap.AllocatedVolumeExtents, remaining)
	}

	destSnapID, err := mc.AddSnapshot(0, time.Now())
	if err != nil {
		return err
	}

	databuf := make([]byte, wire.ExtentSize)

	copyErr := srcMap.EachPresent(func(logical uint32) error {
		ext := srcMap.Extents[logical]

		srcOff := mc.DataOffset + int64(ext.PhysicalPos)*wire.ExtentSize
		if err := wire.ReadExact(mc.File(), databuf, srcOff); err != nil {
			return errors.Wrap(dbserr.ErrIO, err.Error())
		}

		destPos, err := mc.NextExtentPosition()
		if err != nil {
			return err
		}

		destOff := mc.DataOffset + int64(destPos)*wire.ExtentSize
		if err := wire.WriteExact(mc.File(), databuf, destOff); err != nil {
			return errors.Wrap(dbserr.ErrIO, err.Error())
		}

		rec := wire.ExtentRecord{
			SnapshotID:  destSnapID,
			ExtentPos:   logical,
			BlockBitmap: [8]uint32(ext.BlockBitmap),
		}
		if err := mc.WriteExtentRecord(destPos, rec); err != nil {
			return err
		}

		return mc.CommitExtentAllocation()
	})
	if copyErr != nil {
		return copyErr
	}

	mc.Volumes[destIdx] = wire.VolumeRecord{
		SnapshotID: destSnapID,
		VolumeSize: srcSize,
		VolumeName: newName,
	}
	if err := mc.PersistVolume(destIdx); err != nil {
		return err
	}
	if err := mc.PersistSuperblock(); err != nil {
		return err
	}

	log.Info("cloned snapshot", "source_snapshot_id", sourceSnapshotID, "new_volume", newName, "extents", srcMap.AllocatedVolumeExtents)
	return nil
}

// DeleteVolume frees every extent across name's whole snapshot chain and
// zeroes the volume and snapshot slots. Physical extents are not
// compacted; AllocatedDeviceExtents is not decremented — a future vacuum
// is expected to reclaim them.
func DeleteVolume(log *slog.Logger, path, name string) error {
	mc, err := device.OpenMetadataPath(log, path)
	if err != nil {
		return err
	}
	defer mc.Close()

	idx, ok := mc.FindVolumeByName(name)
	if !ok {
		return errors.Wrapf(dbserr.ErrNotFound, "volume %q", name)
	}

	size := mc.Volumes[idx].VolumeSize
	snap := mc.Volumes[idx].SnapshotID

	for snap != 0 {
		m, err := extentmap.BuildSnapshot(mc, snap, size)
		if err != nil {
			return err
		}

		err = m.EachPresent(func(logical uint32) error {
			ext := m.Extents[logical]
			rec := wire.ExtentRecord{SnapshotID: 0}
			return mc.WriteExtentRecord(ext.PhysicalPos, rec)
		})
		if err != nil {
			return err
		}

		slot := snap - 1
		parent := mc.Snapshots[slot].ParentSnapshotID

		mc.Snapshots[slot] = wire.SnapshotRecord{}
		if err := mc.PersistSnapshot(int(slot)); err != nil {
			return err
		}

		snap = parent
	}

	mc.Volumes[idx] = wire.VolumeRecord{}
	if err := mc.PersistVolume(idx); err != nil {
		return err
	}

	log.Info("deleted volume", "name", name)
	return nil
}

// DeleteSnapshot removes a non-current snapshot from its chain, handing
// any extents it still uniquely owns to its child, and relinking the
// child to the deleted snapshot's parent. It fails if id is the current
// snapshot of any volume — delete the volume instead.
func DeleteSnapshot(log *slog.Logger, path string, id uint16) error {
	mc, err := device.OpenMetadataPath(log, path)
	if err != nil {
		return err
	}
	defer mc.Close()

	ownerIdx, ok := mc.FindVolumeWithSnapshot(id)
	if !ok {
		return errors.Wrapf(dbserr.ErrNotFound, "snapshot %d", id)
	}

	if mc.Volumes[ownerIdx].SnapshotID == id {
		return errors.Wrapf(dbserr.ErrPolicy, "snapshot %d is the current snapshot of volume %q; delete the volume instead", id, mc.Volumes[ownerIdx].VolumeName)
	}

	childID, ok := mc.FindChildSnapshotID(id)
	if !ok {
		return errors.Wrapf(dbserr.ErrNotFound, "no child of snapshot %d", id)
	}

	size := mc.Volumes[ownerIdx].VolumeSize

	targetMap, err := extentmap.BuildSnapshot(mc, id, size)
	if err != nil {
		return err
	}
	childMap, err := extentmap.BuildSnapshot(mc, childID, size)
	if err != nil {
		return err
	}

	err = targetMap.EachPresent(func(logical uint32) error {
		ext := targetMap.Extents[logical]

		if childMap.Present.Test(logical) {
			// The child already has its own copy; the target's is
			// redundant now and simply freed.
			return mc.WriteExtentRecord(ext.PhysicalPos, wire.ExtentRecord{SnapshotID: 0})
		}

		// The child has never written this logical extent; it inherits
		// the target's copy directly.
		rec := wire.ExtentRecord{
			SnapshotID:  childID,
			ExtentPos:   logical,
			BlockBitmap: [8]uint32(ext.BlockBitmap),
		}
		return mc.WriteExtentRecord(ext.PhysicalPos, rec)
	})
	if err != nil {
		return err
	}

	parent := mc.Snapshots[id-1].ParentSnapshotID
	mc.Snapshots[childID-1].ParentSnapshotID = parent
	if err := mc.PersistSnapshot(int(childID - 1)); err != nil {
		return err
	}

	mc.Snapshots[id-1] = wire.SnapshotRecord{}
	if err := mc.PersistSnapshot(int(id - 1)); err != nil {
		return err
	}

	log.Info("deleted snapshot", "snapshot_id", id, "child_snapshot_id", childID, "new_parent", parent)
	return nil
}

// Vacuum is reserved for compacting freed physical extents. It is not
// implemented.
func Vacuum(log *slog.Logger, path string) error {
	return dbserr.ErrUnimplemented
}
