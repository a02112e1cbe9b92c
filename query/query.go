// Package query implements the read-only device, volume, and snapshot
// listing operations. These are collaborators, not core: they inspect the
// tables a device.MetadataContext already loads and never mutate
// anything.
package query

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lab47/dbs/dbserr"
	"github.com/lab47/dbs/device"
	"github.com/lab47/dbs/wire"
	"github.com/pkg/errors"
)

// DeviceInfo summarizes a device's superblock and allocation state.
type DeviceInfo struct {
	Version                string
	UUID                   string
	DeviceSize             uint64
	TotalDeviceExtents     uint32
	AllocatedDeviceExtents uint32
	VolumeCount            int
}

// Device reports a device's superblock and allocation state.
func Device(log *slog.Logger, path string) (DeviceInfo, error) {
	mc, err := device.OpenMetadataPath(log, path)
	if err != nil {
		return DeviceInfo{}, err
	}
	defer mc.Close()

	count := 0
	for i := 0; i < wire.MaxVolumes; i++ {
		if !mc.Volumes[i].Empty() {
			count++
		}
	}

	sb := mc.Superblock
	return DeviceInfo{
		Version:                fmt.Sprintf("%d.%d.%d", sb.Version&0xFFFF, (sb.Version>>16)&0xFF, (sb.Version>>24)&0xFF),
		UUID:                   uuid.UUID(sb.UUID).String(),
		DeviceSize:             sb.DeviceSize,
		TotalDeviceExtents:     mc.TotalDeviceExtents,
		AllocatedDeviceExtents: sb.AllocatedDeviceExtents,
		VolumeCount:            count,
	}, nil
}

// VolumeInfo summarizes one volume slot.
type VolumeInfo struct {
	Name              string
	Size              uint64
	CurrentSnapshotID uint16
	CreatedAt         time.Time
	SnapshotCount     int
}

// Volumes lists every occupied volume slot.
func Volumes(log *slog.Logger, path string) ([]VolumeInfo, error) {
	mc, err := device.OpenMetadataPath(log, path)
	if err != nil {
		return nil, err
	}
	defer mc.Close()

	var out []VolumeInfo
	for i := 0; i < wire.MaxVolumes; i++ {
		rec := mc.Volumes[i]
		if rec.Empty() {
			continue
		}

		chain := walkChain(mc, rec.SnapshotID)

		var createdAt time.Time
		if len(chain) > 0 {
			createdAt = mc.Snapshots[chain[0]-1].CreatedAtTime()
		}

		out = append(out, VolumeInfo{
			Name:              rec.VolumeName,
			Size:              rec.VolumeSize,
			CurrentSnapshotID: rec.SnapshotID,
			CreatedAt:         createdAt,
			SnapshotCount:     len(chain),
		})
	}

	return out, nil
}

// SnapshotInfo summarizes one snapshot in a volume's chain.
type SnapshotInfo struct {
	SnapshotID       uint16
	ParentSnapshotID uint16 // 0 means root
	CreatedAt        time.Time
}

// Snapshots walks volumeName's chain from its current snapshot back to
// the root.
func Snapshots(log *slog.Logger, path, volumeName string) ([]SnapshotInfo, error) {
	mc, err := device.OpenMetadataPath(log, path)
	if err != nil {
		return nil, err
	}
	defer mc.Close()

	idx, ok := mc.FindVolumeByName(volumeName)
	if !ok {
		return nil, errors.Wrapf(dbserr.ErrNotFound, "volume %q", volumeName)
	}

	ids := walkChain(mc, mc.Volumes[idx].SnapshotID)

	out := make([]SnapshotInfo, 0, len(ids))
	for _, id := range ids {
		rec := mc.Snapshots[id-1]
		out = append(out, SnapshotInfo{
			SnapshotID:       id,
			ParentSnapshotID: rec.ParentSnapshotID,
			CreatedAt:        rec.CreatedAtTime(),
		})
	}

	return out, nil
}

// walkChain returns the snapshot ids from current back to the root
// (parent 0), current first.
func walkChain(mc *device.MetadataContext, current uint16) []uint16 {
	var ids []uint16
	for id := current; id != 0; id = mc.Snapshots[id-1].ParentSnapshotID {
		ids = append(ids, id)
	}
	return ids
}
