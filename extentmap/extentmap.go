// Package extentmap builds the in-memory structure that resolves a
// volume's logical extent indices to physical device extents, by scanning
// the on-device extent table and, for a full-volume map, walking the
// snapshot parent chain.
package extentmap

import (
	"github.com/lab47/dbs/bitmap"
	"github.com/lab47/dbs/dbserr"
	"github.com/lab47/dbs/device"
	"github.com/lab47/dbs/wire"
	"github.com/pkg/errors"
)

// Extent is the in-memory resolved shape of an extent record. Unlike
// wire.ExtentRecord, PhysicalPos always means "position in the data
// region" — the on-disk/in-memory meaning swap happens exactly once, here,
// at the point each record is read off disk and placed into a Map.
type Extent struct {
	SnapshotID  uint16
	PhysicalPos uint32
	BlockBitmap bitmap.Bitmap
}

// Map resolves a volume (or a single snapshot)'s logical extent indices to
// physical extents. Extents and Present are both indexed by logical
// extent index.
type Map struct {
	Extents []Extent
	Present bitmap.Dynamic

	AllocatedVolumeExtents uint32
	MaxExtentIdx           uint32
}

// New allocates an empty map sized for a volume of volumeSize bytes.
func New(volumeSize uint64) *Map {
	count := wire.VolumeExtentCount(volumeSize)
	return &Map{
		Extents: make([]Extent, count),
		Present: bitmap.NewDynamic(count),
	}
}

// Len is the number of logical extent slots in the map.
func (m *Map) Len() int {
	return len(m.Extents)
}

// BuildSnapshot scans the on-device extent table for records owned by
// snapshotID and places each at its logical index.
func BuildSnapshot(mc *device.MetadataContext, snapshotID uint16, volumeSize uint64) (*Map, error) {
	m := New(volumeSize)

	toScan := mc.TotalDeviceExtents
	if mc.Superblock.AllocatedDeviceExtents < toScan {
		toScan = mc.Superblock.AllocatedDeviceExtents
	}

	const batch = 65536

	for batchStart := uint32(0); batchStart < toScan; batchStart += batch {
		n := uint32(batch)
		if remaining := toScan - batchStart; remaining < n {
			n = remaining
		}

		chunk := make([]byte, int(n)*wire.ExtentRecordSize)
		if err := wire.ReadExact(mc.File(), chunk, mc.ExtentRecordOffset(batchStart)); err != nil {
			return nil, errors.Wrap(dbserr.ErrIO, err.Error())
		}

		for i := uint32(0); i < n; i++ {
			physical := batchStart + i

			rec, err := wire.DecodeExtentRecord(chunk[int(i)*wire.ExtentRecordSize:])
			if err != nil {
				return nil, errors.Wrap(dbserr.ErrFormat, err.Error())
			}

			if rec.Free() || rec.SnapshotID != snapshotID {
				continue
			}

			logical := rec.ExtentPos
			if int(logical) >= len(m.Extents) {
				continue
			}

			m.Extents[logical] = Extent{
				SnapshotID:  snapshotID,
				PhysicalPos: physical,
				BlockBitmap: bitmap.Bitmap(rec.BlockBitmap),
			}
			m.Present.Set(logical)
			m.AllocatedVolumeExtents++
			if logical+1 > m.MaxExtentIdx {
				m.MaxExtentIdx = logical + 1
			}
		}
	}

	return m, nil
}

// BuildVolume builds the map for currentSnapshotID as in BuildSnapshot,
// then walks parent_snapshot_id upward, merging each ancestor's map so
// that only logical indices the volume map doesn't already have get
// filled in. Merging nearest-ancestor-first preserves "nearest writer
// wins": a descendant's write always shadows an ancestor's.
func BuildVolume(mc *device.MetadataContext, currentSnapshotID uint16, volumeSize uint64) (*Map, error) {
	vol, err := BuildSnapshot(mc, currentSnapshotID, volumeSize)
	if err != nil {
		return nil, err
	}

	parent := mc.Snapshots[currentSnapshotID-1].ParentSnapshotID
	for parent != 0 {
		anc, err := BuildSnapshot(mc, parent, volumeSize)
		if err != nil {
			return nil, err
		}

		mergeMissing(vol, anc)

		parent = mc.Snapshots[parent-1].ParentSnapshotID
	}

	return vol, nil
}

// mergeMissing copies every logical index present in src but not yet
// present in dst. The bitmap permits a 32-wide skip: when a presence
// bitmap word is entirely zero, the whole 32-index span is skipped at
// once.
func mergeMissing(dst, src *Map) {
	n := uint32(len(dst.Extents))

	for i := uint32(0); i < n; {
		if src.Present.WordIsZero(i) {
			i += 32
			continue
		}

		if src.Present.Test(i) && !dst.Present.Test(i) {
			dst.Extents[i] = src.Extents[i]
			dst.Present.Set(i)
			dst.AllocatedVolumeExtents++
			if i+1 > dst.MaxExtentIdx {
				dst.MaxExtentIdx = i + 1
			}
		}

		i++
	}
}

// EachPresent calls fn once for every logical index present in the map, in
// ascending order, using the same 32-wide word skip as mergeMissing to
// avoid visiting absent indices one at a time. It stops and returns fn's
// error at the first failure.
func (m *Map) EachPresent(fn func(logical uint32) error) error {
	n := uint32(len(m.Extents))

	for i := uint32(0); i < n; {
		if m.Present.WordIsZero(i) {
			i += 32
			continue
		}

		if m.Present.Test(i) {
			if err := fn(i); err != nil {
				return err
			}
		}

		i++
	}

	return nil
}
