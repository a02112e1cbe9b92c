package wire

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Superblock is the 512-byte region at device offset 0.
type Superblock struct {
	Magic                  [8]byte
	Version                uint32
	AllocatedDeviceExtents uint32
	DeviceSize             uint64
	// UUID stamps a format-time random identity into the superblock's
	// otherwise-unused tail. Recovered from original_source/dbs.c's
	// reserved superblock bytes; surfaced by device_info.
	UUID [16]byte
}

// NewSuperblock builds an initialized superblock for a device of the given
// size, stamping a fresh random UUID.
func NewSuperblock(deviceSize int64) (Superblock, error) {
	sb := Superblock{
		Magic:      Magic,
		Version:    PackedVersion(),
		DeviceSize: uint64(deviceSize),
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return sb, errors.Wrap(err, "generate device uuid")
	}
	copy(sb.UUID[:], id[:])

	return sb, nil
}

// Encode writes the packed, little-endian superblock into a SuperblockSize
// buffer (the remaining bytes are left zero).
func (sb Superblock) Encode() []byte {
	buf := make([]byte, SuperblockSize)
	w := bytes.NewBuffer(buf[:0])

	_ = binary.Write(w, binary.LittleEndian, sb.Magic)
	_ = binary.Write(w, binary.LittleEndian, sb.Version)
	_ = binary.Write(w, binary.LittleEndian, sb.AllocatedDeviceExtents)
	_ = binary.Write(w, binary.LittleEndian, sb.DeviceSize)
	_ = binary.Write(w, binary.LittleEndian, sb.UUID)

	return buf
}

// DecodeSuperblock parses a SuperblockSize buffer.
func DecodeSuperblock(buf []byte) (Superblock, error) {
	var sb Superblock
	r := bytes.NewReader(buf)

	fields := []any{&sb.Magic, &sb.Version, &sb.AllocatedDeviceExtents, &sb.DeviceSize, &sb.UUID}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return sb, errors.Wrap(err, "decode superblock")
		}
	}

	return sb, nil
}

// Valid reports whether the superblock has the expected magic and a
// version this code understands.
func (sb Superblock) Valid() bool {
	return sb.Magic == Magic && sb.Version == PackedVersion()
}

// VolumeRecord is one of the MaxVolumes fixed slots in the volume table.
// SnapshotID 0 means the slot is empty.
type VolumeRecord struct {
	SnapshotID uint16
	VolumeSize uint64
	VolumeName string
}

// Empty reports whether this slot holds no volume.
func (v VolumeRecord) Empty() bool {
	return v.SnapshotID == 0
}

// Encode writes the packed volume record.
func (v VolumeRecord) Encode() []byte {
	buf := make([]byte, volumeRecordSize)
	binary.LittleEndian.PutUint16(buf[0:2], v.SnapshotID)
	binary.LittleEndian.PutUint64(buf[2:10], v.VolumeSize)
	copy(buf[10:10+MaxVolumeNameSize], v.VolumeName)
	return buf
}

// DecodeVolumeRecord parses a packed volume record.
func DecodeVolumeRecord(buf []byte) (VolumeRecord, error) {
	if len(buf) < volumeRecordSize {
		return VolumeRecord{}, errors.New("short volume record")
	}

	var v VolumeRecord
	v.SnapshotID = binary.LittleEndian.Uint16(buf[0:2])
	v.VolumeSize = binary.LittleEndian.Uint64(buf[2:10])

	name := buf[10 : 10+MaxVolumeNameSize]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	v.VolumeName = string(name)

	return v, nil
}

// SnapshotRecord is one of the MaxSnapshots fixed slots in the snapshot
// table. id = index + 1. CreatedAt 0 means the slot is empty.
type SnapshotRecord struct {
	ParentSnapshotID uint16
	CreatedAt        int64
}

// Empty reports whether this slot holds no snapshot.
func (s SnapshotRecord) Empty() bool {
	return s.CreatedAt == 0
}

// CreatedAtTime returns CreatedAt as a UTC time.Time.
func (s SnapshotRecord) CreatedAtTime() time.Time {
	return time.Unix(s.CreatedAt, 0).UTC()
}

// Encode writes the packed snapshot record.
func (s SnapshotRecord) Encode() []byte {
	buf := make([]byte, snapshotRecordSize)
	binary.LittleEndian.PutUint16(buf[0:2], s.ParentSnapshotID)
	binary.LittleEndian.PutUint64(buf[2:10], uint64(s.CreatedAt))
	return buf
}

// DecodeSnapshotRecord parses a packed snapshot record.
func DecodeSnapshotRecord(buf []byte) (SnapshotRecord, error) {
	if len(buf) < snapshotRecordSize {
		return SnapshotRecord{}, errors.New("short snapshot record")
	}

	var s SnapshotRecord
	s.ParentSnapshotID = binary.LittleEndian.Uint16(buf[0:2])
	s.CreatedAt = int64(binary.LittleEndian.Uint64(buf[2:10]))
	return s, nil
}

// ExtentRecord is one fixed-size record per physical extent. SnapshotID 0
// means the extent is free.
//
// ExtentPos carries different meanings on disk and in memory, per the
// engine's design notes: on disk it is the logical extent index within the
// owning volume. This type always represents the on-disk shape; the
// in-memory resolved shape (extentmap.Extent, carrying a PhysicalPos
// instead) is a distinct type. The read-in swap happens in
// extentmap.BuildSnapshot; on write-out, the volume and manage packages
// build an ExtentRecord from the logical index directly.
type ExtentRecord struct {
	SnapshotID  uint16
	ExtentPos   uint32 // logical extent index within the owning volume
	BlockBitmap [8]uint32
}

// Free reports whether this extent record is unallocated.
func (e ExtentRecord) Free() bool {
	return e.SnapshotID == 0
}

// Encode writes the packed extent record.
func (e ExtentRecord) Encode() []byte {
	buf := make([]byte, extentRecordSize)
	binary.LittleEndian.PutUint16(buf[0:2], e.SnapshotID)
	binary.LittleEndian.PutUint32(buf[2:6], e.ExtentPos)
	for i, w := range e.BlockBitmap {
		binary.LittleEndian.PutUint32(buf[6+i*4:10+i*4], w)
	}
	return buf
}

// DecodeExtentRecord parses a packed extent record.
func DecodeExtentRecord(buf []byte) (ExtentRecord, error) {
	if len(buf) < extentRecordSize {
		return ExtentRecord{}, errors.New("short extent record")
	}

	var e ExtentRecord
	e.SnapshotID = binary.LittleEndian.Uint16(buf[0:2])
	e.ExtentPos = binary.LittleEndian.Uint32(buf[2:6])
	for i := range e.BlockBitmap {
		e.BlockBitmap[i] = binary.LittleEndian.Uint32(buf[6+i*4 : 10+i*4])
	}

	return e, nil
}
