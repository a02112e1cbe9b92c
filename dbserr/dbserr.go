// Package dbserr declares the sentinel error kinds returned by every
// exported operation in the engine. Callers compare with errors.Is; the
// wrapped context (added with github.com/pkg/errors as errors propagate)
// is for the diagnostic, not the contract.
package dbserr

import "github.com/pkg/errors"

var (
	// ErrIO covers short or failing reads/writes/opens/stats on the backing device.
	ErrIO = errors.New("io error")

	// ErrFormat covers a magic or version mismatch: the device was never
	// initialized, or was initialized by an incompatible version.
	ErrFormat = errors.New("device not initialized")

	// ErrNotFound covers an unknown volume name or snapshot id.
	ErrNotFound = errors.New("not found")

	// ErrExists covers creating a volume whose name is already taken.
	ErrExists = errors.New("already exists")

	// ErrCapacity covers a full volume table, a full snapshot table, or a
	// device with no remaining free extents.
	ErrCapacity = errors.New("capacity exceeded")

	// ErrPolicy covers deleting the current snapshot of a volume, or an
	// out-of-range block index.
	ErrPolicy = errors.New("policy violation")

	// ErrUnimplemented covers vacuum, which is reserved but not implemented.
	ErrUnimplemented = errors.New("unimplemented")

	// ErrLocked covers a failure to acquire the advisory lock on the
	// backing device, meaning another process already has it open.
	ErrLocked = errors.New("device locked by another process")
)
