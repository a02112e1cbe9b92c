package wire

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// ReadExact performs a positional read of exactly len(buf) bytes from f at
// off, treating a short read as an error. *os.File.ReadAt already loops
// internally until it fills buf or hits an error, but we still check n
// explicitly so a future swap to a non-looping reader can't silently
// truncate.
func ReadExact(f *os.File, buf []byte, off int64) error {
	n, err := f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "read %d bytes at offset %d", len(buf), off)
	}
	if n != len(buf) {
		return errors.Errorf("short read at offset %d: got %d of %d bytes", off, n, len(buf))
	}
	return nil
}

// WriteExact performs a positional write of all of buf to f at off.
func WriteExact(f *os.File, buf []byte, off int64) error {
	n, err := f.WriteAt(buf, off)
	if err != nil {
		return errors.Wrapf(err, "write %d bytes at offset %d", len(buf), off)
	}
	if n != len(buf) {
		return errors.Errorf("short write at offset %d: wrote %d of %d bytes", off, n, len(buf))
	}
	return nil
}
