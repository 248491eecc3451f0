// Package liveness implements the writer-liveness signal of spec §4.9: a
// flag in FlowInfo backed by an advisory flock probe on a companion file,
// so a crashed writer's stale flag self-heals without a supervising
// daemon.
package liveness

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/mlefebvre1/mxl/internal/segment"
	"github.com/mlefebvre1/mxl/mxlerrors"
)

const lockFileName = ".writer.lock"

// Handle is held by an attached writer for the lifetime of its session.
type Handle struct {
	file   *os.File
	header *segment.Header
}

// Acquire attaches a writer to the flow at dir. It returns
// mxlerrors.ErrWriterBusy if another writer already holds the flock. If
// the liveness flag is set but the flock is free (a previous writer
// crashed without clearing it), the flag is self-healed before this
// writer proceeds.
func Acquire(dir string, header *segment.Header) (*Handle, error) {
	f, err := os.OpenFile(filepath.Join(dir, lockFileName), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, mxlerrors.Wrap(mxlerrors.IOError, "open writer lock file", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, mxlerrors.ErrWriterBusy
		}
		return nil, mxlerrors.Wrap(mxlerrors.IOError, "flock writer lock file", err)
	}

	header.WriterLive.Store(true)
	return &Handle{file: f, header: header}, nil
}

// Release detaches the writer: clears the liveness flag, releases the
// flock, and closes the lock file.
func (h *Handle) Release() error {
	h.header.WriterLive.Store(false)
	unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	return h.file.Close()
}

// IsActive reports whether a writer currently holds the flow (spec §4.9,
// property P7). When the flag is set, it additionally probes the flock:
// if the probe succeeds (lock free), the writer behind the flag has
// crashed, and the flag is cleared before returning false.
func IsActive(dir string, header *segment.Header) (bool, error) {
	if !header.WriterLive.Load() {
		return false, nil
	}

	f, err := os.OpenFile(filepath.Join(dir, lockFileName), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return false, mxlerrors.Wrap(mxlerrors.IOError, "open writer lock file", err)
	}
	defer f.Close()

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		if err == unix.EWOULDBLOCK {
			return true, nil
		}
		return false, mxlerrors.Wrap(mxlerrors.IOError, "flock probe writer lock file", err)
	}

	// Probe succeeded: the lock was free, so the writer behind the stale
	// flag is gone. Self-heal and release the probe lock.
	header.WriterLive.Store(false)
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false, nil
}
