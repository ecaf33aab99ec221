//go:build linux

package main

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/nfsutil/go-ufs/backend"
)

// deviceSizeBytes returns the usable size of the target: the block
// device's size via BLKGETSIZE64 when path refers to one, otherwise the
// regular file's size.
func deviceSizeBytes(path string, info os.FileInfo) (int64, error) {
	if info.Mode()&os.ModeDevice == 0 {
		return info.Size(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var size int64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return info.Size(), nil
	}
	return size, nil
}

// deviceSectorSize queries BLKSSZGET; callers fall back to the -S default
// when this fails (e.g. path is a plain image file, not a block device).
func deviceSectorSize(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sz, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET)
	if err != nil {
		return 0, err
	}
	return int64(sz), nil
}

// eraseDevice issues BLKDISCARD across the whole device for -E; on
// anything that doesn't support it (a plain image file, most notably) it
// falls back to zeroing the first and last megabyte, which is enough to
// destroy any prior superblock magic.
func eraseDevice(store backend.Storage, size int64) error {
	f, err := store.Sys()
	if err != nil {
		return zeroEdges(store, size)
	}
	rng := [2]uint64{0, uint64(size)}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKDISCARD, uintptr(unsafe.Pointer(&rng[0])))
	if errno != 0 {
		return zeroEdges(store, size)
	}
	return nil
}

func zeroEdges(store backend.Storage, size int64) error {
	w, err := store.Writable()
	if err != nil {
		return err
	}
	const span = 1 << 20
	zero := make([]byte, span)
	if size < span {
		zero = zero[:size]
	}
	if _, err := w.WriteAt(zero, 0); err != nil {
		return err
	}
	if size > span {
		if _, err := w.WriteAt(zero, size-int64(len(zero))); err != nil {
			return err
		}
	}
	return nil
}
