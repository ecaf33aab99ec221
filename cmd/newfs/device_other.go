//go:build !linux

package main

import (
	"os"

	"github.com/nfsutil/go-ufs/backend"
)

// Non-Linux builds have no BLKGETSIZE64/BLKSSZGET/BLKDISCARD ioctls;
// newfs falls back to plain-file semantics, and -E zeroes the first
// megabyte of the target.
func deviceSizeBytes(path string, info os.FileInfo) (int64, error) {
	return info.Size(), nil
}

func deviceSectorSize(path string) (int64, error) {
	return 0, os.ErrInvalid
}

func eraseDevice(store backend.Storage, size int64) error {
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
	return nil
}
