package ufs

import (
	"encoding/binary"
	"time"

	"github.com/nfsutil/go-ufs/internal/crc32c"
)

// fileType constants for the mode word's upper bits, BSD-style.
const (
	modeDir  uint16 = 0040000
	modeDirSticky uint16 = 0040000 | 02000
)

// inode models the UFS1/UFS2 on-disk inode as a tagged variant over
// format version (spec.md §3 "Inode", Design Notes "Unions"): both
// versions share the same on-disk slot semantics (mode, links, size,
// 12 direct + 3 indirect block pointers, generation) but differ in
// field widths and, on UFS2, carry a check-hash.
type inode struct {
	Version Version

	Mode  uint16
	Links uint16
	UID   uint32
	GID   uint32
	Size  uint64

	Atime, Mtime, Ctime, Birthtime time.Time

	Blocks uint64 // 512-byte sectors actually allocated
	Flags  uint32
	Gen    uint32

	Direct   [12]uint64
	Indirect [niAddr]uint64

	CheckHash uint32
}

func sizeOfInode(v Version) int {
	return int(inodeSize(v))
}

// toBytes renders the inode to its on-disk form. For UFS2, when ck is
// enabled, the CRC32C check-hash is computed over the structure with
// the hash field zeroed and installed last (spec.md §4.C).
func (i *inode) toBytes(ck bool) []byte {
	b := make([]byte, sizeOfInode(i.Version))

	binary.LittleEndian.PutUint16(b[0x00:0x02], i.Mode)
	binary.LittleEndian.PutUint16(b[0x02:0x04], i.Links)
	binary.LittleEndian.PutUint32(b[0x04:0x08], i.UID)
	binary.LittleEndian.PutUint32(b[0x08:0x0c], i.GID)
	binary.LittleEndian.PutUint64(b[0x0c:0x14], i.Size)
	binary.LittleEndian.PutUint64(b[0x14:0x1c], i.Blocks)
	binary.LittleEndian.PutUint32(b[0x1c:0x20], i.Flags)
	binary.LittleEndian.PutUint32(b[0x20:0x24], i.Gen)
	binary.LittleEndian.PutUint32(b[0x24:0x28], uint32(i.Atime.Unix()))
	binary.LittleEndian.PutUint32(b[0x28:0x2c], uint32(i.Mtime.Unix()))
	binary.LittleEndian.PutUint32(b[0x2c:0x30], uint32(i.Ctime.Unix()))
	binary.LittleEndian.PutUint32(b[0x30:0x34], uint32(i.Birthtime.Unix()))

	off := 0x34
	ptr := int(ptrSize(i.Version))
	putPtr := func(v uint64) {
		if ptr == 4 {
			binary.LittleEndian.PutUint32(b[off:off+4], uint32(v))
		} else {
			binary.LittleEndian.PutUint64(b[off:off+8], v)
		}
		off += ptr
	}
	for k := 0; k < 12; k++ {
		putPtr(i.Direct[k])
	}
	// the spec.md Open Questions note the source's loop "for (sizepb =
	// bsize; i < UFS_NIADDR; i++)" leaves i uninitialized; this is
	// implemented correctly here as i = 0..niAddr-1 (logically 1..niAddr).
	for k := 0; k < niAddr; k++ {
		putPtr(i.Indirect[k])
	}

	if i.Version == Version2 && ck {
		hashOff := off
		binary.LittleEndian.PutUint32(b[hashOff:hashOff+4], 0)
		sum := crc32c.Checksum(b)
		i.CheckHash = sum
		binary.LittleEndian.PutUint32(b[hashOff:hashOff+4], sum)
	}

	return b
}

func inodeFromBytes(b []byte, v Version) *inode {
	i := &inode{Version: v}
	i.Mode = binary.LittleEndian.Uint16(b[0x00:0x02])
	i.Links = binary.LittleEndian.Uint16(b[0x02:0x04])
	i.UID = binary.LittleEndian.Uint32(b[0x04:0x08])
	i.GID = binary.LittleEndian.Uint32(b[0x08:0x0c])
	i.Size = binary.LittleEndian.Uint64(b[0x0c:0x14])
	i.Blocks = binary.LittleEndian.Uint64(b[0x14:0x1c])
	i.Flags = binary.LittleEndian.Uint32(b[0x1c:0x20])
	i.Gen = binary.LittleEndian.Uint32(b[0x20:0x24])
	i.Atime = time.Unix(int64(binary.LittleEndian.Uint32(b[0x24:0x28])), 0)
	i.Mtime = time.Unix(int64(binary.LittleEndian.Uint32(b[0x28:0x2c])), 0)
	i.Ctime = time.Unix(int64(binary.LittleEndian.Uint32(b[0x2c:0x30])), 0)
	i.Birthtime = time.Unix(int64(binary.LittleEndian.Uint32(b[0x30:0x34])), 0)
	off := 0x34
	ptr := int(ptrSize(v))
	getPtr := func() uint64 {
		var p uint64
		if ptr == 4 {
			p = uint64(binary.LittleEndian.Uint32(b[off : off+4]))
		} else {
			p = binary.LittleEndian.Uint64(b[off : off+8])
		}
		off += ptr
		return p
	}
	for k := 0; k < 12; k++ {
		i.Direct[k] = getPtr()
	}
	for k := 0; k < niAddr; k++ {
		i.Indirect[k] = getPtr()
	}
	return i
}
