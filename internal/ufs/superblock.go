package ufs

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nfsutil/go-ufs/internal/crc32c"
)

// On-disk superblock placement, spec.md §3 and §6.
const (
	SblockUFS1 int64 = 8192
	SblockUFS2 int64 = 65536

	// fsMagic values. The "bad magic" sentinel is written before any
	// cylinder group exists, so an interrupted format cannot be mounted
	// (spec.md §4.D step 8 and §5).
	fsMagicUFS1   uint32 = 0x011954
	fsMagicUFS2   uint32 = 0x19540119
	fsMagicBadSB  uint32 = 0x19530510

	rootIno    uint32 = 2 // UFS_ROOTINO
	ptrSizeV1  uint32 = 4
	ptrSizeV2  uint32 = 8
	niAddr     int    = 3 // number of indirect block pointers

	sblockMaxSize int64 = 8192
)

// checkHashFlags are the per-structure metadata-checksum toggles carried
// in the superblock (spec.md §3 "metadata check-hash flags").
type checkHashFlags struct {
	Superblock bool
	CylGroup   bool
	Inode      bool
}

func (c checkHashFlags) toUint32() uint32 {
	var v uint32
	if c.Superblock {
		v |= 1 << 0
	}
	if c.CylGroup {
		v |= 1 << 1
	}
	if c.Inode {
		v |= 1 << 2
	}
	return v
}

func checkHashFlagsFromUint32(v uint32) checkHashFlags {
	return checkHashFlags{
		Superblock: v&(1<<0) != 0,
		CylGroup:   v&(1<<1) != 0,
		Inode:      v&(1<<2) != 0,
	}
}

// featureFlags are the format-level toggles from Config that are
// persisted into the superblock (spec.md §3 "feature flags").
type featureFlags struct {
	SoftUpdates        bool
	SoftUpdatesJournal bool
	Gjournal           bool
	MultilabelMAC      bool
	TRIM               bool
}

func (f featureFlags) toUint32() uint32 {
	var v uint32
	if f.SoftUpdates {
		v |= 1 << 0
	}
	if f.SoftUpdatesJournal {
		v |= 1 << 1
	}
	if f.Gjournal {
		v |= 1 << 2
	}
	if f.MultilabelMAC {
		v |= 1 << 3
	}
	if f.TRIM {
		v |= 1 << 4
	}
	return v
}

func featureFlagsFromUint32(v uint32) featureFlags {
	return featureFlags{
		SoftUpdates:        v&(1<<0) != 0,
		SoftUpdatesJournal: v&(1<<1) != 0,
		Gjournal:           v&(1<<2) != 0,
		MultilabelMAC:      v&(1<<3) != 0,
		TRIM:               v&(1<<4) != 0,
	}
}

// summaryEntry is one group's worth of the on-disk summary array
// (spec.md §3 "Summary array").
type summaryEntry struct {
	FreeDirs   int32
	FreeBlocks int32
	FreeInodes int32
	FreeFrags  int32
}

const summaryEntrySize = 16

func (s summaryEntry) toBytes() []byte {
	b := make([]byte, summaryEntrySize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(s.FreeDirs))
	binary.LittleEndian.PutUint32(b[4:8], uint32(s.FreeBlocks))
	binary.LittleEndian.PutUint32(b[8:12], uint32(s.FreeInodes))
	binary.LittleEndian.PutUint32(b[12:16], uint32(s.FreeFrags))
	return b
}

func summaryEntryFromBytes(b []byte) summaryEntry {
	return summaryEntry{
		FreeDirs:   int32(binary.LittleEndian.Uint32(b[0:4])),
		FreeBlocks: int32(binary.LittleEndian.Uint32(b[4:8])),
		FreeInodes: int32(binary.LittleEndian.Uint32(b[8:12])),
		FreeFrags:  int32(binary.LittleEndian.Uint32(b[12:16])),
	}
}

// Superblock is the root on-disk record describing the filesystem
// geometry (spec.md §3 "Superblock"). Field names track the BSD naming
// the spec's glossary and algorithm steps use (bsize, fsize, fpg, ipg,
// ...) rather than generic Go names, since every algorithm step in
// spec.md §4.D refers to them that way.
type Superblock struct {
	Version Version
	Magic   uint32

	SblockLoc int64
	Sbsize    int64

	Sector int64

	Bsize      int64
	Fsize      int64
	Frag       int64 // bsize/fsize
	FragShift  uint
	FsbToDb    uint // log2(fsize/sector)
	Bmask      int64
	Fmask      int64

	MaxBsize   int64
	MaxContig  int64
	ContigSumSize int64
	// MaxBpg is the "-e" allocator hint (spec.md §6); it is engine-only
	// state carried for a future allocator, not part of the fixed-size
	// on-disk record this package persists.
	MaxBpg int64

	Size  int64 // total fragments
	Dsize int64 // data fragments

	FragsPerGroup  int64 // fpg
	InodesPerGroup int64 // ipg
	Ncg            int64 // group count

	Csaddr int64 // first fragment of the summary array
	Cssize int64 // summary array size, bytes

	Cgsize   int64
	Metaspace int64
	Minfree  int

	Optim Optimization

	MaxFileSize uint64

	Density int64 // bytes per inode actually used (origdensity tracking)

	CheckHash checkHashFlags
	Features  featureFlags

	VolumeLabel string

	FsIDTime int64
	FsIDRand uint32

	// UFS1 legacy aggregate counters, populated at writeback time
	// (spec.md §4.G "Apply format-version compatibility rewrites").
	OldCsTotal summaryEntry

	CsTotal summaryEntry // aggregate free counters across all groups

	Time time.Time

	CGRotor int64 // last group allocated from, always 0 at format time
}

// CGSize returns the size in bytes of one cylinder group header,
// including its bitmaps and cluster summary, for the given frags/group.
// Must satisfy spec.md's invariant CGSIZE(sb) <= bsize-8.
func (sb *Superblock) CGSize() int64 {
	fragBitmapBytes := roundUpDiv(sb.FragsPerGroup, 8)
	inodeBitmapBytes := roundUpDiv(sb.InodesPerGroup, 8)
	var clusterBytes int64
	if sb.ContigSumSize > 0 {
		nclusters := sb.FragsPerGroup / sb.Frag
		clusterBitmapBytes := roundUpDiv(nclusters, 8)
		clusterSummaryBytes := (sb.ContigSumSize + 1) * 4
		clusterBytes = clusterBitmapBytes + clusterSummaryBytes
	}
	frsumBytes := sb.Frag * 4
	return int64(cgHeaderFixedSize) + fragBitmapBytes + inodeBitmapBytes + clusterBytes + frsumBytes
}

func roundUpDiv(n, d int64) int64 {
	return (n + d - 1) / d
}

func roundUp(n, multiple int64) int64 {
	if multiple <= 0 {
		return n
	}
	return ((n + multiple - 1) / multiple) * multiple
}

// --- geometry helper functions, named after the BSD macros they replace ---

// cgbase returns the first fragment of cylinder group c.
func (sb *Superblock) cgbase(c int64) int64 {
	return sb.FragsPerGroup * c
}

// cgsblock returns the fragment of the backup superblock in group c.
func (sb *Superblock) cgsblock(c int64) int64 {
	return sb.cgbase(c) + sb.fragsPerBlockRoundedSblock()
}

func (sb *Superblock) fragsPerBlockRoundedSblock() int64 {
	// every group reserves the span from its start up to the end of the
	// primary superblock (SblockLoc+Sbsize), rounded up to a block; the
	// backup superblock sits right after that span.
	return roundUp(sb.SblockLoc+sb.Sbsize, sb.Bsize) / sb.Fsize
}

// cgtod returns the fragment of the cylinder group header/bitmaps in c.
func (sb *Superblock) cgtod(c int64) int64 {
	if c == 0 {
		return sb.cgbase(0) + sb.fragsPerBlockRoundedSblock()
	}
	return sb.cgsblock(c) + sb.Bsize/sb.Fsize
}

// cgimin returns the fragment of the inode table in group c.
func (sb *Superblock) cgimin(c int64) int64 {
	return sb.cgtod(c) + roundUp(sb.CGSize(), sb.Fsize)/sb.Fsize
}

// cgdmin returns the fragment where group c's data area begins, right
// after the inode table ends.
func (sb *Superblock) cgdmin(c int64) int64 {
	return sb.cgimin(c) + sb.inodeTableFrags()
}

func (sb *Superblock) inodeTableFrags() int64 {
	inodesPerBlock := sb.Bsize / inodeSize(sb.Version)
	blocks := roundUpDiv(sb.InodesPerGroup, inodesPerBlock)
	return blocks * sb.Frag
}

func inodeSize(v Version) int64 {
	if v == Version1 {
		return 128
	}
	return 256
}

func ptrSize(v Version) int64 {
	if v == Version1 {
		return int64(ptrSizeV1)
	}
	return int64(ptrSizeV2)
}

// fsbToDb converts a fragment number to a disk (sector) address.
func (sb *Superblock) fsbToDb(frag int64) int64 {
	return frag << sb.FsbToDb
}

// --- serialization ---

// sbLayoutSize is the fixed superblock record length we persist. Sbsize
// records it rounded up to a fragment (spec.md §4.D step 7's sbsize
// rule); writes emit only these sbLayoutSize bytes.
const sbLayoutSize = 512

// ToBytes renders the superblock to its on-disk form, computing and
// installing the CRC32C check-hash over the structure with the hash
// field zeroed first (spec.md §4.C, §4.G).
func (sb *Superblock) ToBytes() ([]byte, error) {
	b := make([]byte, sbLayoutSize)

	binary.LittleEndian.PutUint32(b[0x00:0x04], sb.Magic)
	binary.LittleEndian.PutUint64(b[0x04:0x0c], uint64(sb.SblockLoc))
	binary.LittleEndian.PutUint64(b[0x0c:0x14], uint64(sb.Sbsize))
	binary.LittleEndian.PutUint64(b[0x14:0x1c], uint64(sb.Sector))
	binary.LittleEndian.PutUint64(b[0x1c:0x24], uint64(sb.Bsize))
	binary.LittleEndian.PutUint64(b[0x24:0x2c], uint64(sb.Fsize))
	binary.LittleEndian.PutUint32(b[0x2c:0x30], uint32(sb.Frag))
	binary.LittleEndian.PutUint64(b[0x30:0x38], uint64(sb.MaxBsize))
	binary.LittleEndian.PutUint64(b[0x38:0x40], uint64(sb.MaxContig))
	binary.LittleEndian.PutUint64(b[0x40:0x48], uint64(sb.ContigSumSize))
	binary.LittleEndian.PutUint64(b[0x48:0x50], uint64(sb.Size))
	binary.LittleEndian.PutUint64(b[0x50:0x58], uint64(sb.Dsize))
	binary.LittleEndian.PutUint64(b[0x58:0x60], uint64(sb.FragsPerGroup))
	binary.LittleEndian.PutUint64(b[0x60:0x68], uint64(sb.InodesPerGroup))
	binary.LittleEndian.PutUint64(b[0x68:0x70], uint64(sb.Ncg))
	binary.LittleEndian.PutUint64(b[0x70:0x78], uint64(sb.Csaddr))
	binary.LittleEndian.PutUint64(b[0x78:0x80], uint64(sb.Cssize))
	binary.LittleEndian.PutUint64(b[0x80:0x88], uint64(sb.Cgsize))
	binary.LittleEndian.PutUint64(b[0x88:0x90], uint64(sb.Metaspace))
	binary.LittleEndian.PutUint32(b[0x90:0x94], uint32(sb.Minfree))
	binary.LittleEndian.PutUint32(b[0x94:0x98], uint32(sb.Optim))
	binary.LittleEndian.PutUint64(b[0x98:0xa0], sb.MaxFileSize)
	binary.LittleEndian.PutUint32(b[0xa0:0xa4], sb.CheckHash.toUint32())
	binary.LittleEndian.PutUint32(b[0xa4:0xa8], sb.Features.toUint32())
	binary.LittleEndian.PutUint64(b[0xa8:0xb0], uint64(sb.FsIDTime))
	binary.LittleEndian.PutUint32(b[0xb0:0xb4], sb.FsIDRand)
	binary.LittleEndian.PutUint32(b[0xb4:0xb8], uint32(sb.Time.Unix()))
	binary.LittleEndian.PutUint32(b[0xb8:0xbc], uint32(sb.Version))
	binary.LittleEndian.PutUint32(b[0xbc:0xc0], uint32(sb.FsbToDb))

	copy(b[0xc0:0xe0], []byte(sb.VolumeLabel))

	copy(b[0xe0:0xf0], sb.CsTotal.toBytes())
	copy(b[0xf0:0x100], sb.OldCsTotal.toBytes())
	binary.LittleEndian.PutUint32(b[0x100:0x104], uint32(sb.FragShift))
	binary.LittleEndian.PutUint32(b[0x104:0x108], uint32(sb.Density))

	// the check-hash field itself, zeroed during the hash computation.
	checkHashOffset := 0x108
	binary.LittleEndian.PutUint32(b[checkHashOffset:checkHashOffset+4], 0)

	sum := crc32c.Checksum(b)
	binary.LittleEndian.PutUint32(b[checkHashOffset:checkHashOffset+4], sum)

	return b, nil
}

// SuperblockFromBytes parses a superblock and verifies its check-hash
// when CheckHash.Superblock was set at format time (spec.md §8 invariant 4).
func SuperblockFromBytes(b []byte) (*Superblock, error) {
	if len(b) < sbLayoutSize {
		return nil, fmt.Errorf("superblock buffer too small: %d bytes", len(b))
	}
	sb := &Superblock{}
	sb.Magic = binary.LittleEndian.Uint32(b[0x00:0x04])
	if sb.Magic != fsMagicUFS1 && sb.Magic != fsMagicUFS2 && sb.Magic != fsMagicBadSB {
		return nil, fmt.Errorf("bad superblock magic %#x", sb.Magic)
	}
	sb.SblockLoc = int64(binary.LittleEndian.Uint64(b[0x04:0x0c]))
	sb.Sbsize = int64(binary.LittleEndian.Uint64(b[0x0c:0x14]))
	sb.Sector = int64(binary.LittleEndian.Uint64(b[0x14:0x1c]))
	sb.Bsize = int64(binary.LittleEndian.Uint64(b[0x1c:0x24]))
	sb.Fsize = int64(binary.LittleEndian.Uint64(b[0x24:0x2c]))
	sb.Frag = int64(binary.LittleEndian.Uint32(b[0x2c:0x30]))
	sb.MaxBsize = int64(binary.LittleEndian.Uint64(b[0x30:0x38]))
	sb.MaxContig = int64(binary.LittleEndian.Uint64(b[0x38:0x40]))
	sb.ContigSumSize = int64(binary.LittleEndian.Uint64(b[0x40:0x48]))
	sb.Size = int64(binary.LittleEndian.Uint64(b[0x48:0x50]))
	sb.Dsize = int64(binary.LittleEndian.Uint64(b[0x50:0x58]))
	sb.FragsPerGroup = int64(binary.LittleEndian.Uint64(b[0x58:0x60]))
	sb.InodesPerGroup = int64(binary.LittleEndian.Uint64(b[0x60:0x68]))
	sb.Ncg = int64(binary.LittleEndian.Uint64(b[0x68:0x70]))
	sb.Csaddr = int64(binary.LittleEndian.Uint64(b[0x70:0x78]))
	sb.Cssize = int64(binary.LittleEndian.Uint64(b[0x78:0x80]))
	sb.Cgsize = int64(binary.LittleEndian.Uint64(b[0x80:0x88]))
	sb.Metaspace = int64(binary.LittleEndian.Uint64(b[0x88:0x90]))
	sb.Minfree = int(binary.LittleEndian.Uint32(b[0x90:0x94]))
	sb.Optim = Optimization(binary.LittleEndian.Uint32(b[0x94:0x98]))
	sb.MaxFileSize = binary.LittleEndian.Uint64(b[0x98:0xa0])
	sb.CheckHash = checkHashFlagsFromUint32(binary.LittleEndian.Uint32(b[0xa0:0xa4]))
	sb.Features = featureFlagsFromUint32(binary.LittleEndian.Uint32(b[0xa4:0xa8]))
	sb.FsIDTime = int64(binary.LittleEndian.Uint64(b[0xa8:0xb0]))
	sb.FsIDRand = binary.LittleEndian.Uint32(b[0xb0:0xb4])
	sb.Time = time.Unix(int64(binary.LittleEndian.Uint32(b[0xb4:0xb8])), 0)
	sb.Version = Version(binary.LittleEndian.Uint32(b[0xb8:0xbc]))
	sb.FsbToDb = uint(binary.LittleEndian.Uint32(b[0xbc:0xc0]))
	sb.FragShift = uint(binary.LittleEndian.Uint32(b[0x100:0x104]))
	sb.Density = int64(binary.LittleEndian.Uint32(b[0x104:0x108]))

	label := b[0xc0:0xe0]
	n := 0
	for n < len(label) && label[n] != 0 {
		n++
	}
	sb.VolumeLabel = string(label[:n])

	sb.CsTotal = summaryEntryFromBytes(b[0xe0:0xf0])
	sb.OldCsTotal = summaryEntryFromBytes(b[0xf0:0x100])

	if sb.CheckHash.Superblock {
		checkHashOffset := 0x108
		stored := binary.LittleEndian.Uint32(b[checkHashOffset : checkHashOffset+4])
		tmp := make([]byte, sbLayoutSize)
		copy(tmp, b[:sbLayoutSize])
		binary.LittleEndian.PutUint32(tmp[checkHashOffset:checkHashOffset+4], 0)
		if crc32c.Checksum(tmp) != stored {
			return nil, fmt.Errorf("superblock check-hash mismatch: stored %#x computed %#x", stored, crc32c.Checksum(tmp))
		}
	}

	return sb, nil
}

// equal compares two superblocks for the logical fields that matter to
// callers (used by the engine's own tests). With ignoreVolatile set it
// ignores Time, FsIDTime and FsIDRand, which differ between runs unless
// regression-deterministic mode is on.
func (sb *Superblock) equal(o *Superblock, ignoreVolatile bool) bool {
	a, b := *sb, *o
	if ignoreVolatile {
		a.Time, b.Time = time.Time{}, time.Time{}
		a.FsIDTime, b.FsIDTime = 0, 0
		a.FsIDRand, b.FsIDRand = 0, 0
	}
	return a == b
}
