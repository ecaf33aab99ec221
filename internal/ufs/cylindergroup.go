package ufs

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nfsutil/go-ufs/internal/crc32c"
)

const (
	cgMagic uint32 = 0x090255

	// cgHeaderFixedSize is the size, in bytes, of the fixed portion of a
	// cylinder group header preceding its bitmaps (magic, index, time,
	// counts, the aggregate summary for this group, internal offsets,
	// and the check-hash at 0x44) -- spec.md §3 "Cylinder group header".
	cgHeaderFixedSize = 0x48
)

// cylGroup is one cylinder group's header plus its bitmaps
// (spec.md §3 "Cylinder group header", §4.E).
type cylGroup struct {
	Magic      uint32
	Index      int64
	Time       time.Time
	NdBlk      int64 // fragments described by this group (cgdmax-cgbase upper bound)
	Cs         summaryEntry
	NiBlk      int64 // inodes in this group
	InitediBlk int64 // prefix of the inode table initialized at format time

	IUsedOff      int64
	FreeOff       int64
	ClusterSumOff int64
	ClusterOff    int64

	Frsum      [9]int32 // frsum[1..frag], index 0 unused
	ClusterSum []int32  // len contigsumsize+1, index 0 unused

	CheckHash uint32

	IUsed       *singleBitmap
	Free        *fragBitmap
	ClusterFree *singleBitmap
}

// newCylGroup allocates the zeroed structures for group index g, sized
// per the superblock geometry.
func newCylGroup(sb *Superblock, g int64) *cylGroup {
	cg := &cylGroup{
		Magic: cgMagic,
		Index: g,
		NiBlk: sb.InodesPerGroup,
		Free:  newFragBitmap(int(sb.FragsPerGroup), int(sb.Frag)),
		IUsed: newSingleBitmap(int(sb.InodesPerGroup)),
	}
	inodesPerBlock := sb.Bsize / inodeSize(sb.Version)
	cg.InitediBlk = minI64(sb.InodesPerGroup, 2*inodesPerBlock)
	if sb.ContigSumSize > 0 {
		nclusters := sb.FragsPerGroup / sb.Frag
		cg.ClusterFree = newSingleBitmap(int(nclusters))
		cg.ClusterSum = make([]int32, sb.ContigSumSize+1)
	}
	// internal offsets, laid out sequentially after the fixed header.
	off := int64(cgHeaderFixedSize)
	cg.IUsedOff = off
	off += roundUpDiv(sb.InodesPerGroup, 8)
	cg.FreeOff = off
	off += roundUpDiv(sb.FragsPerGroup, 8)
	if sb.ContigSumSize > 0 {
		cg.ClusterSumOff = off
		off += (sb.ContigSumSize + 1) * 4
		cg.ClusterOff = off
		nclusters := sb.FragsPerGroup / sb.Frag
		off += roundUpDiv(nclusters, 8)
	}
	return cg
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// buildCylinderGroup performs spec.md §4.E steps 1-4 (everything that
// does not require device I/O): it computes cbase/dlower/dupper/dmax,
// marks reserved inodes and reserved/free blocks, and accumulates the
// frsum/clustersum histograms. The caller (engine.go) is responsible for
// step 5 (writing the backup superblock), step 6 (CRC + writing the cg
// image) and step 7 (randomizing and writing inode generation numbers).
func buildCylinderGroup(sb *Superblock, g int64, now time.Time) (*cylGroup, error) {
	cg := newCylGroup(sb, g)
	cg.Time = now

	cbase := sb.cgbase(g)
	dmax := cbase + sb.FragsPerGroup
	if dmax > sb.Size {
		dmax = sb.Size
	}
	cg.NdBlk = dmax - cbase

	dataStart := sb.cgdmin(g) - cbase
	dupper := dataStart
	if g == 0 {
		dupper += sb.Cssize / sb.Fsize
	}
	// dlower is the small gap before the group's backup-superblock slot
	// (cg.c initcg()); [dlower, dupper) -- the backup superblock slot,
	// cg header and inode table -- stays reserved for every group.
	dlower := sb.cgsblock(g) - cbase

	// all inodes start free; group 0 reserves inode-map slots 0 and 1.
	freeInodes := sb.InodesPerGroup
	if g == 0 {
		if err := cg.IUsed.set(0); err != nil {
			return nil, err
		}
		if err := cg.IUsed.set(1); err != nil {
			return nil, err
		}
		freeInodes -= 2
	}
	cg.Cs.FreeInodes = int32(freeInodes)

	var freeBlocks, freeFrags int64

	markWholeBlocks := func(fromFrag, toFrag int64) error {
		for h := fromFrag; h+sb.Frag <= toFrag; h += sb.Frag {
			if err := cg.Free.setBlock(int(h)); err != nil {
				return err
			}
			freeBlocks++
			if cg.ClusterFree != nil {
				if err := cg.ClusterFree.set(int(h / sb.Frag)); err != nil {
					return err
				}
			}
		}
		return nil
	}

	markPartial := func(fromFrag, toFrag int64) error {
		for i := fromFrag; i < toFrag; i++ {
			if err := cg.Free.setFrag(int(i)); err != nil {
				return err
			}
			freeFrags++
		}
		r := toFrag - fromFrag
		if r > 0 && r < sb.Frag {
			cg.Frsum[sb.Frag-r]++
		}
		return nil
	}

	// [0, dlower) is free in every group except group 0, where that
	// span is reserved for the primary superblock (cg.c initcg() only
	// frees it "if (cylno > 0)").
	if g > 0 {
		wholeLower := dlower - (dlower % sb.Frag)
		if err := markWholeBlocks(0, wholeLower); err != nil {
			return nil, err
		}
		if err := markPartial(wholeLower, dlower); err != nil {
			return nil, err
		}
	}

	// residual fragment at dupper, then whole blocks up to dmax.
	resid := dupper % sb.Frag
	nextWhole := dupper
	if resid != 0 {
		nextWhole = dupper + (sb.Frag - resid)
		if err := markPartial(dupper, minI64(nextWhole, cg.NdBlk)); err != nil {
			return nil, err
		}
	}
	if err := markWholeBlocks(nextWhole, cg.NdBlk); err != nil {
		return nil, err
	}

	cg.Cs.FreeBlocks = int32(freeBlocks)
	cg.Cs.FreeFrags = int32(freeFrags)
	cg.Cs.FreeDirs = 0

	if cg.ClusterFree != nil {
		updateClusterSum(cg, sb)
	}

	return cg, nil
}

// updateClusterSum walks the cluster-free bitmap run-length encoding it
// into cg.ClusterSum, capped at contigsumsize (spec.md §4.E step 3).
func updateClusterSum(cg *cylGroup, sb *Superblock) {
	nclusters := int(sb.FragsPerGroup / sb.Frag)
	run := 0
	flush := func() {
		if run == 0 {
			return
		}
		capped := run
		if int64(capped) > sb.ContigSumSize {
			capped = int(sb.ContigSumSize)
		}
		cg.ClusterSum[capped]++
		run = 0
	}
	for i := 0; i < nclusters; i++ {
		free, _ := cg.ClusterFree.isSet(i)
		if free {
			run++
		} else {
			flush()
		}
	}
	flush()
}

// toBytes serializes the cylinder group header and bitmaps into a
// cgsize-byte buffer, computing the CRC32C check-hash last (spec.md
// §4.E step 6) when enabled.
func (cg *cylGroup) toBytes(sb *Superblock) []byte {
	buf := make([]byte, sb.CGSize())

	binary.LittleEndian.PutUint32(buf[0x00:0x04], cg.Magic)
	binary.LittleEndian.PutUint32(buf[0x04:0x08], uint32(cg.Index))
	binary.LittleEndian.PutUint32(buf[0x08:0x0c], uint32(cg.Time.Unix()))
	binary.LittleEndian.PutUint64(buf[0x0c:0x14], uint64(cg.NdBlk))
	binary.LittleEndian.PutUint64(buf[0x14:0x1c], uint64(cg.NiBlk))
	binary.LittleEndian.PutUint64(buf[0x1c:0x24], uint64(cg.InitediBlk))
	copy(buf[0x24:0x34], cg.Cs.toBytes())
	binary.LittleEndian.PutUint64(buf[0x34:0x3c], uint64(cg.IUsedOff))
	binary.LittleEndian.PutUint64(buf[0x3c:0x44], uint64(cg.FreeOff))
	// checkhash written last, at 0x44:0x48, inside the fixed header.

	off := int64(cgHeaderFixedSize)
	copy(buf[off:off+int64(len(cg.IUsed.toBytes()))], cg.IUsed.toBytes())
	off = cg.FreeOff
	copy(buf[off:off+int64(len(cg.Free.toBytes()))], cg.Free.toBytes())

	if cg.ClusterSum != nil {
		off = cg.ClusterSumOff
		for i, v := range cg.ClusterSum {
			binary.LittleEndian.PutUint32(buf[off+int64(i)*4:off+int64(i)*4+4], uint32(v))
		}
		off = cg.ClusterOff
		copy(buf[off:off+int64(len(cg.ClusterFree.toBytes()))], cg.ClusterFree.toBytes())
	}

	// frsum is stored after all bitmap regions, frag entries of 4 bytes.
	frsumOff := sb.CGSize() - sb.Frag*4
	for i := int64(0); i < sb.Frag; i++ {
		binary.LittleEndian.PutUint32(buf[frsumOff+i*4:frsumOff+i*4+4], uint32(cg.Frsum[i+1]))
	}

	if sb.CheckHash.CylGroup {
		binary.LittleEndian.PutUint32(buf[0x44:0x48], 0)
		sum := crc32c.Checksum(buf)
		cg.CheckHash = sum
		binary.LittleEndian.PutUint32(buf[0x44:0x48], sum)
	}

	return buf
}

// cylGroupFromBytes parses a cylinder group image, verifying its
// check-hash if present (spec.md §8 invariant 4).
func cylGroupFromBytes(buf []byte, sb *Superblock) (*cylGroup, error) {
	if int64(len(buf)) < sb.CGSize() {
		return nil, fmt.Errorf("cylinder group buffer too small: %d bytes, need %d", len(buf), sb.CGSize())
	}
	cg := &cylGroup{}
	cg.Magic = binary.LittleEndian.Uint32(buf[0x00:0x04])
	if cg.Magic != cgMagic {
		return nil, fmt.Errorf("bad cylinder group magic %#x", cg.Magic)
	}
	cg.Index = int64(binary.LittleEndian.Uint32(buf[0x04:0x08]))
	cg.Time = time.Unix(int64(binary.LittleEndian.Uint32(buf[0x08:0x0c])), 0)
	cg.NdBlk = int64(binary.LittleEndian.Uint64(buf[0x0c:0x14]))
	cg.NiBlk = int64(binary.LittleEndian.Uint64(buf[0x14:0x1c]))
	cg.InitediBlk = int64(binary.LittleEndian.Uint64(buf[0x1c:0x24]))
	cg.Cs = summaryEntryFromBytes(buf[0x24:0x34])
	cg.IUsedOff = int64(binary.LittleEndian.Uint64(buf[0x34:0x3c]))
	cg.FreeOff = int64(binary.LittleEndian.Uint64(buf[0x3c:0x44]))

	if sb.CheckHash.CylGroup {
		stored := binary.LittleEndian.Uint32(buf[0x44:0x48])
		tmp := make([]byte, len(buf))
		copy(tmp, buf)
		binary.LittleEndian.PutUint32(tmp[0x44:0x48], 0)
		sum := crc32c.Checksum(tmp)
		if sum != stored {
			return nil, fmt.Errorf("cylinder group %d check-hash mismatch: stored %#x computed %#x", cg.Index, stored, sum)
		}
		cg.CheckHash = stored
	}

	iusedLen := roundUpDiv(sb.InodesPerGroup, 8)
	cg.IUsed = singleBitmapFromBytes(buf[cg.IUsedOff : cg.IUsedOff+iusedLen])
	freeLen := roundUpDiv(sb.FragsPerGroup, 8)
	cg.Free = fragBitmapFromBytes(buf[cg.FreeOff:cg.FreeOff+freeLen], int(sb.Frag))

	frsumOff := sb.CGSize() - sb.Frag*4
	for i := int64(0); i < sb.Frag; i++ {
		cg.Frsum[i+1] = int32(binary.LittleEndian.Uint32(buf[frsumOff+i*4 : frsumOff+i*4+4]))
	}

	return cg, nil
}
