package ufs

import (
	"fmt"
	"math/bits"
)

const (
	minCylGroups int64 = 4 // MINCYLGRPS

	defaultMaxContig1MB int64 = 1 << 20
)

func isPowerOfTwo(n int64) bool { return n > 0 && n&(n-1) == 0 }

func nextPowerOfTwo(n int64) int64 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len64(uint64(n-1))
}

func log2(n int64) uint {
	return uint(bits.Len64(uint64(n)) - 1)
}

// Solve derives a fully-populated, self-consistent superblock from a
// device size and the tuning knobs in cfg -- the geometry solver of
// spec.md §4.D. It is the hard algorithmic core of the whole system.
func Solve(cfg Config) (*Superblock, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bsize := cfg.BlockSize
	fsize := cfg.FragSize
	sector := cfg.SectorSize

	if fsize <= 0 {
		fsize = sector
	}
	if fsize < sector {
		fsize = sector
	}
	if bsize <= 0 {
		bsize = 32768
	}
	if bsize < 4096 {
		bsize = 4096
	}
	if bsize > 65536 {
		bsize = 65536
	}
	if !isPowerOfTwo(bsize) {
		bsize = nextPowerOfTwo(bsize)
	}
	if !isPowerOfTwo(fsize) {
		fsize = nextPowerOfTwo(fsize)
	}
	if bsize < fsize {
		bsize = fsize
	}
	if fsize*8 < bsize {
		fsize = bsize / 8
	}

	density := cfg.BytesPerInode
	maxContig := cfg.MaxContig
	maxBlocksPerCG := cfg.MaxBlocksPerCG

	for {
		frag := bsize / fsize
		if frag < 1 || frag > 8 {
			return nil, &GeometryError{Code: ExitCGBufferOverflow, Msg: fmt.Sprintf("invalid frag/block ratio %d", frag)}
		}

		maxBsize := bsize
		if isPowerOfTwo(cfg.MaxExtent) && cfg.MaxExtent > bsize {
			if cfg.MaxExtent < 8*bsize {
				maxBsize = cfg.MaxExtent
			} else {
				maxBsize = 8 * bsize
			}
		}

		maxcontig := maxContig
		if maxcontig <= 0 {
			maxcontig = defaultMaxContig1MB / bsize
			if maxcontig < 1 {
				maxcontig = 1
			}
		}
		if maxcontig < maxBsize/bsize {
			maxcontig = maxBsize / bsize
		}
		contigSumSize := int64(0)
		if maxcontig > 1 {
			contigSumSize = maxcontig
			if contigSumSize > 8 {
				contigSumSize = 8
			}
		}

		fsbtodb := log2(fsize / sector)

		size := cfg.DeviceBytes/sector/(fsize/sector) - cfg.ReservedBlocks*sector/fsize

		ptr := ptrSize(cfg.Version)
		maxfilesize := uint64(bsize)*12 - 1
		sizepb := uint64(bsize)
		for i := 1; i <= niAddr; i++ {
			sizepb *= uint64(bsize) / uint64(ptr)
			maxfilesize += uint64(bsize) * sizepb
		}

		maxinum := int64(1<<32) - bsize/inodeSize(cfg.Version)
		minFragsPerInode := int64(1) + size/maxinum

		if density <= 0 {
			density = maxI64(2, minFragsPerInode) * fsize
		} else if density < minFragsPerInode*fsize {
			density = minFragsPerInode * fsize
		}
		origDensity := density

		sb, err := sizeGroups(cfg, bsize, fsize, frag, int64(fsbtodb), size, density, minFragsPerInode, maxBlocksPerCG, contigSumSize)
		if err != nil {
			if _, ok := err.(*retryDoubleErr); ok {
				bsize *= 2
				fsize *= 2
				density = 0
				continue
			}
			return nil, err
		}

		sb.Version = cfg.Version
		sb.Sector = sector
		sb.MaxBsize = maxBsize
		sb.MaxContig = maxcontig
		sb.ContigSumSize = contigSumSize
		sb.MaxBpg = cfg.MaxBlocksPerFilePerGroup
		sb.FsbToDb = fsbtodb
		sb.MaxFileSize = maxfilesize
		sb.Density = origDensity
		sb.Minfree = cfg.MinFreePercent
		sb.Optim = cfg.Optimization
		sb.VolumeLabel = cfg.VolumeLabel
		sb.Features = featureFlags{
			SoftUpdates:        cfg.EnableSoftUpdates,
			SoftUpdatesJournal: cfg.EnableSoftUpdatesJournal,
			Gjournal:           cfg.EnableGjournal,
			MultilabelMAC:      cfg.MultilabelMAC,
			TRIM:               cfg.TRIM,
		}
		sb.CheckHash = checkHashFlags{
			Superblock: cfg.Version == Version2,
			CylGroup:   cfg.Version == Version2,
			Inode:      cfg.Version == Version2,
		}
		if cfg.Version == Version1 {
			sb.SblockLoc = SblockUFS1
		} else {
			sb.SblockLoc = SblockUFS2
		}
		sb.Sbsize = minI64(sblockMaxSize, roundUp(sbLayoutSize, fsize))
		// the group layout depends on SblockLoc/Sbsize, so the summary
		// address is taken again now that both are known.
		sb.Csaddr = sb.cgdmin(0)
		sb.Dsize = size - sb.Csaddr - sb.Cssize/fsize
		if maxfilesize < uint64(size) {
			// Warn: snapshots will be impossible. The caller's logger
			// surfaces this; Solve itself only reports hard errors.
			_ = maxfilesize
		}

		// metaspace: half of minfree by default, capped at fpg/2, with
		// the three-valued unset/zero-disabled/positive semantics from
		// spec.md's Design Notes.
		sb.Metaspace = metaspaceFor(cfg.MetadataReserve, sb.Minfree, sb.FragsPerGroup)

		sb.Magic = fsMagicBadSB // sentinel until every group + root dir succeed

		return sb, nil
	}
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

type retryDoubleErr struct{}

func (e *retryDoubleErr) Error() string { return "retry with doubled block/frag size" }

// sizeGroups implements spec.md §4.D steps 4-7: the group-sizing loop,
// growing groups to the ceiling, trimming the last group, and finalizing
// the counters.
func sizeGroups(cfg Config, bsize, fsize, frag, fsbtodb, size, density, minFragsPerInode, maxBlocksPerCG, contigSumSize int64) (*Superblock, error) {
	inodesPerBlock := bsize / inodeSize(cfg.Version)
	if inodesPerBlock < 1 {
		inodesPerBlock = 1
	}

	ipg := inodesPerBlock
	var fpg int64

	for {
		fragsPerInode := maxI64(1, density/fsize)
		iblkno := roundUp(inodesPerBlock, frag) // placeholder distance; real geometry folds this into cgdmin
		minFpg := roundUp(maxI64(iblkno+ipg/inodesPerBlock, bsize/fsize), frag)

		fpg = roundUp(iblkno+ipg/inodesPerBlock, frag)
		if fpg < minFpg {
			fpg = minFpg
		}
		ipg = roundUp(int64(ceilDiv(fpg, fragsPerInode)), inodesPerBlock)
		fpg = roundUp(iblkno+ipg/inodesPerBlock, frag)

		sbTrial := trialSuperblock(cfg, bsize, fsize, frag, fpg, ipg, contigSumSize)
		if sbTrial.CGSize() < bsize-8 {
			break
		}

		density -= fsize
		if density <= 0 || fragsPerInode < minFragsPerInode {
			return nil, &retryDoubleErr{}
		}
	}

	// grow groups to the ceiling (step 5)
	for {
		candidateFpg := fpg + frag
		candidateIpg := roundUp(int64(ceilDiv(candidateFpg, maxI64(1, density/fsize))), inodesPerBlock)
		groupCount := ceilDiv(size, candidateFpg)
		if groupCount < minCylGroups {
			break
		}
		if maxBlocksPerCG > 0 && candidateFpg/frag >= maxBlocksPerCG {
			break
		}
		sbTrial := trialSuperblock(cfg, bsize, fsize, frag, candidateFpg, candidateIpg, contigSumSize)
		if sbTrial.CGSize() == bsize-8 {
			break
		}
		if cfg.Version == Version1 && candidateIpg > 32767 {
			break
		}
		fpg = candidateFpg
		ipg = candidateIpg
	}

	if cfg.Version == Version1 && ipg > 32767 {
		ipg = 32767
		fpg = roundUp(ipg/inodesPerBlock, frag)
	}

	ncg := ceilDiv(size, fpg)
	if ncg < 1 {
		return nil, &GeometryError{Code: ExitTooSmall, Msg: "filesystem too small for even one cylinder group"}
	}

	// trim the last group (step 6)
	lastGroupFrags := size - fpg*(ncg-1)
	lastMinFpg := roundUp(maxI64(roundUp(inodesPerBlock, frag)+ipg/inodesPerBlock, bsize/fsize), frag)
	for lastGroupFrags < lastMinFpg && fpg > frag {
		fpg -= frag
		ncg = ceilDiv(size, fpg)
		lastGroupFrags = size - fpg*(ncg-1)
	}
	if size < lastMinFpg {
		return nil, &GeometryError{Code: ExitTooSmall, Msg: "filesystem too small for a viable last cylinder group"}
	}

	sb := trialSuperblock(cfg, bsize, fsize, frag, fpg, ipg, contigSumSize)
	sb.Size = size
	sb.Ncg = ncg
	sb.Cgsize = roundUp(sb.CGSize(), fsize)
	sb.Csaddr = sb.cgdmin(0)
	sb.Cssize = roundUp(ncg*summaryEntrySize, fsize)
	sb.Dsize = size - sb.Csaddr - sb.Cssize/fsize

	return sb, nil
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func trialSuperblock(cfg Config, bsize, fsize, frag, fpg, ipg, contigSumSize int64) *Superblock {
	return &Superblock{
		Version:        cfg.Version,
		Bsize:          bsize,
		Fsize:          fsize,
		Frag:           frag,
		FragShift:      log2(frag),
		FragsPerGroup:  fpg,
		InodesPerGroup: ipg,
		ContigSumSize:  contigSumSize,
		Sector:         cfg.SectorSize,
	}
}

// metaspaceFor implements the three-valued unset/zero-disabled/positive
// rule from spec.md's Design Notes for the -k option.
func metaspaceFor(reserve *int, minfree int, fpg int64) int64 {
	if reserve == nil {
		half := int64(minfree) * fpg / 100 / 2
		if half > fpg/2 {
			half = fpg / 2
		}
		return half
	}
	if *reserve == 0 {
		return 0
	}
	m := int64(*reserve) * fpg / 100
	if m > fpg/2 {
		m = fpg / 2
	}
	return m
}
