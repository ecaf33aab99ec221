package ufs

import (
	"time"

	"github.com/nfsutil/go-ufs/backend"
)

// Result carries everything a caller (cmd/newfs) needs to report on a
// completed (or dry-run) format.
type Result struct {
	Superblock        *Superblock
	BackupSuperblocks []int64 // sector numbers, for the §6 pretty-printed report
}

// Format drives the whole pipeline described in spec.md §2 "Data flow":
// solve the geometry (D), initialize every cylinder group (E), build the
// root directory once group 0 exists (F), rewrite the primary superblock
// with final statistics and its backups (G), and write the UFS2 recovery
// block (H). It is the single owning engine value the spec.md Design
// Notes call for: no package-level globals, everything threaded through
// this call.
func Format(store backend.Storage, cfg Config, log Logger) (*Result, error) {
	if log == nil {
		log = defaultLogger()
	}

	sb, err := Solve(cfg)
	if err != nil {
		return nil, err
	}
	log.Infof("geometry: bsize=%d fsize=%d frag=%d fpg=%d ipg=%d ncg=%d size=%d",
		sb.Bsize, sb.Fsize, sb.Frag, sb.FragsPerGroup, sb.InodesPerGroup, sb.Ncg, sb.Size)

	if sb.MaxFileSize < uint64(sb.Size) {
		log.Warnf("maximum file size %d is smaller than the filesystem size %d fragments: snapshots will be impossible", sb.MaxFileSize, sb.Size)
	}

	sb.FsIDTime, sb.FsIDRand = newFsIdentity(cfg.Deterministic, time.Now().Unix())

	if cfg.StopAfterStage == StageGeometry {
		return &Result{Superblock: sb}, nil
	}

	dev := newDevice(store, cfg.SectorSize, cfg.DeviceBytes, cfg.DryRun)

	realMagic := fsMagicUFS2
	if sb.Version == Version1 {
		realMagic = fsMagicUFS1
	}

	// spec.md §4.D step 8 / §5: write the sentinel "bad magic" superblock
	// before any cylinder group is written, so an interrupted run cannot
	// be mounted.
	sb.Magic = fsMagicBadSB
	if err := writeSuperblock(dev, sb, cfg.Deterministic, false); err != nil {
		return nil, err
	}
	sb.Magic = realMagic

	now := time.Now()
	if cfg.Deterministic {
		now = time.Unix(1000000000, 0)
	}

	gen := newGenerationSource(cfg.Deterministic)

	cgs := make([]*cylGroup, sb.Ncg)
	summary := make([]summaryEntry, sb.Ncg)

	for g := int64(0); g < sb.Ncg; g++ {
		cg, err := buildCylinderGroup(sb, g, now)
		if err != nil {
			return nil, err
		}
		cgs[g] = cg
		summary[g] = cg.Cs

		log.Debugf("cylinder group %d: free blocks=%d free frags=%d free inodes=%d", g, cg.Cs.FreeBlocks, cg.Cs.FreeFrags, cg.Cs.FreeInodes)

		if err := writeCylinderGroup(dev, sb, cg, cfg.Deterministic); err != nil {
			return nil, err
		}
		if err := writeInodeTablePrefix(dev, sb, cg, gen); err != nil {
			return nil, err
		}
	}

	if cfg.StopAfterStage == StageCylinderGroups {
		return &Result{Superblock: sb}, nil
	}

	var operatorGID uint32
	if cfg.OperatorGID != nil {
		operatorGID = *cfg.OperatorGID
	}
	rootResult, err := fsinit(sb, cgs, now, operatorGID, !cfg.NoSnap)
	if err != nil {
		return nil, err
	}
	if err := writeRootDirectory(dev, sb, rootResult); err != nil {
		return nil, err
	}
	summary[0] = cgs[0].Cs

	if cfg.StopAfterStage == StageRootDir {
		return &Result{Superblock: sb}, nil
	}

	sb.CsTotal = aggregateSummary(summary)

	if err := writeSummary(dev, sb, summary); err != nil {
		return nil, err
	}

	// final pass: real magic, final aggregate stats, every backup
	// superblock rewritten (spec.md §4.G, §5).
	if err := writeSuperblock(dev, sb, cfg.Deterministic, true); err != nil {
		return nil, err
	}

	if cfg.StopAfterStage == StageSuperblock {
		return &Result{Superblock: sb, BackupSuperblocks: backupSuperblockSectors(sb)}, nil
	}

	if err := writeRecoveryBlock(dev, sb); err != nil {
		return nil, err
	}

	return &Result{Superblock: sb, BackupSuperblocks: backupSuperblockSectors(sb)}, nil
}

func aggregateSummary(summary []summaryEntry) summaryEntry {
	var total summaryEntry
	for _, e := range summary {
		total.FreeDirs += e.FreeDirs
		total.FreeBlocks += e.FreeBlocks
		total.FreeInodes += e.FreeInodes
		total.FreeFrags += e.FreeFrags
	}
	return total
}

// writeCylinderGroup performs spec.md §4.E steps 5-6: it writes a backup
// superblock at the group's reserved slot (restoring sb's own
// SblockLoc afterwards, since only the field's transient value differs),
// then serializes and writes the cylinder group image itself.
func writeCylinderGroup(d *device, sb *Superblock, cg *cylGroup, deterministic bool) error {
	if cg.Index > 0 {
		backupSector := sb.fsbToDb(sb.cgsblock(cg.Index))
		savedLoc := sb.SblockLoc
		sb.SblockLoc = sb.cgsblock(cg.Index) * sb.Fsize
		bytes, err := sb.ToBytes()
		sb.SblockLoc = savedLoc
		if err != nil {
			return err
		}
		if err := d.writeSkip(backupSector, bytes, len(bytes)); err != nil {
			return err
		}
	}

	cgSector := sb.fsbToDb(sb.cgtod(cg.Index))
	buf := cg.toBytes(sb)
	return d.writeSkip(cgSector, buf, len(buf))
}

// writeInodeTablePrefix implements spec.md §4.E step 7: it randomizes
// generation numbers for the initialized prefix of the group's inode
// table and writes them in a two-block I/O buffer; under UFS1 every
// further full inode block of the group is also randomized and written.
func writeInodeTablePrefix(d *device, sb *Superblock, cg *cylGroup, gen *generationSource) error {
	inodeSz := int(inodeSize(sb.Version))
	inodesPerBlock := int(sb.Bsize) / inodeSz

	writeRun := func(startInode, count int64) error {
		blockFrag := sb.cgimin(cg.Index) + (startInode/int64(inodesPerBlock))*sb.Frag
		buf := make([]byte, int(count)*inodeSz)
		for i := int64(0); i < count; i++ {
			ino := &inode{Version: sb.Version, Gen: gen.next()}
			copy(buf[i*int64(inodeSz):(i+1)*int64(inodeSz)], ino.toBytes(sb.CheckHash.Inode))
		}
		sector := sb.fsbToDb(blockFrag)
		return d.writeSkip(sector, buf, len(buf))
	}

	if err := writeRun(0, cg.InitediBlk); err != nil {
		return err
	}

	if sb.Version == Version1 && cg.NiBlk > cg.InitediBlk {
		if err := writeRun(cg.InitediBlk, cg.NiBlk-cg.InitediBlk); err != nil {
			return err
		}
	}
	return nil
}

// writeRootDirectory writes the root (and optional .snap) data block(s)
// first, then installs each new inode into its containing inode block by
// reading that block, overwriting the one slot, and writing it back --
// spec.md §4.F "re-reading and re-writing that inode block atomically".
//
// The spec.md Open Questions flag a source bug where this step writes at
// ino_to_fsba(sb, 0) instead of ino_to_fsba(sb, ino); this implementation
// uses the corrected address for every inode, not just the root.
func writeRootDirectory(d *device, sb *Superblock, r *rootDirResult) error {
	for _, bw := range r.Blocks {
		data := make([]byte, sb.Bsize)
		copy(data, bw.Data)
		sector := sb.fsbToDb(bw.Frag)
		if err := d.writeSkip(sector, data, len(data)); err != nil {
			return err
		}
	}

	inodeSz := int(inodeSize(sb.Version))
	inodesPerBlock := int64(sb.Bsize) / int64(inodeSz)

	for _, iw := range r.Inodes {
		group := int64(iw.Ino-1) / sb.InodesPerGroup // ino_to_cg, 1 is the first valid inode slot below ROOTINO
		localIno := int64(iw.Ino-1) % sb.InodesPerGroup
		blockFrag := sb.cgimin(group) + (localIno/inodesPerBlock)*sb.Frag
		sector := sb.fsbToDb(blockFrag)

		buf := make([]byte, sb.Bsize)
		if err := d.readAt(sector, buf, int(sb.Bsize)); err != nil {
			return err
		}

		slot := int(localIno % inodesPerBlock)
		copy(buf[slot*inodeSz:(slot+1)*inodeSz], iw.Inode.toBytes(sb.CheckHash.Inode))

		if err := d.writeSkip(sector, buf, len(buf)); err != nil {
			return err
		}
	}
	return nil
}
