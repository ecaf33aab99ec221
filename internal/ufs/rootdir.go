package ufs

import "time"

// snapInode is UFS_ROOTINO+1, the well-known .snap directory inode
// (spec.md §3, §4.F).
const snapInode = rootIno + 1

// fsinit allocates the root directory's single data block out of group
// 0's fragment-free map, builds the root (and optional .snap) inode and
// directory records, and returns them as pending writes for the engine's
// writeRootDirectory -- spec.md §4.F.
//
// It must run after every cylinder group has been built, since it
// mutates group 0's free-block accounting and inode-used bitmap.
func fsinit(sb *Superblock, cgs []*cylGroup, now time.Time, operatorGID uint32, withSnap bool) (*rootDirResult, error) {
	cg0 := cgs[0]

	h := cg0.Free.findFirstFreeBlock(int(cg0.NdBlk))
	if h < 0 {
		return nil, &GeometryError{Code: ExitFirstGroupExhausted, Msg: "group 0 has no free block for the root directory"}
	}
	if err := cg0.Free.clearBlock(h); err != nil {
		return nil, err
	}
	cg0.Cs.FreeBlocks--
	cg0.Cs.FreeDirs++
	if cg0.ClusterFree != nil {
		_ = cg0.ClusterFree.clear(h / int(sb.Frag))
	}

	rootBlockFrag := sb.cgbase(0) + int64(h)

	entries := []dirEntry{
		{Ino: rootIno, Type: dirTypeDir, Name: "."},
		{Ino: rootIno, Type: dirTypeDir, Name: ".."},
	}
	if withSnap {
		entries = append(entries, dirEntry{Ino: snapInode, Type: dirTypeDir, Name: ".snap"})
	}
	rootBlock := buildDirBlock(entries)

	rootInode := &inode{
		Version: sb.Version,
		Mode:    modeDir | 0755,
		Links:   uint16(len(entries)),
		Size:    dirBlockSize,
		Atime:   now, Mtime: now, Ctime: now, Birthtime: now,
		Blocks: uint64(roundUp(dirBlockSize, sb.Fsize) / sb.Sector),
		Gen:    1,
	}
	rootInode.Direct[0] = uint64(sb.fsbToDb(rootBlockFrag))

	writes := []inodeWrite{
		{Ino: rootIno, Inode: rootInode},
	}
	blocks := []blockWrite{
		{Frag: rootBlockFrag, Data: rootBlock},
	}

	if withSnap {
		cg0.Cs.FreeInodes-- // .snap consumes inode ROOTINO+1

		snapEntries := []dirEntry{
			{Ino: snapInode, Type: dirTypeDir, Name: "."},
			{Ino: rootIno, Type: dirTypeDir, Name: ".."},
		}
		snapBlock := buildDirBlock(snapEntries)

		snapH := cg0.Free.findFirstFreeBlock(int(cg0.NdBlk))
		if snapH < 0 {
			return nil, &GeometryError{Code: ExitFirstGroupExhausted, Msg: "group 0 has no free block for .snap"}
		}
		if err := cg0.Free.clearBlock(snapH); err != nil {
			return nil, err
		}
		cg0.Cs.FreeBlocks--
		cg0.Cs.FreeDirs++
		if cg0.ClusterFree != nil {
			_ = cg0.ClusterFree.clear(snapH / int(sb.Frag))
		}
		snapBlockFrag := sb.cgbase(0) + int64(snapH)

		snapI := &inode{
			Version: sb.Version,
			Mode:    modeDirSticky | 0755,
			Links:   2,
			GID:     operatorGID,
			Size:    dirBlockSize,
			Atime:   now, Mtime: now, Ctime: now, Birthtime: now,
			Blocks: uint64(roundUp(dirBlockSize, sb.Fsize) / sb.Sector),
			Gen:    1,
		}
		snapI.Direct[0] = uint64(sb.fsbToDb(snapBlockFrag))

		writes = append(writes, inodeWrite{Ino: snapInode, Inode: snapI})
		blocks = append(blocks, blockWrite{Frag: snapBlockFrag, Data: snapBlock})
	}

	return &rootDirResult{Inodes: writes, Blocks: blocks}, nil
}

// rootDirResult carries the pending writes the engine performs once
// root-directory construction has finished mutating group 0's
// in-memory state: the data block(s) are written first, then the inode
// block that will hold the new inode(s) is re-read and re-written
// atomically (spec.md §4.F).
type rootDirResult struct {
	Inodes []inodeWrite
	Blocks []blockWrite
}

type inodeWrite struct {
	Ino   uint32
	Inode *inode
}

type blockWrite struct {
	Frag int64
	Data []byte
}
