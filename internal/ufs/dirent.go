package ufs

import "encoding/binary"

// dirBlockSize is DIRBLKSIZ: every directory block is a multiple of this,
// and the last record in a block is stretched to consume the remainder
// (spec.md §3 "Directory record").
const dirBlockSize = 512

// dirEntry is {inode_number, record_length, type, name_length, name[]},
// spec.md §3.
type dirEntry struct {
	Ino     uint32
	RecLen  uint16
	Type    uint8
	NameLen uint8
	Name    string
}

const (
	dirTypeUnknown uint8 = 0
	dirTypeDir     uint8 = 2
)

// entryLen returns the minimum 4-byte-aligned record length for a name
// of the given length.
func entryLen(nameLen int) uint16 {
	const fixed = 8 // ino(4) + reclen(2) + type(1) + namelen(1)
	total := fixed + nameLen
	return uint16(roundUp(int64(total), 4))
}

// buildDirBlock lays out entries sequentially into one dirBlockSize
// buffer, stretching the final entry's RecLen to consume the remainder
// of the block (spec.md §3, §4.F).
func buildDirBlock(entries []dirEntry) []byte {
	buf := make([]byte, dirBlockSize)
	off := 0
	for idx, e := range entries {
		recLen := entryLen(len(e.Name))
		if idx == len(entries)-1 {
			recLen = uint16(dirBlockSize - off)
		}
		binary.LittleEndian.PutUint32(buf[off:off+4], e.Ino)
		binary.LittleEndian.PutUint16(buf[off+4:off+6], recLen)
		buf[off+6] = e.Type
		buf[off+7] = uint8(len(e.Name))
		copy(buf[off+8:off+8+len(e.Name)], e.Name)
		off += int(recLen)
	}
	return buf
}

func parseDirBlock(buf []byte) []dirEntry {
	var entries []dirEntry
	off := 0
	for off+8 <= len(buf) {
		ino := binary.LittleEndian.Uint32(buf[off : off+4])
		recLen := binary.LittleEndian.Uint16(buf[off+4 : off+6])
		typ := buf[off+6]
		nameLen := buf[off+7]
		if recLen == 0 {
			break
		}
		if ino != 0 {
			name := string(buf[off+8 : off+8+int(nameLen)])
			entries = append(entries, dirEntry{Ino: ino, RecLen: recLen, Type: typ, NameLen: nameLen, Name: name})
		}
		off += int(recLen)
	}
	return entries
}
