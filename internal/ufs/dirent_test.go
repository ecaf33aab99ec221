package ufs

import "testing"

func TestBuildAndParseDirBlock(t *testing.T) {
	entries := []dirEntry{
		{Ino: rootIno, Type: dirTypeDir, Name: "."},
		{Ino: rootIno, Type: dirTypeDir, Name: ".."},
		{Ino: snapInode, Type: dirTypeDir, Name: ".snap"},
	}
	buf := buildDirBlock(entries)
	if len(buf) != dirBlockSize {
		t.Fatalf("expected a %d-byte block, got %d", dirBlockSize, len(buf))
	}

	parsed := parseDirBlock(buf)
	if len(parsed) != len(entries) {
		t.Fatalf("expected %d entries, parsed %d", len(entries), len(parsed))
	}
	for idx, e := range entries {
		if parsed[idx].Ino != e.Ino || parsed[idx].Name != e.Name || parsed[idx].Type != e.Type {
			t.Errorf("entry %d mismatch: got %+v want ino=%d name=%q type=%d", idx, parsed[idx], e.Ino, e.Name, e.Type)
		}
	}

	var total uint16
	for i := 0; i+8 <= len(buf); {
		recLen := uint16(buf[i+4]) | uint16(buf[i+5])<<8
		if recLen == 0 {
			break
		}
		total += recLen
		i += int(recLen)
	}
	if total != dirBlockSize {
		t.Errorf("record lengths should stretch to fill the block: summed to %d, want %d", total, dirBlockSize)
	}
}
