package ufs

import (
	"testing"
	"time"
)

// TestSuperblockRoundTrip checks testable properties 4 and 5: the
// check-hash verifies, and decoding a written superblock reproduces the
// same logical fields.
func TestSuperblockRoundTrip(t *testing.T) {
	sb, err := Solve(Config{Version: Version2, SectorSize: 512, DeviceBytes: 64 << 20, MinFreePercent: 8, VolumeLabel: "TESTVOL"})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	sb.Magic = fsMagicUFS2
	sb.CheckHash.Superblock = true
	sb.Time = time.Unix(1000000000, 0) // fits a uint32 second count without truncation

	buf, err := sb.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}

	parsed, err := SuperblockFromBytes(buf)
	if err != nil {
		t.Fatalf("SuperblockFromBytes: %v", err)
	}

	if !parsed.equal(sb, false) {
		t.Errorf("round-tripped superblock does not equal the original:\n got  %+v\n want %+v", *parsed, *sb)
	}
}

func TestSuperblockRejectsCorruptedCheckHash(t *testing.T) {
	sb, err := Solve(Config{Version: Version2, SectorSize: 512, DeviceBytes: 64 << 20, MinFreePercent: 8})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	sb.Magic = fsMagicUFS2
	sb.CheckHash.Superblock = true

	buf, err := sb.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	buf[0x20] ^= 0xff // corrupt a byte inside the hashed region

	if _, err := SuperblockFromBytes(buf); err == nil {
		t.Fatalf("expected a check-hash mismatch error for a corrupted buffer")
	}
}

func TestSuperblockVolumeLabelValidation(t *testing.T) {
	cfg := Config{Version: Version2, SectorSize: 512, DeviceBytes: 64 << 20, MinFreePercent: 8, VolumeLabel: "not a valid label!"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation to reject a label with spaces and punctuation")
	}
}
