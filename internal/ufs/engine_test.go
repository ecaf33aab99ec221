package ufs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nfsutil/go-ufs/backend/file"
)

func testEmptyImage(t *testing.T, size int64) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ufs.img")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create image: %v", err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		t.Fatalf("truncate image: %v", err)
	}
	return path
}

// TestFormatS1RootDirectory matches spec.md's S1 scenario: a 64 MiB UFS2
// device with default block/frag sizes produces a root inode with mode
// 040755 and three directory entries.
func TestFormatS1RootDirectory(t *testing.T) {
	path := testEmptyImage(t, 64<<20)
	store, err := file.OpenFromPath(path, false)
	if err != nil {
		t.Fatalf("OpenFromPath: %v", err)
	}
	defer store.Close()

	cfg := Config{
		Version: Version2, SectorSize: 512, DeviceBytes: 64 << 20,
		MinFreePercent: 8, Deterministic: true,
	}
	result, err := Format(store, cfg, nil)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if result.Superblock.Magic != fsMagicUFS2 {
		t.Errorf("expected the final magic to be the real UFS2 magic, got %#x", result.Superblock.Magic)
	}

	// the root directory takes the first whole free block after group 0's
	// summary array, which itself starts at cgdmin(0).
	sb := result.Superblock
	rootBuf := make([]byte, sb.Bsize)
	sector := sb.fsbToDb(roundUp(sb.cgdmin(0)+sb.Cssize/sb.Fsize, sb.Frag))
	if _, err := store.ReadAt(rootBuf, sector*cfg.SectorSize); err != nil {
		t.Fatalf("reading the root directory block: %v", err)
	}
	entries := parseDirBlock(rootBuf)
	if len(entries) != 3 {
		t.Fatalf("expected 3 directory entries (., .., .snap), got %d: %+v", len(entries), entries)
	}

	inodeBuf := make([]byte, result.Superblock.Bsize)
	inodeSector := result.Superblock.fsbToDb(result.Superblock.cgimin(0))
	if _, err := store.ReadAt(inodeBuf, inodeSector*cfg.SectorSize); err != nil {
		t.Fatalf("reading the inode table: %v", err)
	}
	rootInode := inodeFromBytes(inodeBuf[int(rootIno-1)*int(inodeSize(Version2)):], Version2)
	if rootInode.Mode != modeDir|0755 {
		t.Errorf("expected root inode mode 040755, got %o", rootInode.Mode)
	}
}

// TestFormatS3NoSnap matches spec.md's S3 scenario: -n suppresses .snap.
func TestFormatS3NoSnap(t *testing.T) {
	path := testEmptyImage(t, 64<<20)
	store, err := file.OpenFromPath(path, false)
	if err != nil {
		t.Fatalf("OpenFromPath: %v", err)
	}
	defer store.Close()

	cfg := Config{
		Version: Version2, SectorSize: 512, DeviceBytes: 64 << 20,
		MinFreePercent: 8, Deterministic: true, NoSnap: true,
	}
	result, err := Format(store, cfg, nil)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}

	sb := result.Superblock
	rootBuf := make([]byte, sb.Bsize)
	sector := sb.fsbToDb(roundUp(sb.cgdmin(0)+sb.Cssize/sb.Fsize, sb.Frag))
	if _, err := store.ReadAt(rootBuf, sector*cfg.SectorSize); err != nil {
		t.Fatalf("reading the root directory block: %v", err)
	}
	entries := parseDirBlock(rootBuf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 directory entries (., ..) with -n, got %d: %+v", len(entries), entries)
	}
	for _, e := range entries {
		if e.Name == ".snap" {
			t.Errorf(".snap entry present despite NoSnap")
		}
	}
}

// TestFormatS2UFS1RecoveryBlockZeroed matches spec.md's S2 scenario: UFS1
// has no recovery record, so the last 20 bytes before SBLOCK_UFS2 stay zero.
func TestFormatS2UFS1RecoveryBlockZeroed(t *testing.T) {
	path := testEmptyImage(t, 16<<20)
	store, err := file.OpenFromPath(path, false)
	if err != nil {
		t.Fatalf("OpenFromPath: %v", err)
	}
	defer store.Close()

	cfg := Config{
		Version: Version1, SectorSize: 512, DeviceBytes: 16 << 20,
		BlockSize: 8192, FragSize: 1024, MinFreePercent: 8, Deterministic: true,
	}
	result, err := Format(store, cfg, nil)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if result.Superblock.InodesPerGroup > 32767 {
		t.Errorf("UFS1 ipg %d exceeds the 15-bit field", result.Superblock.InodesPerGroup)
	}

	sector := (SblockUFS2 - cfg.SectorSize) / cfg.SectorSize
	tail := make([]byte, cfg.SectorSize)
	if _, err := store.ReadAt(tail, sector*cfg.SectorSize); err != nil {
		t.Fatalf("reading the recovery sector: %v", err)
	}
	tailBytes := tail[len(tail)-recoveryRecordSize:]
	for i, b := range tailBytes {
		if b != 0 {
			t.Errorf("expected the UFS1 recovery tail to stay zero, byte %d = %#x", i, b)
		}
	}
}

// TestFormatS5DryRunWritesNothing matches spec.md's S5 scenario.
func TestFormatS5DryRunWritesNothing(t *testing.T) {
	path := testEmptyImage(t, 64<<20)
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading pristine image: %v", err)
	}

	store, err := file.OpenFromPath(path, false)
	if err != nil {
		t.Fatalf("OpenFromPath: %v", err)
	}
	defer store.Close()

	cfg := Config{
		Version: Version2, SectorSize: 512, DeviceBytes: 64 << 20,
		MinFreePercent: 8, Deterministic: true, DryRun: true,
	}
	result, err := Format(store, cfg, nil)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if len(result.BackupSuperblocks) == 0 {
		t.Errorf("expected the backup superblock report to still be populated in dry-run mode")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading image after dry run: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("image size changed during dry run")
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("dry run wrote to the image at offset %d", i)
		}
	}
}

// TestFormatDeterministicIsReproducible runs Format twice with identical,
// regression-deterministic configuration and checks the two images match
// byte for byte -- the engine has no hidden non-deterministic state once
// Deterministic is set.
func TestFormatDeterministicIsReproducible(t *testing.T) {
	cfg := Config{
		Version: Version2, SectorSize: 512, DeviceBytes: 8 << 20,
		MinFreePercent: 8, Deterministic: true,
	}

	run := func() []byte {
		path := testEmptyImage(t, cfg.DeviceBytes)
		store, err := file.OpenFromPath(path, false)
		if err != nil {
			t.Fatalf("OpenFromPath: %v", err)
		}
		defer store.Close()
		if _, err := Format(store, cfg, nil); err != nil {
			t.Fatalf("Format: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading image: %v", err)
		}
		return data
	}

	a := run()
	b := run()
	if len(a) != len(b) {
		t.Fatalf("image sizes differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("deterministic runs diverged at byte offset %d: %#x vs %#x", i, a[i], b[i])
		}
	}
}

// TestFormatTooSmallDeviceExitsCleanly matches spec.md's S6 scenario.
func TestFormatTooSmallDeviceExitsCleanly(t *testing.T) {
	path := testEmptyImage(t, 2<<20)
	store, err := file.OpenFromPath(path, false)
	if err != nil {
		t.Fatalf("OpenFromPath: %v", err)
	}
	defer store.Close()

	cfg := Config{Version: Version2, SectorSize: 512, DeviceBytes: 2 << 20, MinFreePercent: 8}
	_, err = Format(store, cfg, nil)
	if err == nil {
		t.Fatalf("expected an error for a 2 MiB device")
	}
	if ExitCode(err) == 0 {
		t.Errorf("expected a non-zero exit code, got 0")
	}
}
