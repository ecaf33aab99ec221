package ufs

import "testing"

// checkGeometryInvariants verifies testable property 1: bsize/fsize are
// powers of two, frag is in {1,2,4,8}, the cylinder group header fits in
// bsize-8 bytes, sbsize is bounded, there is at least one group, and
// UFS1's inodes-per-group stays within its 15-bit field.
func checkGeometryInvariants(t *testing.T, sb *Superblock) {
	t.Helper()
	if !isPowerOfTwo(sb.Bsize) {
		t.Errorf("bsize %d is not a power of two", sb.Bsize)
	}
	if !isPowerOfTwo(sb.Fsize) {
		t.Errorf("fsize %d is not a power of two", sb.Fsize)
	}
	switch sb.Frag {
	case 1, 2, 4, 8:
	default:
		t.Errorf("frag %d not in {1,2,4,8}", sb.Frag)
	}
	if sb.CGSize() > sb.Bsize-8 {
		t.Errorf("CGSize() %d exceeds bsize-8 (%d)", sb.CGSize(), sb.Bsize-8)
	}
	if sb.Sbsize > 8192 {
		t.Errorf("sbsize %d exceeds 8192", sb.Sbsize)
	}
	if sb.Ncg < 1 {
		t.Errorf("group count %d is less than 1", sb.Ncg)
	}
	if sb.Version == Version1 && sb.InodesPerGroup > 32767 {
		t.Errorf("UFS1 ipg %d exceeds 32767", sb.InodesPerGroup)
	}
}

func TestSolveInvariantsAcrossConfigs(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"S1-64MiB-ufs2-default", Config{Version: Version2, SectorSize: 512, DeviceBytes: 64 << 20, MinFreePercent: 8}},
		{"S2-16MiB-ufs1-8192-1024", Config{Version: Version1, SectorSize: 512, DeviceBytes: 16 << 20, BlockSize: 8192, FragSize: 1024, MinFreePercent: 8}},
		{"S4-1GiB-ufs2-65536-8192", Config{Version: Version2, SectorSize: 512, DeviceBytes: 1 << 30, BlockSize: 65536, FragSize: 8192, MinFreePercent: 8}},
		{"small-4MiB-ufs2-default", Config{Version: Version2, SectorSize: 512, DeviceBytes: 4 << 20, MinFreePercent: 8}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sb, err := Solve(tc.cfg)
			if err != nil {
				t.Fatalf("Solve: %v", err)
			}
			checkGeometryInvariants(t, sb)
		})
	}
}

// TestSolveS1DefaultBlockFragSizes matches spec.md's S1 scenario: a 64 MiB
// UFS2 device with default b/f resolves to 32 KiB blocks, 4 KiB fragments.
func TestSolveS1DefaultBlockFragSizes(t *testing.T) {
	sb, err := Solve(Config{Version: Version2, SectorSize: 512, DeviceBytes: 64 << 20, MinFreePercent: 8})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if sb.Bsize != 32768 {
		t.Errorf("expected bsize=32768, got %d", sb.Bsize)
	}
	if sb.Fsize != 4096 {
		t.Errorf("expected fsize=4096, got %d", sb.Fsize)
	}
}

// TestSolveS4ClusterSummaryEnabled matches spec.md's S4 scenario: large
// block/frag sizes enable an 8-entry cluster summary.
func TestSolveS4ClusterSummaryEnabled(t *testing.T) {
	sb, err := Solve(Config{Version: Version2, SectorSize: 512, DeviceBytes: 1 << 30, BlockSize: 65536, FragSize: 8192, MinFreePercent: 8})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if sb.ContigSumSize != 8 {
		t.Errorf("expected contigsumsize=8, got %d", sb.ContigSumSize)
	}
}

// TestSolveTooSmallDevice matches spec.md's S6 scenario: a device smaller
// than one viable cylinder group is rejected with a GeometryError rather
// than a partially-built filesystem.
func TestSolveTooSmallDevice(t *testing.T) {
	_, err := Solve(Config{Version: Version2, SectorSize: 512, DeviceBytes: 64 * 1024, MinFreePercent: 8})
	if err == nil {
		t.Fatalf("expected an error for a device too small for one cylinder group")
	}
	if _, ok := err.(*GeometryError); !ok {
		t.Fatalf("expected *GeometryError, got %T: %v", err, err)
	}
}

func TestSolveRejectsBadConfig(t *testing.T) {
	_, err := Solve(Config{Version: 9, SectorSize: 512, DeviceBytes: 1 << 20})
	if err == nil {
		t.Fatalf("expected a ConfigError for an unknown version")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
}

func TestSolveMetadataReserveThreeValued(t *testing.T) {
	base := Config{Version: Version2, SectorSize: 512, DeviceBytes: 64 << 20, MinFreePercent: 8}

	sbDefault, err := Solve(base)
	if err != nil {
		t.Fatalf("Solve (default): %v", err)
	}

	zero := 0
	withZero := base
	withZero.MetadataReserve = &zero
	sbZero, err := Solve(withZero)
	if err != nil {
		t.Fatalf("Solve (k=0): %v", err)
	}
	if sbZero.Metaspace != 0 {
		t.Errorf("expected metaspace=0 when -k 0 is given, got %d", sbZero.Metaspace)
	}

	explicit := 20
	withExplicit := base
	withExplicit.MetadataReserve = &explicit
	sbExplicit, err := Solve(withExplicit)
	if err != nil {
		t.Fatalf("Solve (k=20): %v", err)
	}
	if sbExplicit.Metaspace == sbZero.Metaspace {
		t.Errorf("expected a positive metaspace reserve to differ from the disabled case")
	}
	_ = sbDefault
}
