package ufs

import (
	"testing"
	"time"
)

// TestCylinderGroupFreeAccounting checks, for every freshly built group,
// that the whole free blocks in the fragment-free map match cg.Cs, that
// the clustersum histogram counts the free-cluster runs (property 3), and
// that the frsum histogram is non-negative.
func TestCylinderGroupFreeAccounting(t *testing.T) {
	sb, err := Solve(Config{Version: Version2, SectorSize: 512, DeviceBytes: 64 << 20, MinFreePercent: 8})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	now := time.Unix(1000000000, 0)
	for g := int64(0); g < sb.Ncg; g++ {
		cg, err := buildCylinderGroup(sb, g, now)
		if err != nil {
			t.Fatalf("buildCylinderGroup(%d): %v", g, err)
		}

		var freeBlocks, usedBlocks int64
		for h := int64(0); h < cg.NdBlk; h += sb.Frag {
			free, err := cg.Free.isBlockFree(int(h))
			if err != nil {
				t.Fatalf("isBlockFree(%d) in group %d: %v", h, g, err)
			}
			if free {
				freeBlocks++
			} else {
				usedBlocks++
			}
		}
		if freeBlocks != int64(cg.Cs.FreeBlocks) {
			t.Errorf("group %d: counted %d free blocks, cg.Cs reports %d", g, freeBlocks, cg.Cs.FreeBlocks)
		}

		if cg.ClusterFree != nil {
			var sum int64
			for _, v := range cg.ClusterSum {
				sum += int64(v)
			}
			nclusters := sb.FragsPerGroup / sb.Frag
			var runs int64
			inRun := false
			for i := int64(0); i < nclusters; i++ {
				free, _ := cg.ClusterFree.isSet(int(i))
				if free && !inRun {
					runs++
				}
				inRun = free
			}
			if sum != runs {
				t.Errorf("group %d: clustersum entries total %d, expected %d free-cluster runs", g, sum, runs)
			}
		}

		var frsumTotal int32
		for _, v := range cg.Frsum {
			frsumTotal += v
		}
		if frsumTotal < 0 {
			t.Errorf("group %d: frsum histogram has a negative total %d", g, frsumTotal)
		}
	}
}

// TestCylinderGroupRoundTrip checks testable property 4: the check-hash
// recomputed from a parsed cylinder group image matches the value stored
// at format time.
func TestCylinderGroupRoundTrip(t *testing.T) {
	sb, err := Solve(Config{Version: Version2, SectorSize: 512, DeviceBytes: 64 << 20, MinFreePercent: 8})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	sb.CheckHash.CylGroup = true

	cg, err := buildCylinderGroup(sb, 0, time.Unix(1000000000, 0))
	if err != nil {
		t.Fatalf("buildCylinderGroup: %v", err)
	}

	buf := cg.toBytes(sb)
	parsed, err := cylGroupFromBytes(buf, sb)
	if err != nil {
		t.Fatalf("cylGroupFromBytes: %v", err)
	}
	if parsed.NdBlk != cg.NdBlk || parsed.NiBlk != cg.NiBlk || parsed.Index != cg.Index {
		t.Errorf("round-tripped cylinder group header mismatch: got %+v want NdBlk=%d NiBlk=%d Index=%d",
			parsed, cg.NdBlk, cg.NiBlk, cg.Index)
	}
}
