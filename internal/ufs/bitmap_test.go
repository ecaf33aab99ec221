package ufs

import "testing"

func TestFragBitmapSetClearFrag(t *testing.T) {
	m := newFragBitmap(32, 4)
	if set, err := m.isFrag(5); err != nil || set {
		t.Fatalf("fragment 5 should start free, got set=%v err=%v", set, err)
	}
	if err := m.setFrag(5); err != nil {
		t.Fatalf("setFrag: %v", err)
	}
	if set, err := m.isFrag(5); err != nil || !set {
		t.Fatalf("fragment 5 should be set, got set=%v err=%v", set, err)
	}
	if err := m.clearFrag(5); err != nil {
		t.Fatalf("clearFrag: %v", err)
	}
	if set, _ := m.isFrag(5); set {
		t.Fatalf("fragment 5 should be clear after clearFrag")
	}
}

func TestFragBitmapSetBlockTouchesAllFragments(t *testing.T) {
	m := newFragBitmap(32, 4)
	if err := m.setBlock(8); err != nil {
		t.Fatalf("setBlock: %v", err)
	}
	for f := 8; f < 12; f++ {
		set, err := m.isFrag(f)
		if err != nil || !set {
			t.Fatalf("fragment %d should be set by setBlock(8), got set=%v err=%v", f, set, err)
		}
	}
	whole, err := m.isBlock(8)
	if err != nil || !whole {
		t.Fatalf("isBlock(8) should report true after setBlock, got %v err=%v", whole, err)
	}
	if err := m.clearFrag(9); err != nil {
		t.Fatalf("clearFrag: %v", err)
	}
	if whole, _ := m.isBlock(8); whole {
		t.Fatalf("isBlock(8) should be false once one fragment is cleared")
	}
}

func TestFragBitmapFindFirstFreeBlock(t *testing.T) {
	m := newFragBitmap(32, 4)
	for h := 0; h < 32; h += 4 {
		if err := m.setBlock(h); err != nil {
			t.Fatalf("setBlock(%d): %v", h, err)
		}
	}
	if err := m.clearBlock(0); err != nil {
		t.Fatalf("clearBlock: %v", err)
	}
	h := m.findFirstFreeBlock(32)
	if h != 4 {
		t.Fatalf("expected first free block at fragment 4, got %d", h)
	}
	for h := 0; h < 32; h += 4 {
		if err := m.clearBlock(h); err != nil {
			t.Fatalf("clearBlock(%d): %v", h, err)
		}
	}
	if h := m.findFirstFreeBlock(32); h != -1 {
		t.Fatalf("expected -1 once every block is allocated, got %d", h)
	}
}

func TestFragBitmapRoundTrip(t *testing.T) {
	m := newFragBitmap(64, 8)
	for _, h := range []int{0, 8, 40} {
		if err := m.setBlock(h); err != nil {
			t.Fatalf("setBlock(%d): %v", h, err)
		}
	}
	m2 := fragBitmapFromBytes(m.toBytes(), 8)
	for i := 0; i < 64; i++ {
		a, errA := m.isFrag(i)
		b, errB := m2.isFrag(i)
		if errA != nil || errB != nil {
			t.Fatalf("isFrag(%d) errors: %v / %v", i, errA, errB)
		}
		if a != b {
			t.Fatalf("fragment %d mismatch after round trip: %v != %v", i, a, b)
		}
	}
}

func TestSingleBitmapSetClear(t *testing.T) {
	m := newSingleBitmap(16)
	if err := m.set(3); err != nil {
		t.Fatalf("set: %v", err)
	}
	set, err := m.isSet(3)
	if err != nil || !set {
		t.Fatalf("bit 3 should be set, got %v err=%v", set, err)
	}
	if err := m.clear(3); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if set, _ := m.isSet(3); set {
		t.Fatalf("bit 3 should be clear")
	}
}

func TestBitmapOutOfRange(t *testing.T) {
	m := newSingleBitmap(8)
	if _, err := m.isSet(100); err == nil {
		t.Fatalf("expected an out-of-range error")
	}
}
