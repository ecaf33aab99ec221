package ufs

import "fmt"

// fragBitmap packs per-fragment free/used bits the way a UFS cylinder
// group's fragment-free map does: one bit per fragment, so when frag==8
// each byte holds the eight fragment bits of one whole block; for frag
// in {1,2,4} each byte holds 8/frag block-sized groups, one
// nibble/pair/single-bit per block. A set bit marks a free fragment.
// It mirrors the shape of util/bitmap.Bitmap and ext4's internal bitmap
// type, generalized for the block/fragment duality UFS needs.
type fragBitmap struct {
	bits []byte
	frag int // fragments per block: 1, 2, 4, or 8
}

// newFragBitmap allocates a zeroed (all in use) bitmap covering nfrags
// fragments, frag fragments per block.
func newFragBitmap(nfrags int, frag int) *fragBitmap {
	nbytes := (nfrags + 7) / 8
	return &fragBitmap{bits: make([]byte, nbytes), frag: frag}
}

func fragBitmapFromBytes(b []byte, frag int) *fragBitmap {
	bits := make([]byte, len(b))
	copy(bits, b)
	return &fragBitmap{bits: bits, frag: frag}
}

func (m *fragBitmap) toBytes() []byte {
	out := make([]byte, len(m.bits))
	copy(out, m.bits)
	return out
}

// setFrag / clearFrag / isFrag operate on a single fragment index,
// regardless of frags-per-block.
func (m *fragBitmap) setFrag(i int) error {
	byteNo, bitNo := i/8, uint(i%8)
	if byteNo >= len(m.bits) {
		return fmt.Errorf("fragment %d out of range of %d-byte bitmap", i, len(m.bits))
	}
	m.bits[byteNo] |= 1 << bitNo
	return nil
}

func (m *fragBitmap) clearFrag(i int) error {
	byteNo, bitNo := i/8, uint(i%8)
	if byteNo >= len(m.bits) {
		return fmt.Errorf("fragment %d out of range of %d-byte bitmap", i, len(m.bits))
	}
	m.bits[byteNo] &^= 1 << bitNo
	return nil
}

func (m *fragBitmap) isFrag(i int) (bool, error) {
	byteNo, bitNo := i/8, uint(i%8)
	if byteNo >= len(m.bits) {
		return false, fmt.Errorf("fragment %d out of range of %d-byte bitmap", i, len(m.bits))
	}
	return m.bits[byteNo]&(1<<bitNo) != 0, nil
}

// setBlock / clearBlock / isBlock operate on a whole block, identified by
// its fragment index h (a multiple of frag). setBlock sets all frag bits
// covering that block in one go, matching the source's setblock/clrblock
// macros for frag in {1,2,4,8}.
func (m *fragBitmap) setBlock(h int) error {
	for f := 0; f < m.frag; f++ {
		if err := m.setFrag(h + f); err != nil {
			return err
		}
	}
	return nil
}

func (m *fragBitmap) clearBlock(h int) error {
	for f := 0; f < m.frag; f++ {
		if err := m.clearFrag(h + f); err != nil {
			return err
		}
	}
	return nil
}

func (m *fragBitmap) isBlock(h int) (bool, error) {
	for f := 0; f < m.frag; f++ {
		set, err := m.isFrag(h + f)
		if err != nil {
			return false, err
		}
		if !set {
			return false, nil
		}
	}
	return true, nil
}

// singleBitmap is a plain one-bit-per-entry map, used for the inode-used
// and cluster-free maps (which are never frag-packed).
type singleBitmap struct {
	bits []byte
}

func newSingleBitmap(nbits int) *singleBitmap {
	return &singleBitmap{bits: make([]byte, (nbits+7)/8)}
}

func singleBitmapFromBytes(b []byte) *singleBitmap {
	bits := make([]byte, len(b))
	copy(bits, b)
	return &singleBitmap{bits: bits}
}

func (m *singleBitmap) toBytes() []byte {
	out := make([]byte, len(m.bits))
	copy(out, m.bits)
	return out
}

func (m *singleBitmap) set(i int) error {
	byteNo, bitNo := i/8, uint(i%8)
	if byteNo >= len(m.bits) {
		return fmt.Errorf("index %d out of range of %d-byte bitmap", i, len(m.bits))
	}
	m.bits[byteNo] |= 1 << bitNo
	return nil
}

func (m *singleBitmap) clear(i int) error {
	byteNo, bitNo := i/8, uint(i%8)
	if byteNo >= len(m.bits) {
		return fmt.Errorf("index %d out of range of %d-byte bitmap", i, len(m.bits))
	}
	m.bits[byteNo] &^= 1 << bitNo
	return nil
}

func (m *singleBitmap) isSet(i int) (bool, error) {
	byteNo, bitNo := i/8, uint(i%8)
	if byteNo >= len(m.bits) {
		return false, fmt.Errorf("index %d out of range of %d-byte bitmap", i, len(m.bits))
	}
	return m.bits[byteNo]&(1<<bitNo) != 0, nil
}

// isBlockFree reports whether every fragment of the block at index h is
// set (free).
func (m *fragBitmap) isBlockFree(h int) (bool, error) {
	return m.isBlock(h)
}

// findFirstFreeBlock scans for the first whole free block (all frag bits
// for that block index are set), starting at fragment 0, stepping by
// frag, up to limit fragments. Returns -1 if none found. This is the scan
// fsinit uses to allocate the root directory's single block.
func (m *fragBitmap) findFirstFreeBlock(limit int) int {
	for h := 0; h < limit; h += m.frag {
		free, err := m.isBlockFree(h)
		if err == nil && free {
			return h
		}
	}
	return -1
}
