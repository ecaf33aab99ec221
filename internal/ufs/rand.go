package ufs

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/google/uuid"
)

// generationSource supplies inode generation numbers. In
// regression-deterministic mode it is an incrementing counter starting
// at 1; otherwise it draws from a cryptographic RNG (spec.md §4.E
// "Randomization").
//
// No library in the retrieved corpus supplies a CSPRNG; crypto/rand is
// the standard-library, ecosystem-idiomatic choice for this and is kept
// deliberately (see DESIGN.md).
type generationSource struct {
	deterministic bool
	counter       uint32
}

func newGenerationSource(deterministic bool) *generationSource {
	return &generationSource{deterministic: deterministic, counter: 1}
}

func (g *generationSource) next() uint32 {
	if g.deterministic {
		v := g.counter
		g.counter++
		return v
	}
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand.Read on a supported platform does not fail; if it
		// somehow does, fall back to the deterministic counter rather
		// than leaving a zero generation number on disk.
		v := g.counter
		g.counter++
		return v
	}
	return binary.LittleEndian.Uint32(b[:])
}

// newFsIdentity mints the superblock's filesystem identity: a time seed
// plus a random word. The random half is derived from a freshly minted
// UUID's bytes, following the teacher's own practice of minting a
// google/uuid value at format time (ext4.Create's fsuuid) rather than
// hand-rolling a PRNG.
func newFsIdentity(deterministic bool, nowUnix int64) (timeSeed int64, randWord uint32) {
	if deterministic {
		return 1000000000, 0
	}
	id := uuid.New()
	return nowUnix, binary.LittleEndian.Uint32(id[0:4])
}
