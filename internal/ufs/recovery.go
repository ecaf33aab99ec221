package ufs

import "encoding/binary"

// recoveryRecordSize is the fixed 20-byte tail record a repair tool
// reads to reconstruct a lost UFS2 superblock (spec.md §4.H, §6).
const recoveryRecordSize = 20

// writeRecoveryBlock writes the recovery record into the last 20 bytes
// of the sector preceding SBLOCK_UFS2, for UFS2; for UFS1 it zeroes
// those bytes instead (spec.md §4.H).
func writeRecoveryBlock(d *device, sb *Superblock) error {
	sector := (SblockUFS2 - sb.Sector) / sb.Sector
	buf := make([]byte, sb.Sector)
	if err := d.readAt(sector, buf, int(sb.Sector)); err != nil {
		return err
	}

	tailOff := int(sb.Sector) - recoveryRecordSize
	if sb.Version == Version2 {
		binary.LittleEndian.PutUint32(buf[tailOff+0x00:tailOff+0x04], sb.Magic)
		binary.LittleEndian.PutUint32(buf[tailOff+0x04:tailOff+0x08], uint32(sb.FragsPerGroup))
		binary.LittleEndian.PutUint32(buf[tailOff+0x08:tailOff+0x0c], uint32(sb.FsbToDb))
		binary.LittleEndian.PutUint32(buf[tailOff+0x0c:tailOff+0x10], uint32(sb.fsbToDb(sb.SblockLoc/sb.Fsize)))
		binary.LittleEndian.PutUint32(buf[tailOff+0x10:tailOff+0x14], uint32(sb.Ncg))
	} else {
		for i := 0; i < recoveryRecordSize; i++ {
			buf[tailOff+i] = 0
		}
	}

	return d.writeSkip(sector, buf, int(sb.Sector))
}
