package ufs

import "time"

// writeSummary writes the summary array at csaddr, in fragment-sized
// chunks, ahead of the superblock that refers to it (spec.md §4.G,
// §5 "Summary array is written before the superblock referring to it").
func writeSummary(d *device, sb *Superblock, summary []summaryEntry) error {
	buf := make([]byte, sb.Cssize)
	off := 0
	for _, e := range summary {
		copy(buf[off:off+summaryEntrySize], e.toBytes())
		off += summaryEntrySize
	}
	sector := sb.fsbToDb(sb.Csaddr)
	return writeFragBuffer(d, sb, sector, buf)
}

func writeFragBuffer(d *device, sb *Superblock, startSector int64, buf []byte) error {
	sectorsPerFrag := sb.Fsize / sb.Sector
	chunk := int(sb.Fsize)
	sector := startSector
	for off := 0; off < len(buf); off += chunk {
		end := off + chunk
		if end > len(buf) {
			end = len(buf)
		}
		piece := make([]byte, chunk)
		copy(piece, buf[off:end])
		if err := d.writeSkip(sector, piece, chunk); err != nil {
			return err
		}
		sector += sectorsPerFrag
	}
	return nil
}

// writeSuperblock renders sb and writes it to its primary location and,
// when alternates is true, to every backup superblock address
// (spec.md §4.G). It sets sb.Time just before rendering (or the
// regression-mode fixed epoch), applies the UFS1 legacy-field rewrite,
// and installs the CRC32C check-hash as the final step of ToBytes.
func writeSuperblock(d *device, sb *Superblock, deterministic bool, alternates bool) error {
	if deterministic {
		sb.Time = time.Unix(1000000000, 0)
	} else {
		sb.Time = time.Now()
	}

	if sb.Version == Version1 {
		sb.OldCsTotal = sb.CsTotal
	}

	bytes, err := sb.ToBytes()
	if err != nil {
		return err
	}

	primarySector := sb.SblockLoc / sb.Sector
	if err := d.writeSkip(primarySector, bytes, len(bytes)); err != nil {
		return err
	}

	if alternates {
		for g := int64(1); g < sb.Ncg; g++ {
			sector := sb.fsbToDb(sb.cgsblock(g))
			if err := d.writeSkip(sector, bytes, len(bytes)); err != nil {
				return err
			}
		}
	}
	return nil
}

// backupSuperblockSectors returns the sector address of every backup
// superblock, group 1..ncg-1, for the §6 "pretty-printing" collaborator.
func backupSuperblockSectors(sb *Superblock) []int64 {
	out := make([]int64, 0, sb.Ncg-1)
	for g := int64(1); g < sb.Ncg; g++ {
		out = append(out, sb.fsbToDb(sb.cgsblock(g)))
	}
	return out
}
