// Command newfs formats a raw block device (or image file) with a UFS1
// or UFS2 filesystem: the primary superblock, cylinder groups, backup
// superblocks, the root directory, and (UFS2) a recovery record.
package main

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/nfsutil/go-ufs/backend/file"
	"github.com/nfsutil/go-ufs/internal/ufs"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("newfs", pflag.ContinueOnError)

	var (
		erase         bool
		gjournal      bool
		label         string
		dryRun        bool
		version       int
		regression    bool
		sectorSize    int64
		softUpdates   bool
		stopAfter     string
		softJournal   bool
		metadataReserveStr string
		multilabel    bool
		minFree       int
		noSnap        bool
		optim         string
		reservedSecs  int64
		sizeOverride  int64
		trim          bool
		maxContig     int64
		blockSize     int64
		maxBlocksPerCG int64
		maxExtent     int64
		maxBlocksPerFilePerGroup int64
		bytesPerInode int64
		avgFileSize   int64
		avgFilesPerDir int64
		fragSize      int64
	)

	fs.BoolVarP(&erase, "erase", "E", false, "erase (TRIM/zero) the device before formatting")
	fs.BoolVarP(&gjournal, "gjournal", "J", false, "enable gjournal")
	fs.StringVarP(&label, "label", "L", "", "volume label")
	fs.BoolVarP(&dryRun, "dry-run", "N", false, "do not write anything")
	fs.IntVarP(&version, "version", "O", 2, "UFS format version, 1 or 2")
	fs.BoolVarP(&regression, "regression", "R", false, "regression-deterministic mode")
	fs.Int64VarP(&sectorSize, "sector-size", "S", 512, "sector size in bytes")
	fs.BoolP("ignored-T", "T", false, "accepted, ignored")
	fs.BoolVarP(&softUpdates, "soft-updates", "U", false, "enable soft updates")
	fs.StringVarP(&stopAfter, "stop-after", "X", "", "exit after the named stage (testing)")
	fs.Int64VarP(&maxContig, "max-contig", "a", 0, "maximum contiguous blocks")
	fs.Int64VarP(&blockSize, "block-size", "b", 0, "block size in bytes")
	fs.Int64VarP(&maxBlocksPerCG, "max-blocks-per-cg", "c", 0, "maximum blocks per cylinder group")
	fs.Int64VarP(&maxExtent, "max-extent", "d", 0, "maximum extent size")
	fs.Int64VarP(&maxBlocksPerFilePerGroup, "max-blocks-per-file-per-cg", "e", 0, "maximum blocks a single file may claim from one cylinder group")
	fs.Int64VarP(&fragSize, "frag-size", "f", 0, "fragment size in bytes")
	fs.Int64VarP(&avgFileSize, "avg-file-size", "g", 0, "average file size")
	fs.Int64VarP(&avgFilesPerDir, "avg-files-per-dir", "h", 0, "average files per directory")
	fs.Int64VarP(&bytesPerInode, "bytes-per-inode", "i", 0, "bytes per inode")
	fs.BoolVarP(&softJournal, "soft-updates-journal", "j", false, "enable soft-updates journaling (implies -U)")
	fs.StringVarP(&metadataReserveStr, "metadata-reserve", "k", "", "metadata reserve percent (0 disables)")
	fs.BoolVarP(&multilabel, "multilabel", "l", false, "enable multilabel MAC")
	fs.IntVarP(&minFree, "min-free", "m", 8, "minimum free space percent")
	fs.BoolVarP(&noSnap, "no-snap", "n", false, "do not create .snap")
	fs.StringVarP(&optim, "optimization", "o", "time", "optimization preference: space or time")
	fs.BoolP("ignored-p", "p", false, "accepted, ignored")
	fs.Int64VarP(&reservedSecs, "reserved-sectors", "r", 0, "reserved trailing sectors")
	fs.Int64VarP(&sizeOverride, "size", "s", 0, "size override, in sectors")
	fs.BoolVarP(&trim, "trim", "t", false, "enable TRIM")

	if err := fs.Parse(args); err != nil {
		return ufs.ExitUsage
	}

	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: newfs [options] <device>")
		return ufs.ExitUsage
	}
	devicePath := rest[0]
	if !strings.Contains(devicePath, "/") {
		devicePath = "/dev/" + devicePath
	}

	log := logrus.New()
	if dryRun {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg := ufs.Config{
		Version:         ufs.Version(version),
		SectorSize:      sectorSize,
		ReservedBlocks:  reservedSecs,
		BlockSize:       blockSize,
		FragSize:        fragSize,
		MaxExtent:       maxExtent,
		MaxBlocksPerCG:  maxBlocksPerCG,
		MaxBlocksPerFilePerGroup: maxBlocksPerFilePerGroup,
		BytesPerInode:   bytesPerInode,
		MaxContig:       maxContig,
		MinFreePercent:  minFree,
		VolumeLabel:     label,
		AvgFileSize:     avgFileSize,
		AvgFilesPerDir:  avgFilesPerDir,
		EnableSoftUpdates:        softUpdates,
		EnableSoftUpdatesJournal: softJournal,
		EnableGjournal:           gjournal,
		MultilabelMAC:            multilabel,
		TRIM:                     trim,
		NoSnap:                   noSnap,
		Deterministic:            regression,
		Erase:                    erase,
		DryRun:                   dryRun,
		StopAfterStage:           ufs.Stage(stopAfter),
	}
	if optim == "space" {
		cfg.Optimization = ufs.OptSpace
	}
	if metadataReserveStr != "" {
		v, err := strconv.Atoi(metadataReserveStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -k value %q: %v\n", metadataReserveStr, err)
			return ufs.ExitUsage
		}
		cfg.MetadataReserve = &v
	}
	if gid, ok := lookupOperatorGID(); ok {
		cfg.OperatorGID = &gid
	}

	info, err := os.Stat(devicePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot stat %s: %v\n", devicePath, err)
		return ufs.ExitUsage
	}

	deviceBytes, err := deviceSizeBytes(devicePath, info)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot determine size of %s: %v\n", devicePath, err)
		return ufs.ExitUsage
	}
	if sizeOverride > 0 {
		deviceBytes = sizeOverride * sectorSize
	}
	cfg.DeviceBytes = deviceBytes

	if detected, err := deviceSectorSize(devicePath); err == nil && detected > 0 && !fs.Changed("sector-size") {
		cfg.SectorSize = detected
	}

	store, err := file.OpenFromPath(devicePath, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open %s: %v\n", devicePath, err)
		return ufs.ExitUsage
	}
	defer store.Close()

	if erase && !dryRun {
		if err := eraseDevice(store, deviceBytes); err != nil {
			log.Warnf("erase failed, continuing: %v", err)
		}
	}

	result, err := ufs.Format(store, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "newfs: %v\n", err)
		return ufs.ExitCode(err)
	}

	printBackupReport(result.BackupSuperblocks)
	return 0
}

func lookupOperatorGID() (uint32, bool) {
	g, err := user.LookupGroup("operator")
	if err != nil {
		return 0, false
	}
	gid, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(gid), true
}
