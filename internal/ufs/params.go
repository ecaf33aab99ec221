package ufs

import (
	"fmt"
	"regexp"
)

// Version selects the on-disk superblock format.
type Version uint8

const (
	Version1 Version = 1
	Version2 Version = 2
)

// Optimization is the fs_optim preference: lay out for minimum seek time
// or for minimum fragmentation.
type Optimization uint8

const (
	OptTime Optimization = iota
	OptSpace
)

var labelRe = regexp.MustCompile(`^[A-Za-z0-9_-]{0,32}$`)

// Config is the caller-supplied configuration for a format run: the
// device geometry plus the tuning knobs of spec.md's "Configuration"
// data model. It is the UFS analogue of ext4.Params in the teacher.
type Config struct {
	Version Version

	SectorSize     int64
	DeviceBytes    int64
	ReservedBlocks int64 // reserved trailing sectors

	BlockSize    int64
	FragSize     int64
	MaxExtent    int64
	MaxBlocksPerCG int64
	// MaxBlocksPerFilePerGroup is newfs's "-e": the most blocks a
	// single file may claim from one cylinder group before the
	// allocator is expected to spill into the next group. It is an
	// allocator hint carried through to the superblock for a future
	// allocator to honor; it does not affect the geometry solved here.
	MaxBlocksPerFilePerGroup int64
	BytesPerInode  int64
	MaxContig      int64
	MinFreePercent int
	// MetadataReserve is three-valued per spec.md's Design Notes:
	// nil = unset (use the default rule), 0 = explicitly disabled,
	// >0 = an explicit percentage.
	MetadataReserve *int
	Optimization    Optimization
	AvgFileSize     int64
	AvgFilesPerDir  int64
	VolumeLabel     string

	EnableSoftUpdates        bool
	EnableSoftUpdatesJournal bool
	EnableGjournal           bool
	MultilabelMAC            bool
	TRIM                     bool
	NoSnap                   bool
	Deterministic            bool
	Erase                    bool

	// StopAfterStage, if non-empty, aborts the run successfully right
	// after the named stage completes; used by regression tests that
	// want to inspect a partially-built filesystem. See spec.md §6 "-X".
	StopAfterStage Stage

	// DryRun disables all writes to the backend (spec.md §6 "-N").
	DryRun bool

	// OperatorGID resolves the "operator" group for the .snap inode's
	// gid (spec.md §4.F, §6 "a getgrnam-equivalent"). nil means the
	// lookup failed or was not attempted, and gid 0 is used.
	OperatorGID *uint32
}

// Stage names a point in the format pipeline, for -X testing.
type Stage string

const (
	StageGeometry      Stage = "geometry"
	StageCylinderGroups Stage = "cylinder-groups"
	StageRootDir       Stage = "rootdir"
	StageSuperblock    Stage = "superblock"
)

// Validate checks configuration-level errors (spec.md §7 "Configuration error").
func (c *Config) Validate() error {
	if c.Version != Version1 && c.Version != Version2 {
		return &ConfigError{Msg: fmt.Sprintf("unknown format version %d, must be 1 or 2", c.Version)}
	}
	if c.DeviceBytes <= 0 {
		return &ConfigError{Msg: "device size must be positive"}
	}
	if c.SectorSize <= 0 {
		return &ConfigError{Msg: "sector size must be positive"}
	}
	if !labelRe.MatchString(c.VolumeLabel) {
		return &ConfigError{Msg: fmt.Sprintf("volume label %q must be <=32 chars of [A-Za-z0-9_-]", c.VolumeLabel)}
	}
	if c.MinFreePercent < 0 || c.MinFreePercent > 99 {
		return &ConfigError{Msg: fmt.Sprintf("min free percent %d must be in [0,99]", c.MinFreePercent)}
	}
	if c.EnableSoftUpdatesJournal {
		c.EnableSoftUpdates = true
	}
	return nil
}
