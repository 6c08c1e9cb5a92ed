package tsdbengine

import (
	"fmt"
	"path/filepath"

	"github.com/flowtsdb/tsdbengine/internal/compression"
	"github.com/flowtsdb/tsdbengine/internal/encoding"
	"github.com/flowtsdb/tsdbengine/internal/partition"
	"github.com/flowtsdb/tsdbengine/internal/vfs"
)

// ConfigFileName is the fixed file name of a repository's config record,
// per spec.md §6.1.
const ConfigFileName = "CONFIG"

// ConfigSize is the encoded byte size of a Config record.
const ConfigSize = 41

// unset is the sentinel a caller uses on any Config field to request the
// spec.md §6.2 default, mirroring original_source/tsdbMain.c's
// tsdbCheckAndSetDefaultCfg convention of treating -1 as "apply default".
const unset = -1

// Config is the repository's fixed-layout configuration record. It is
// persisted as a raw binary dump (internal/encoding's fixed-width
// little-endian helpers), the same shape internal/block/layout.go uses
// for fixed-layout records — not a text format, since every field here
// has an explicit range and default rather than free-form structure. The
// teacher's internal/options package (an INI-style parser) is the wrong
// shape for this and is not reused; see DESIGN.md.
type Config struct {
	Precision           partition.Precision
	TsdbID              int64
	MaxTables           int32
	DaysPerFile         int32
	MinRowsPerFileBlock int32
	MaxRowsPerFileBlock int32
	Keep                int32 // days
	MaxCacheSize        int64 // bytes
	Compression         compression.Type
}

// ApplyDefaults fills any field left at its unset sentinel with the
// spec.md §6.2 default. Precision defaults to MILLI (its zero value);
// TsdbID defaults to 0 (also its zero value); every other field uses -1
// as the explicit "apply default" sentinel since 0 is a meaningful,
// usually-invalid value for them. Compression has no sentinel (its zero
// value, NoCompression, is itself a legitimate setting) and is taken
// as-is; a caller wanting the commit worker's compression applied must
// set it explicitly.
func (c *Config) ApplyDefaults() {
	if c.MaxTables == unset {
		c.MaxTables = 1000
	}
	if c.DaysPerFile == unset {
		c.DaysPerFile = 10
	}
	if c.MinRowsPerFileBlock == unset {
		c.MinRowsPerFileBlock = 100
	}
	if c.MaxRowsPerFileBlock == unset {
		c.MaxRowsPerFileBlock = 4096
	}
	if c.Keep == unset {
		c.Keep = 3650
	}
	if c.MaxCacheSize == unset {
		c.MaxCacheSize = 16 * 1024 * 1024
	}
}

// Validate checks every field's range per spec.md §6.2, after defaults
// have been applied. Returns ErrConfigInvalid on any violation.
func (c *Config) Validate() error {
	switch {
	case c.Precision < partition.Milli || c.Precision > partition.Nano:
		return fmt.Errorf("%w: precision %d out of range", ErrConfigInvalid, c.Precision)
	case c.TsdbID < 0:
		return fmt.Errorf("%w: tsdb_id %d < 0", ErrConfigInvalid, c.TsdbID)
	case c.MaxTables < 10 || c.MaxTables > 100000:
		return fmt.Errorf("%w: max_tables %d out of [10, 100000]", ErrConfigInvalid, c.MaxTables)
	case c.DaysPerFile < 1 || c.DaysPerFile > 60:
		return fmt.Errorf("%w: days_per_file %d out of [1, 60]", ErrConfigInvalid, c.DaysPerFile)
	case c.MinRowsPerFileBlock < 10 || c.MinRowsPerFileBlock > 1000:
		return fmt.Errorf("%w: min_rows_per_file_block %d out of [10, 1000]", ErrConfigInvalid, c.MinRowsPerFileBlock)
	case c.MaxRowsPerFileBlock < 200 || c.MaxRowsPerFileBlock > 10000:
		return fmt.Errorf("%w: max_rows_per_file_block %d out of [200, 10000]", ErrConfigInvalid, c.MaxRowsPerFileBlock)
	case c.Keep < 1:
		return fmt.Errorf("%w: keep %d < 1", ErrConfigInvalid, c.Keep)
	case c.MaxCacheSize < 4*1024*1024 || c.MaxCacheSize > 1024*1024*1024:
		return fmt.Errorf("%w: max_cache_size %d out of [4MiB, 1GiB]", ErrConfigInvalid, c.MaxCacheSize)
	case c.MinRowsPerFileBlock > c.MaxRowsPerFileBlock:
		return fmt.Errorf("%w: min_rows_per_file_block %d > max_rows_per_file_block %d", ErrConfigInvalid, c.MinRowsPerFileBlock, c.MaxRowsPerFileBlock)
	case c.Compression > compression.ZstdCompression:
		return fmt.Errorf("%w: compression %d out of range", ErrConfigInvalid, c.Compression)
	}
	return nil
}

// Encode writes the config record's fixed layout to dst[:ConfigSize].
func (c *Config) Encode(dst []byte) {
	_ = dst[:ConfigSize]
	dst[0] = byte(c.Precision)
	dst[1], dst[2], dst[3] = 0, 0, 0
	encoding.EncodeFixed64(dst[4:12], uint64(c.TsdbID))
	encoding.EncodeFixed32(dst[12:16], uint32(c.MaxTables))
	encoding.EncodeFixed32(dst[16:20], uint32(c.DaysPerFile))
	encoding.EncodeFixed32(dst[20:24], uint32(c.MinRowsPerFileBlock))
	encoding.EncodeFixed32(dst[24:28], uint32(c.MaxRowsPerFileBlock))
	encoding.EncodeFixed32(dst[28:32], uint32(c.Keep))
	encoding.EncodeFixed64(dst[32:40], uint64(c.MaxCacheSize))
	dst[40] = byte(c.Compression)
}

// DecodeConfig parses a Config record from src.
func DecodeConfig(src []byte) (Config, error) {
	if len(src) < ConfigSize {
		return Config{}, fmt.Errorf("%w: config record shorter than %d bytes", ErrFormatError, ConfigSize)
	}
	return Config{
		Precision:           partition.Precision(int8(src[0])),
		TsdbID:              int64(encoding.DecodeFixed64(src[4:12])),
		MaxTables:           int32(encoding.DecodeFixed32(src[12:16])),
		DaysPerFile:         int32(encoding.DecodeFixed32(src[16:20])),
		MinRowsPerFileBlock: int32(encoding.DecodeFixed32(src[20:24])),
		MaxRowsPerFileBlock: int32(encoding.DecodeFixed32(src[24:28])),
		Keep:                int32(encoding.DecodeFixed32(src[28:32])),
		MaxCacheSize:        int64(encoding.DecodeFixed64(src[32:40])),
		Compression:         compression.Type(src[40]),
	}, nil
}

// SaveConfig writes the config record to <root>/CONFIG, matching
// original_source/tsdbMain.c's raw write() of its STsdbCfg struct.
func SaveConfig(fs vfs.FS, root string, cfg Config) error {
	f, err := fs.Create(configPath(root))
	if err != nil {
		return fmt.Errorf("%w: create config: %v", ErrIOError, err)
	}
	defer f.Close()
	var buf [ConfigSize]byte
	cfg.Encode(buf[:])
	if _, err := f.Write(buf[:]); err != nil {
		return fmt.Errorf("%w: write config: %v", ErrIOError, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync config: %v", ErrIOError, err)
	}
	return fs.SyncDir(root)
}

// LoadConfig reads and decodes <root>/CONFIG.
func LoadConfig(fs vfs.FS, root string) (Config, error) {
	f, err := fs.OpenRandomAccess(configPath(root))
	if err != nil {
		return Config{}, fmt.Errorf("%w: open config: %v", ErrIOError, err)
	}
	defer f.Close()
	buf := make([]byte, ConfigSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return Config{}, fmt.Errorf("%w: read config: %v", ErrIOError, err)
	}
	return DecodeConfig(buf)
}

func configPath(root string) string {
	return filepath.Join(root, ConfigFileName)
}
