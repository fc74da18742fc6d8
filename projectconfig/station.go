package projectconfig

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Station is the optional YAML configuration of a provisioning station.
// Every field has a default, so an empty file is valid.
type Station struct {
	// Tools overrides the argv prefix used to start each vendor tool.
	Tools map[string][]string `yaml:"tools"`

	Timeouts Timeouts `yaml:"timeouts"`
	Flash    Flash    `yaml:"flash"`

	// ReleaseDir, when set, receives <name>_signed.bin and <name>_unsigned.bin copies
	// instead of signing build outputs in place.
	ReleaseDir string `yaml:"release_dir"`

	// Storage lists archive URIs (file://, s3://, ipfs://, vault://).
	Storage []string `yaml:"storage"`

	// LockDir holds per-port burn lock files.
	LockDir string `yaml:"lock_dir"`
}

// Timeouts bounds each external step.
type Timeouts struct {
	Build   time.Duration `yaml:"build"`
	Upload  time.Duration `yaml:"upload"`
	Sign    time.Duration `yaml:"sign"`
	Inspect time.Duration `yaml:"inspect"`
	Burn    time.Duration `yaml:"burn"`
	Deps    time.Duration `yaml:"deps"`
}

// Flash describes the esptool write-flash layout.
type Flash struct {
	Chip             string `yaml:"chip"`
	Baud             int    `yaml:"baud"`
	Mode             string `yaml:"mode"`
	Freq             string `yaml:"freq"`
	Size             string `yaml:"size"`
	BootloaderOffset string `yaml:"bootloader_offset"`
	PartitionsOffset string `yaml:"partitions_offset"`
	FirmwareOffset   string `yaml:"firmware_offset"`
	LittleFSOffset   string `yaml:"littlefs_offset"`
	LittleFSSize     string `yaml:"littlefs_size"`
	LittleFSBlock    int    `yaml:"littlefs_block"`
	LittleFSPage     int    `yaml:"littlefs_page"`
}

// DefaultStation returns the built-in station configuration.
func DefaultStation() *Station {
	return &Station{
		Timeouts: Timeouts{
			Build:   300 * time.Second,
			Upload:  60 * time.Second,
			Sign:    30 * time.Second,
			Inspect: 10 * time.Second,
			Burn:    30 * time.Second,
			Deps:    5 * time.Second,
		},
		Flash: Flash{
			Chip:             "esp32c3",
			Baud:             460800,
			Mode:             "dio",
			Freq:             "80m",
			Size:             "2MB",
			BootloaderOffset: "0x0",
			PartitionsOffset: "0x8000",
			FirmwareOffset:   "0x10000",
			LittleFSOffset:   "0x210000",
			LittleFSSize:     "0x1e0000",
			LittleFSBlock:    4096,
			LittleFSPage:     256,
		},
		LockDir: os.TempDir(),
	}
}

// LoadStation reads a station file over the defaults. An empty path yields the defaults.
func LoadStation(path string) (*Station, error) {
	station := DefaultStation()
	if path == "" {
		return station, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open station config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(station); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse station config %s: %w", path, err)
	}

	if _, err := ParseSize(station.Flash.LittleFSSize); err != nil {
		return nil, fmt.Errorf("invalid flash.littlefs_size: %w", err)
	}
	return station, nil
}

// ParseSize parses a decimal or 0x-prefixed size.
func ParseSize(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 0, 64)
}
