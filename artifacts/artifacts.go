package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TimestampTolerance is the largest bootloader/firmware mtime gap still
// considered the same build.
const TimestampTolerance = 30 * time.Second

// DefaultProgName is the firmware image stem when PROGNAME is unset.
const DefaultProgName = "firmware"

// ErrMissingBinaries is returned when required build outputs are absent.
var ErrMissingBinaries = errors.New("missing binaries")

// Binaries are the build outputs of one PlatformIO environment.
type Binaries struct {
	BuildDir   string
	Bootloader string
	Firmware   string
	Partitions string
}

// Locate computes the binary paths under <projectDir>/.pio/build/<env>/.
func Locate(projectDir, env, progName string) Binaries {
	if progName == "" {
		progName = DefaultProgName
	}
	buildDir := filepath.Join(projectDir, ".pio", "build", env)
	return Binaries{
		BuildDir:   buildDir,
		Bootloader: filepath.Join(buildDir, "bootloader.bin"),
		Firmware:   filepath.Join(buildDir, progName+".bin"),
		Partitions: filepath.Join(buildDir, "partitions.bin"),
	}
}

// Signed returns the images that carry a secure boot signature, bootloader first.
func (b Binaries) Signed() []string {
	return []string{b.Bootloader, b.Firmware}
}

// Missing lists the base names of absent signed images.
func (b Binaries) Missing() []string {
	var missing []string
	for _, p := range b.Signed() {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			missing = append(missing, filepath.Base(p))
		}
	}
	return missing
}

// RequireExist fails with ErrMissingBinaries naming every absent image.
func (b Binaries) RequireExist() error {
	if missing := b.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: %s (expected in %s)", ErrMissingBinaries, strings.Join(missing, ", "), b.BuildDir)
	}
	return nil
}

// TimestampCheck is the result of comparing bootloader and firmware mtimes.
type TimestampCheck struct {
	Diff   time.Duration
	Within bool
}

// CheckTimestamps compares the mtimes of bootloader and firmware. Being
// outside tolerance is a warning, not an error; only a stat failure errors.
func (b Binaries) CheckTimestamps(tolerance time.Duration) (TimestampCheck, error) {
	boot, err := os.Stat(b.Bootloader)
	if err != nil {
		return TimestampCheck{}, fmt.Errorf("failed to check bootloader timestamp: %w", err)
	}
	fw, err := os.Stat(b.Firmware)
	if err != nil {
		return TimestampCheck{}, fmt.Errorf("failed to check firmware timestamp: %w", err)
	}

	diff := boot.ModTime().Sub(fw.ModTime())
	if diff < 0 {
		diff = -diff
	}
	return TimestampCheck{Diff: diff, Within: diff <= tolerance}, nil
}
