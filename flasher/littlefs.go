package flasher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/ruteri/esp-secure-provisioning/interfaces"
	"github.com/ruteri/esp-secure-provisioning/projectconfig"
)

// ErrNoDataDir is returned when the filesystem source directory is missing.
var ErrNoDataDir = errors.New("data directory not found")

// FindMklittlefs looks for mklittlefs among the PlatformIO tool packages
// under home. It returns "" when none is installed.
func FindMklittlefs(home string) string {
	pattern := filepath.Join(home, ".platformio", "packages", "tool-mklittlefs*", "mklittlefs")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return ""
	}
	sort.Strings(matches)
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && !info.IsDir() {
			return m
		}
	}
	return ""
}

// BuildLittleFS packs dataDir into a LittleFS image at out, sized for the
// filesystem partition of the layout.
func (f *Flasher) BuildLittleFS(ctx context.Context, dataDir, out string) error {
	info, err := os.Stat(dataDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNoDataDir, dataDir)
	}

	size, err := projectconfig.ParseSize(f.layout.LittleFSSize)
	if err != nil {
		return fmt.Errorf("invalid filesystem size %q: %w", f.layout.LittleFSSize, err)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	_, err = f.runner.Run(ctx, interfaces.Command{
		Tool: interfaces.ToolMklittlefs,
		Args: []string{
			"-c", dataDir,
			"-s", strconv.FormatInt(size, 10),
			"-b", strconv.Itoa(f.layout.LittleFSBlock),
			"-p", strconv.Itoa(f.layout.LittleFSPage),
			out,
		},
		Timeout: f.timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to build filesystem image: %w", err)
	}

	if st, err := os.Stat(out); err == nil {
		f.log.Info("Built filesystem image", slog.String("image", out), slog.Int64("bytes", st.Size()))
	}
	return nil
}
