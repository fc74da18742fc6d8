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
	"time"

	"github.com/ruteri/esp-secure-provisioning/artifacts"
	"github.com/ruteri/esp-secure-provisioning/interfaces"
	"github.com/ruteri/esp-secure-provisioning/projectconfig"
)

// DefaultTimeout bounds a single esptool write-flash.
const DefaultTimeout = 60 * time.Second

// ErrEmptyPlan is returned when a plan carries no images.
var ErrEmptyPlan = errors.New("nothing to flash")

// Image is one file written at a flash offset.
type Image struct {
	Offset string
	Path   string
}

// Plan is a single esptool write-flash invocation.
type Plan struct {
	Port   string
	Images []Image
	// Reset hard-resets the chip after writing instead of leaving it in the
	// bootloader.
	Reset bool
}

// Flasher writes images with esptool in --no-stub mode, which is the only
// mode a secure boot enabled chip in secure download mode accepts.
type Flasher struct {
	runner  interfaces.ToolRunner
	layout  projectconfig.Flash
	timeout time.Duration
	stream  bool
	log     *slog.Logger
}

// New creates a Flasher for layout. A zero timeout selects DefaultTimeout.
func New(runner interfaces.ToolRunner, layout projectconfig.Flash, timeout time.Duration, log *slog.Logger) *Flasher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Flasher{runner: runner, layout: layout, timeout: timeout, log: log}
}

// WithStream echoes esptool progress to the operator.
func (f *Flasher) WithStream(stream bool) *Flasher {
	f.stream = stream
	return f
}

// FirmwarePlan flashes bootloader, partition table and application, plus the
// filesystem image when littlefs is non-empty.
func (f *Flasher) FirmwarePlan(port string, bins artifacts.Binaries, littlefs string) (Plan, error) {
	images := []Image{
		{Offset: f.layout.BootloaderOffset, Path: bins.Bootloader},
		{Offset: f.layout.PartitionsOffset, Path: bins.Partitions},
		{Offset: f.layout.FirmwareOffset, Path: bins.Firmware},
	}
	if littlefs != "" {
		images = append(images, Image{Offset: f.layout.LittleFSOffset, Path: littlefs})
	}

	var missing []string
	for _, img := range images {
		if _, err := os.Stat(img.Path); err != nil {
			missing = append(missing, filepath.Base(img.Path))
		}
	}
	if len(missing) > 0 {
		return Plan{}, fmt.Errorf("%w: %v (expected in %s)", artifacts.ErrMissingBinaries, missing, bins.BuildDir)
	}
	return Plan{Port: port, Images: images}, nil
}

// FilesystemPlan flashes only a LittleFS image.
func (f *Flasher) FilesystemPlan(port, image string) (Plan, error) {
	if _, err := os.Stat(image); err != nil {
		return Plan{}, fmt.Errorf("filesystem image not found: %w", err)
	}
	return Plan{Port: port, Images: []Image{{Offset: f.layout.LittleFSOffset, Path: image}}, Reset: true}, nil
}

// Args renders the esptool argument list for plan, images sorted by offset.
func (f *Flasher) Args(plan Plan) []string {
	after := "no-reset"
	if plan.Reset {
		after = "hard-reset"
	}

	args := []string{
		"--chip", f.layout.Chip,
		"--port", plan.Port,
		"--baud", strconv.Itoa(f.layout.Baud),
		"--before", "default-reset",
		"--after", after,
		"--no-stub",
		"write-flash",
		"--flash-mode", f.layout.Mode,
		"--flash-freq", f.layout.Freq,
		"--flash-size", f.layout.Size,
	}

	images := append([]Image(nil), plan.Images...)
	sort.SliceStable(images, func(i, j int) bool {
		a, _ := projectconfig.ParseSize(images[i].Offset)
		b, _ := projectconfig.ParseSize(images[j].Offset)
		return a < b
	})
	for _, img := range images {
		args = append(args, img.Offset, img.Path)
	}
	return args
}

// Upload runs esptool write-flash for plan.
func (f *Flasher) Upload(ctx context.Context, plan Plan) error {
	if len(plan.Images) == 0 {
		return ErrEmptyPlan
	}

	for _, img := range plan.Images {
		f.log.Info("Flashing image",
			slog.String("port", plan.Port),
			slog.String("offset", img.Offset),
			slog.String("image", filepath.Base(img.Path)))
	}

	_, err := f.runner.Run(ctx, interfaces.Command{
		Tool:    interfaces.ToolEsptool,
		Args:    f.Args(plan),
		Timeout: f.timeout,
		Stream:  f.stream,
	})
	if err != nil {
		return fmt.Errorf("upload to %s failed: %w", plan.Port, err)
	}
	return nil
}
