package main

import (
	"os"
	"path/filepath"

	"github.com/ruteri/esp-secure-provisioning/artifacts"
	"github.com/ruteri/esp-secure-provisioning/cmd/flags"
	"github.com/ruteri/esp-secure-provisioning/flasher"
	"github.com/ruteri/esp-secure-provisioning/interfaces"
	"github.com/ruteri/esp-secure-provisioning/serialport"
	"github.com/ruteri/esp-secure-provisioning/toolexec"
	"github.com/urfave/cli/v2"
)

var uploadCommand = &cli.Command{
	Name:  "upload",
	Usage: "Flash bootloader, partition table and firmware with esptool",
	Flags: append([]cli.Flag{
		flags.PortFlag,
		&cli.StringFlag{
			Name:  "littlefs",
			Usage: "also flash this LittleFS image",
		},
	}, flags.ProjectFlags...),
	Action: func(cCtx *cli.Context) error {
		s, err := setup(cCtx)
		if err != nil {
			return err
		}

		port, err := serialport.NewResolver().Resolve(cCtx.String(flags.PortFlag.Name))
		if err != nil {
			return err
		}

		p := s.project
		f := flasher.New(s.runner, p.Station.Flash, p.Station.Timeouts.Upload, s.log).WithStream(true)
		plan, err := f.FirmwarePlan(port, artifacts.Locate(p.Dir, p.Env, p.ProgName), cCtx.String("littlefs"))
		if err != nil {
			return err
		}

		unlock, err := s.lockPort(cCtx.Context, port)
		if err != nil {
			return err
		}
		defer unlock()

		s.console.Banner("UPLOAD FIRMWARE")
		for _, img := range plan.Images {
			s.console.Field(img.Offset, img.Path)
		}
		if err := f.Upload(cCtx.Context, plan); err != nil {
			s.console.Fail(err.Error())
			return err
		}
		s.console.Success("Firmware uploaded. Reset the device to boot it.")
		return nil
	},
}

var uploadFSCommand = &cli.Command{
	Name:  "upload-fs",
	Usage: "Build a LittleFS image from the data directory and flash it",
	Flags: append([]cli.Flag{
		flags.PortFlag,
		&cli.StringFlag{
			Name:  "data-dir",
			Usage: "filesystem source directory; defaults to <project>/data",
		},
		&cli.StringFlag{
			Name:  "image",
			Usage: "flash this existing image instead of building one",
		},
	}, flags.ProjectFlags...),
	Action: func(cCtx *cli.Context) error {
		s, err := setup(cCtx)
		if err != nil {
			return err
		}

		port, err := serialport.NewResolver().Resolve(cCtx.String(flags.PortFlag.Name))
		if err != nil {
			return err
		}

		p := s.project
		runner := s.runner
		if _, configured := p.Station.Tools[interfaces.ToolMklittlefs]; !configured {
			if home, err := os.UserHomeDir(); err == nil {
				if path := flasher.FindMklittlefs(home); path != "" {
					s.log.Debug("Using PlatformIO mklittlefs", "path", path)
					tools := map[string][]string{interfaces.ToolMklittlefs: {path}}
					for name, argv := range p.Station.Tools {
						tools[name] = argv
					}
					runner = toolexec.NewRunner(tools, s.log)
				}
			}
		}
		f := flasher.New(runner, p.Station.Flash, p.Station.Timeouts.Upload, s.log).WithStream(true)

		s.console.Banner("UPLOAD FILESYSTEM")
		image := cCtx.String("image")
		if image == "" {
			dataDir := cCtx.String("data-dir")
			if dataDir == "" {
				dataDir = filepath.Join(p.Dir, "data")
			}
			image = filepath.Join(artifacts.Locate(p.Dir, p.Env, p.ProgName).BuildDir, "littlefs.bin")
			s.console.Progress("Building filesystem image from " + dataDir)
			if err := f.BuildLittleFS(cCtx.Context, dataDir, image); err != nil {
				s.console.Fail(err.Error())
				return err
			}
		}

		plan, err := f.FilesystemPlan(port, image)
		if err != nil {
			return err
		}

		unlock, err := s.lockPort(cCtx.Context, port)
		if err != nil {
			return err
		}
		defer unlock()

		if err := f.Upload(cCtx.Context, plan); err != nil {
			s.console.Fail(err.Error())
			return err
		}
		s.console.Success("Filesystem uploaded")
		return nil
	},
}
