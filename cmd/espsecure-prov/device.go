package main

import (
	"context"
	"errors"

	"github.com/ruteri/esp-secure-provisioning/cmd/flags"
	"github.com/ruteri/esp-secure-provisioning/inspector"
	"github.com/ruteri/esp-secure-provisioning/interfaces"
	"github.com/ruteri/esp-secure-provisioning/provision"
	"github.com/ruteri/esp-secure-provisioning/serialport"
	"github.com/urfave/cli/v2"
)

var infoCommand = &cli.Command{
	Name:  "info",
	Usage: "Show the security eFuse state of the connected device",
	Flags: append([]cli.Flag{flags.PortFlag}, flags.ProjectFlags...),
	Action: func(cCtx *cli.Context) error {
		s, err := setup(cCtx)
		if err != nil {
			return err
		}

		port, err := serialport.NewResolver().Resolve(cCtx.String(flags.PortFlag.Name))
		if err != nil {
			return err
		}

		unlock, err := s.lockPort(cCtx.Context, port)
		if err != nil {
			return err
		}
		defer unlock()

		insp := inspector.New(s.runner, s.project.Station.Timeouts.Inspect, s.log)
		state, err := insp.Inspect(cCtx.Context, port)
		if err != nil {
			s.console.Fail(err.Error())
			return err
		}

		s.console.Banner("DEVICE INFORMATION")
		s.console.Field("Port", state.Port)
		s.console.Field("Chip", state.ChipName)
		s.console.Field("MAC", state.MAC)
		s.console.Field("Secure boot", state.SecureBoot)
		s.console.Field("Flash encryption", state.FlashEncryption)
		s.console.Field("Key block", insp.KeyBlockState(cCtx.Context, port, state.Chip))

		if state.SecureBoot == interfaces.Unknown || state.FlashEncryption == interfaces.Unknown {
			s.console.Warn("Could not classify every eFuse",
				"Run 'espefuse --port "+port+" summary' and read the values directly.")
		}
		return nil
	},
}

var checkKeyCommand = &cli.Command{
	Name:  "check-key",
	Usage: "Compare the signing key with the digest burned into the device",
	Flags: append([]cli.Flag{flags.PortFlag, flags.KeyFlag}, flags.ProjectFlags...),
	Action: func(cCtx *cli.Context) error {
		s, err := setup(cCtx)
		if err != nil {
			return err
		}

		res, err := s.provisioner(false).CheckKey(cCtx.Context, target(cCtx))
		if res != nil {
			s.console.Field("Port", res.Port)
			s.console.Field("Key", res.KeyPath)
			s.console.Field("Key digest", res.KeyDigest.String())
			s.console.Field("Device digest", res.DeviceDigest.String())
		}
		if errors.Is(err, interfaces.ErrDigestMismatch) {
			s.console.Fail("Signing key does NOT match the device. Firmware signed with it will not boot.")
			return err
		}
		if err != nil {
			s.console.Fail(err.Error())
			return err
		}
		s.console.Success("Signing key matches the device")
		return nil
	},
}

func runFlow(cCtx *cli.Context, title string, flow func(*provision.Provisioner, context.Context, provision.Target) (*provision.Outcome, error)) error {
	s, err := setup(cCtx)
	if err != nil {
		return err
	}

	s.console.Banner(title)
	out, err := flow(s.provisioner(true), cCtx.Context, target(cCtx))
	s.report(out)
	switch {
	case errors.Is(err, interfaces.ErrNotConfirmed):
		s.console.Fail("Aborted. No eFuse was burned.")
	case errors.Is(err, interfaces.ErrUncertainState):
		s.console.Fail(err.Error())
		s.console.Warn("DEVICE STATE UNCERTAIN",
			"The burn did not complete cleanly and may have partially applied.",
			"Run 'espsecure-prov info' before retrying.")
	case err != nil:
		s.console.Fail(err.Error())
	case out.Record.Result == provision.ResultProvisioned:
		s.console.Success("Device already provisioned; nothing burned")
	default:
		s.console.Success("Done")
	}
	return err
}

var burnSecureBootCommand = &cli.Command{
	Name:  "burn-secure-boot",
	Usage: "Burn the key digest and enable secure boot (irreversible)",
	Flags: append([]cli.Flag{flags.PortFlag, flags.KeyFlag}, flags.ProjectFlags...),
	Action: func(cCtx *cli.Context) error {
		return runFlow(cCtx, "SECURE BOOT EFUSE BURN", (*provision.Provisioner).SecureBootFlow)
	},
}

var burnFlashEncryptionCommand = &cli.Command{
	Name:  "burn-flash-encryption",
	Usage: "Enable flash encryption (irreversible)",
	Flags: append([]cli.Flag{flags.PortFlag, flags.KeyFlag}, flags.ProjectFlags...),
	Action: func(cCtx *cli.Context) error {
		return runFlow(cCtx, "FLASH ENCRYPTION EFUSE BURN", (*provision.Provisioner).FlashEncryptionFlow)
	},
}

var enableSecureBootCommand = &cli.Command{
	Name:  "enable-secure-boot",
	Usage: "Build, sign, upload and enable secure boot in one run",
	Flags: append([]cli.Flag{
		flags.PortFlag,
		flags.KeyFlag,
		&cli.BoolFlag{
			Name:  "skip-build",
			Usage: "use the existing build outputs",
		},
		&cli.BoolFlag{
			Name:  "skip-upload",
			Usage: "do not upload; the device must already run the signed firmware",
		},
		&cli.BoolFlag{
			Name:  "direct-flash",
			Usage: "upload with esptool write-flash instead of 'pio run -t upload'",
		},
	}, flags.ProjectFlags...),
	Action: func(cCtx *cli.Context) error {
		return runFlow(cCtx, "ENABLE SECURE BOOT", func(p *provision.Provisioner, ctx context.Context, t provision.Target) (*provision.Outcome, error) {
			return p.NewWorkflow(provision.WorkflowOptions{
				Target:      t,
				SkipBuild:   cCtx.Bool("skip-build"),
				SkipUpload:  cCtx.Bool("skip-upload"),
				DirectFlash: cCtx.Bool("direct-flash"),
			}).Run(ctx)
		})
	},
}
