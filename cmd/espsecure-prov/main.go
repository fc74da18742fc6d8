package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/esp-secure-provisioning/cmd/flags"
	"github.com/ruteri/esp-secure-provisioning/common"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:    "espsecure-prov",
		Usage:   "Provision ESP32 secure boot and flash encryption",
		Version: common.Version,
		Flags:   flags.LogFlags,
		Commands: []*cli.Command{
			genKeyCommand,
			extractPubkeyCommand,
			signCommand,
			verifyCommand,
			backupKeyCommand,
			restoreKeyCommand,
			infoCommand,
			checkKeyCommand,
			burnSecureBootCommand,
			burnFlashEncryptionCommand,
			enableSecureBootCommand,
			uploadCommand,
			uploadFSCommand,
			serveCommand,
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
