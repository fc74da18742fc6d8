package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/esp-secure-provisioning/artifacts"
	"github.com/ruteri/esp-secure-provisioning/cmd/flags"
	"github.com/ruteri/esp-secure-provisioning/cryptoutils"
	"github.com/ruteri/esp-secure-provisioning/interfaces"
	"github.com/ruteri/esp-secure-provisioning/keymgr"
	"github.com/ruteri/esp-secure-provisioning/signer"
	"github.com/urfave/cli/v2"
)

var genKeyCommand = &cli.Command{
	Name:  "gen-key",
	Usage: "Generate a secure boot v2 signing key",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Usage:   "key path; defaults to <project>/" + keymgr.DefaultKeyName,
		},
		&cli.StringFlag{
			Name:  "scheme",
			Usage: "signature scheme passed to espsecure, e.g. ecdsa256 or rsa3072",
		},
		&cli.BoolFlag{
			Name:  "no-pubkey",
			Usage: "do not extract the public key next to the private key",
		},
	}, flags.ProjectFlags...),
	Action: func(cCtx *cli.Context) error {
		s, err := setup(cCtx)
		if err != nil {
			return err
		}

		out := cCtx.String("out")
		if out == "" {
			out = filepath.Join(s.project.Dir, keymgr.DefaultKeyName)
		}

		s.console.Banner("GENERATE SIGNING KEY")
		pub, err := s.keys().Generate(cCtx.Context, out, keymgr.GenerateOpts{
			Scheme:        cCtx.String("scheme"),
			ExtractPublic: !cCtx.Bool("no-pubkey"),
		})
		if err != nil {
			s.console.Fail(err.Error())
			return err
		}

		s.console.Success("Signing key generated")
		s.console.Field("Private key", out)
		if pub != "" {
			s.console.Field("Public key", pub)
		}
		s.console.Warn("KEEP THIS KEY SAFE",
			"Devices with secure boot enabled accept only firmware signed with it.",
			"Back it up with 'espsecure-prov backup-key' before burning any device.")
		return nil
	},
}

var extractPubkeyCommand = &cli.Command{
	Name:  "extract-pubkey",
	Usage: "Write the PEM public key of the signing key",
	Flags: append([]cli.Flag{
		flags.KeyFlag,
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Usage:   "public key path; defaults to <key stem>.pub.pem",
		},
	}, flags.ProjectFlags...),
	Action: func(cCtx *cli.Context) error {
		s, err := setup(cCtx)
		if err != nil {
			return err
		}

		keys := s.keys()
		key, _ := keys.ResolveKeyPath(cCtx.String(flags.KeyFlag.Name))
		pub, err := keys.ExtractPublicKey(cCtx.Context, key, cCtx.String("out"))
		if err != nil {
			return err
		}

		digest, err := keys.PublicKeyDigest(cCtx.Context, key)
		if err != nil {
			s.log.Warn("Could not compute public key digest", "err", err)
		}

		s.console.Success("Public key extracted")
		s.console.Field("Public key", pub)
		if err == nil {
			s.console.Field("Digest", digest.String())
		}
		return nil
	},
}

// binariesArg returns the binaries named on the command line, or the
// bootloader and firmware of the build when none are.
func binariesArg(cCtx *cli.Context, s *station) ([]string, error) {
	if cCtx.Args().Present() {
		return cCtx.Args().Slice(), nil
	}
	p := s.project
	bins := artifacts.Locate(p.Dir, p.Env, p.ProgName)
	if err := bins.RequireExist(); err != nil {
		return nil, err
	}
	return bins.Signed(), nil
}

func resolveValidKey(cCtx *cli.Context, s *station) (string, error) {
	key, source := s.keys().ResolveKeyPath(cCtx.String(flags.KeyFlag.Name))
	s.log.Info("Using signing key", slog.String("path", key), slog.String("source", string(source)))
	if err := keymgr.ValidateKeyFile(key); err != nil {
		return "", err
	}
	return key, nil
}

var signCommand = &cli.Command{
	Name:      "sign",
	Usage:     "Sign binaries for secure boot v2",
	ArgsUsage: "[BINARY...]",
	Flags: append([]cli.Flag{
		flags.KeyFlag,
		&cli.StringFlag{
			Name:  "release-dir",
			Usage: "write <name>_signed.bin and <name>_unsigned.bin here instead of signing in place",
		},
		&cli.BoolFlag{
			Name:  "verify",
			Usage: "verify every signature after signing",
		},
	}, flags.ProjectFlags...),
	Action: func(cCtx *cli.Context) error {
		s, err := setup(cCtx)
		if err != nil {
			return err
		}

		key, err := resolveValidKey(cCtx, s)
		if err != nil {
			return err
		}
		bins, err := binariesArg(cCtx, s)
		if err != nil {
			return err
		}

		releaseDir := cCtx.String("release-dir")
		if releaseDir == "" {
			releaseDir = s.project.Station.ReleaseDir
		}

		sign := signer.New(s.runner, s.project.Station.Timeouts.Sign, s.log)
		signed, err := sign.SignAll(cCtx.Context, bins, key, signer.SignOpts{
			ReleaseDir: releaseDir,
			Verify:     cCtx.Bool("verify"),
		})
		if err != nil {
			s.console.Fail(err.Error())
			return err
		}

		for _, path := range signed {
			s.console.Success("Signed " + path)
		}

		archive, err := s.archive()
		if err != nil {
			s.log.Warn("Signed binaries will not be archived", "err", err)
			return nil
		}
		if archive == nil {
			return nil
		}
		for _, path := range signed {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read signed binary: %w", err)
			}
			id, err := archive.Store(cCtx.Context, data, interfaces.FirmwareType)
			if err != nil {
				s.log.Warn("Failed to archive signed binary", slog.String("path", path), "err", err)
				continue
			}
			s.console.Field(filepath.Base(path), id.String())
		}
		return nil
	},
}

var verifyCommand = &cli.Command{
	Name:      "verify",
	Usage:     "Verify secure boot v2 signatures",
	ArgsUsage: "[BINARY...]",
	Flags:     append([]cli.Flag{flags.KeyFlag}, flags.ProjectFlags...),
	Action: func(cCtx *cli.Context) error {
		s, err := setup(cCtx)
		if err != nil {
			return err
		}

		key, err := resolveValidKey(cCtx, s)
		if err != nil {
			return err
		}
		bins, err := binariesArg(cCtx, s)
		if err != nil {
			return err
		}

		sign := signer.New(s.runner, s.project.Station.Timeouts.Sign, s.log)
		var errs []error
		for _, bin := range bins {
			if err := sign.Verify(cCtx.Context, bin, key); err != nil {
				s.console.Fail(fmt.Sprintf("%s: %v", bin, err))
				errs = append(errs, err)
				continue
			}
			s.console.Success("Signature valid: " + bin)
		}
		return errors.Join(errs...)
	},
}

var backupKeyCommand = &cli.Command{
	Name:  "backup-key",
	Usage: "Encrypt the signing key and store it in the archive",
	Flags: append([]cli.Flag{
		flags.KeyFlag,
		&cli.StringSliceFlag{
			Name:  "age-recipient",
			Usage: "age X25519 recipient (age1...) to encrypt to; repeatable",
		},
		&cli.StringFlag{
			Name:  "escrow-pubkey",
			Usage: "PEM P-256 public key of the escrow officer",
		},
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Usage:   "also write the encrypted backup to this file",
		},
	}, flags.ProjectFlags...),
	Description: "Without --age-recipient or --escrow-pubkey the key is sealed with a passphrase.",
	Action: func(cCtx *cli.Context) error {
		s, err := setup(cCtx)
		if err != nil {
			return err
		}

		key, err := resolveValidKey(cCtx, s)
		if err != nil {
			return err
		}
		archive, err := s.archive()
		if err != nil {
			return err
		}
		out := cCtx.String("out")
		if archive == nil && out == "" {
			return errors.New("no storage configured in the station config; pass --out to write the backup to a file")
		}

		plain, err := os.ReadFile(key)
		if err != nil {
			return fmt.Errorf("%w: %v", keymgr.ErrKeyUnreadable, err)
		}

		var sealed []byte
		switch recipients, pubPath := cCtx.StringSlice("age-recipient"), cCtx.String("escrow-pubkey"); {
		case len(recipients) > 0 && pubPath != "":
			return errors.New("--age-recipient and --escrow-pubkey are mutually exclusive")
		case len(recipients) > 0:
			sealed, err = cryptoutils.SealForRecipients(plain, recipients)
		case pubPath != "":
			var pub []byte
			pub, err = os.ReadFile(pubPath)
			if err != nil {
				return fmt.Errorf("failed to read escrow public key: %w", err)
			}
			sealed, err = cryptoutils.EncryptWithPublicKey(pub, plain)
		default:
			var pass []byte
			pass, err = s.console.ReadPassphrase("Backup passphrase", true)
			if err != nil {
				return err
			}
			sealed, err = cryptoutils.SealWithPassphrase(pass, plain)
		}
		if err != nil {
			return err
		}

		if out != "" {
			if err := os.WriteFile(out, sealed, 0600); err != nil {
				return fmt.Errorf("failed to write backup: %w", err)
			}
			s.console.Field("Backup file", out)
		}
		if archive != nil {
			id, err := archive.Store(cCtx.Context, sealed, interfaces.KeyBackupType)
			if err != nil {
				return fmt.Errorf("failed to store key backup: %w", err)
			}
			s.console.Field("Backup id", id.String())
		}
		s.console.Field("Envelope", cryptoutils.DetectEnvelope(sealed))
		s.console.Success("Signing key backed up")
		return nil
	},
}

var restoreKeyCommand = &cli.Command{
	Name:  "restore-key",
	Usage: "Decrypt a signing key backup",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "id",
			Usage: "archive content ID of the backup",
		},
		&cli.StringFlag{
			Name:    "in",
			Aliases: []string{"i"},
			Usage:   "read the backup from this file instead of the archive",
		},
		&cli.StringFlag{
			Name:  "age-identity",
			Usage: "file holding the AGE-SECRET-KEY-1... identity",
		},
		&cli.StringFlag{
			Name:  "escrow-privkey",
			Usage: "PEM P-256 private key of the escrow officer",
		},
		&cli.StringFlag{
			Name:     "out",
			Aliases:  []string{"o"},
			Required: true,
			Usage:    "where to write the recovered signing key",
		},
	}, flags.ProjectFlags...),
	Action: func(cCtx *cli.Context) error {
		s, err := setup(cCtx)
		if err != nil {
			return err
		}

		out := cCtx.String("out")
		if _, err := os.Stat(out); err == nil {
			return fmt.Errorf("%w at %s", keymgr.ErrKeyExists, out)
		}

		var sealed []byte
		if in := cCtx.String("in"); in != "" {
			sealed, err = os.ReadFile(in)
			if err != nil {
				return fmt.Errorf("failed to read backup: %w", err)
			}
		} else {
			id, err := interfaces.NewContentIDFromHex(cCtx.String("id"))
			if err != nil {
				return fmt.Errorf("pass --in or a valid --id: %w", err)
			}
			archive, err := s.archive()
			if err != nil {
				return err
			}
			if archive == nil {
				return errors.New("no storage configured in the station config")
			}
			sealed, err = archive.Fetch(cCtx.Context, id, interfaces.KeyBackupType)
			if err != nil {
				return fmt.Errorf("failed to fetch key backup: %w", err)
			}
		}

		var plain []byte
		switch env := cryptoutils.DetectEnvelope(sealed); env {
		case cryptoutils.EnvelopeAge:
			path := cCtx.String("age-identity")
			if path == "" {
				return errors.New("age backup: pass --age-identity")
			}
			identity, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read age identity: %w", err)
			}
			plain, err = cryptoutils.OpenWithIdentity(sealed, ageIdentityLine(identity))
			if err != nil {
				return err
			}
		case cryptoutils.EnvelopeEscrow:
			path := cCtx.String("escrow-privkey")
			if path == "" {
				return errors.New("escrow backup: pass --escrow-privkey")
			}
			priv, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read escrow private key: %w", err)
			}
			plain, err = cryptoutils.DecryptWithPrivateKey(priv, sealed)
			if err != nil {
				return err
			}
		case cryptoutils.EnvelopePassphrase:
			pass, err := s.console.ReadPassphrase("Backup passphrase", false)
			if err != nil {
				return err
			}
			plain, err = cryptoutils.OpenWithPassphrase(pass, sealed)
			if err != nil {
				return err
			}
		default:
			return cryptoutils.ErrInvalidEnvelope
		}

		if err := os.MkdirAll(filepath.Dir(out), 0700); err != nil {
			return fmt.Errorf("failed to create key directory: %w", err)
		}
		if err := os.WriteFile(out, plain, 0600); err != nil {
			return fmt.Errorf("failed to write signing key: %w", err)
		}
		if err := keymgr.ValidateKeyFile(out); err != nil {
			s.log.Warn("Recovered file does not look like a PEM key", "err", err)
		}
		s.console.Success("Signing key restored to " + out)
		return nil
	},
}

// ageIdentityLine returns the first AGE-SECRET-KEY line of an identity file,
// skipping the comments age-keygen writes.
func ageIdentityLine(file []byte) string {
	for _, line := range strings.Split(string(file), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "AGE-SECRET-KEY-") {
			return line
		}
	}
	return strings.TrimSpace(string(file))
}
