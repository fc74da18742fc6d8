package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/esp-secure-provisioning/burner"
	"github.com/ruteri/esp-secure-provisioning/inspector"
	"github.com/ruteri/esp-secure-provisioning/interfaces"
	"github.com/ruteri/esp-secure-provisioning/keymgr"
)

// Outcome is what a burn flow reports back.
type Outcome struct {
	Record *Record
	// ArchiveID is the content ID of the archived record, empty when not archived.
	ArchiveID string
}

// Burned reports whether the flow wrote any eFuse.
func (o *Outcome) Burned() bool {
	return o != nil && o.Record != nil && len(o.Record.Fuses) > 0
}

var secureBootWarning = []string{
	"This will PERMANENTLY enable secure boot on the device.",
	"This operation is IRREVERSIBLE.",
	"The device will ONLY accept firmware signed with this key.",
	"Make sure the signed firmware has been uploaded FIRST.",
}

var flashEncryptionWarning = []string{
	"This will PERMANENTLY enable flash encryption on the device.",
	"This operation is IRREVERSIBLE.",
	"The device will ONLY accept encrypted (and signed, if secure boot is on) firmware.",
}

func (p *Provisioner) finish(ctx context.Context, rec *Record, err error) (*Outcome, error) {
	rec.finish(err)
	return &Outcome{Record: rec, ArchiveID: p.archive(ctx, rec)}, err
}

// SecureBootFlow burns the public key digest and SECURE_BOOT_EN after the
// pre-burn gate passes. A device that already has secure boot enabled is
// left untouched unless its key block reads back empty.
func (p *Provisioner) SecureBootFlow(ctx context.Context, t Target) (*Outcome, error) {
	rec := newRecord("secure-boot")
	rec.Env = p.cfg.Env

	tgt, err := p.preflight(ctx, rec, t)
	if err != nil {
		return p.finish(ctx, rec, err)
	}
	if err := p.validate(ctx, rec, StepValidate, tgt.key); err != nil {
		return p.finish(ctx, rec, err)
	}
	return p.finish(ctx, rec, p.burnSecureBoot(ctx, rec, tgt))
}

// burnSecureBoot is the device side of the secure boot flow: inspect,
// decide, confirm, burn.
func (p *Provisioner) burnSecureBoot(ctx context.Context, rec *Record, tgt *target) error {
	state, err := p.deviceInfo(ctx, rec, tgt.port)
	if err != nil {
		return err
	}

	var keyBlock interfaces.TriState
	_ = rec.step(StepKeyBlock, func() error {
		keyBlock = p.inspector.KeyBlockState(ctx, tgt.port, tgt.chip)
		return nil
	})
	p.log.Info("Device secure boot state",
		slog.String("port", tgt.port),
		slog.String("secure_boot", state.SecureBoot.String()),
		slog.String("key_block", keyBlock.String()))

	// Only an explicitly empty key block on an enabled device is repaired;
	// an unreadable one counts as provisioned.
	switch {
	case state.SecureBoot == interfaces.Enabled && keyBlock != interfaces.Disabled:
		p.progress("Secure boot already enabled; no burn needed.")
		rec.Result = ResultProvisioned
		return nil
	case state.SecureBoot == interfaces.Enabled:
		p.warn("SECURE_BOOT_EN is enabled but the key block is empty",
			"This is an invalid state. The key digest will be burned now.")
	case state.SecureBoot == interfaces.Unknown:
		p.warn("Unable to determine secure boot state; proceeding with caution")
	}

	var digest keymgr.Digest
	if err := rec.step(StepDigest, func() error {
		digest, err = p.keys.PublicKeyDigest(ctx, tgt.key)
		return err
	}); err != nil {
		return err
	}
	rec.KeyDigest = digest.String()

	burnKey := true
	if keyBlock == interfaces.Enabled {
		// A key written by an earlier interrupted run can be kept if it is ours.
		match, err := p.deviceHoldsKey(ctx, tgt.port, digest)
		switch {
		case err != nil:
			p.log.Warn("Could not compare device key digest", slog.String("port", tgt.port), "err", err)
		case !match:
			return &StepError{Step: StepKeyBlock, Err: fmt.Errorf("%w: %s", interfaces.ErrDigestMismatch, interfaces.KeyBlock0)}
		default:
			p.progress("Key block already holds this key's digest; only SECURE_BOOT_EN will be burned.")
			burnKey = false
		}
	}

	b := p.newBurner(tgt.port, tgt.chip)
	if err := p.confirm(rec, b, "FINAL SECURE BOOT EFUSE BURN", secureBootWarning...); err != nil {
		return err
	}

	return rec.step(StepBurn, func() error {
		release, err := b.Hold(ctx)
		if err != nil {
			return err
		}
		defer release()

		if burnKey {
			p.progress(fmt.Sprintf("Burning public key digest into %s...", interfaces.KeyBlock0))
			if err := b.BurnKey(ctx, interfaces.KeyBlock0, digest, interfaces.KeyPurposeSecureBootDig0); err != nil {
				return err
			}
			rec.Fuses = append(rec.Fuses, interfaces.KeyBlock0)
		}

		p.progress("Enabling secure boot...")
		err = b.BurnFuse(ctx, interfaces.FuseSecureBootEn)
		if errors.Is(err, burner.ErrAlreadyBurned) {
			p.progress("Secure boot already enabled.")
			return nil
		}
		if err != nil {
			return err
		}
		rec.Fuses = append(rec.Fuses, string(interfaces.FuseSecureBootEn))
		p.progress("Secure boot enabled. The device will now only accept firmware signed with this key.")
		return nil
	})
}

// FlashEncryptionFlow burns FLASH_CRYPT_CNT after the pre-burn gate passes.
// A device with flash encryption already enabled is left untouched.
func (p *Provisioner) FlashEncryptionFlow(ctx context.Context, t Target) (*Outcome, error) {
	rec := newRecord("flash-encryption")
	rec.Env = p.cfg.Env

	tgt, err := p.preflight(ctx, rec, t)
	if err != nil {
		return p.finish(ctx, rec, err)
	}
	if err := p.validate(ctx, rec, StepValidate, tgt.key); err != nil {
		return p.finish(ctx, rec, err)
	}

	state, err := p.deviceInfo(ctx, rec, tgt.port)
	if err != nil {
		return p.finish(ctx, rec, err)
	}
	switch state.FlashEncryption {
	case interfaces.Enabled:
		p.progress("Flash encryption already enabled; no burn needed.")
		rec.Result = ResultProvisioned
		return p.finish(ctx, rec, nil)
	case interfaces.Unknown:
		p.warn("Unable to determine flash encryption state; proceeding with caution")
	}

	b := p.newBurner(tgt.port, tgt.chip)
	if err := p.confirm(rec, b, "FLASH ENCRYPTION EFUSE BURN", flashEncryptionWarning...); err != nil {
		return p.finish(ctx, rec, err)
	}

	err = rec.step(StepBurn, func() error {
		release, err := b.Hold(ctx)
		if err != nil {
			return err
		}
		defer release()

		p.progress(fmt.Sprintf("Burning flash encryption eFuse on %s...", tgt.port))
		err = b.BurnFuse(ctx, interfaces.FuseFlashCryptCnt)
		if errors.Is(err, burner.ErrAlreadyBurned) {
			p.progress("Flash encryption already enabled.")
			return nil
		}
		if err != nil {
			return err
		}
		rec.Fuses = append(rec.Fuses, string(interfaces.FuseFlashCryptCnt))
		p.progress("Flash encryption eFuse burned. The device will now only accept encrypted firmware.")
		return nil
	})
	return p.finish(ctx, rec, err)
}

func (p *Provisioner) deviceInfo(ctx context.Context, rec *Record, port string) (*interfaces.DeviceState, error) {
	var state *interfaces.DeviceState
	err := rec.step(StepDeviceInfo, func() error {
		var err error
		state, err = p.inspector.Inspect(ctx, port)
		return err
	})
	if err != nil {
		return nil, err
	}
	rec.MAC = state.MAC
	p.progress(fmt.Sprintf("Device %s: chip %s, MAC %s, secure boot %s, flash encryption %s",
		port, state.ChipName, state.MAC, state.SecureBoot, state.FlashEncryption))
	return state, nil
}

// deviceHoldsKey compares digest against BLOCK_KEY0 in either word order.
func (p *Provisioner) deviceHoldsKey(ctx context.Context, port string, digest keymgr.Digest) (bool, error) {
	device, err := p.inspector.ReadKeyDigest(ctx, port)
	if err != nil {
		return false, err
	}
	return digestsMatch(digest, device), nil
}

func digestsMatch(key, device keymgr.Digest) bool {
	return key == device || key == inspector.ReverseWords(device)
}

// KeyCheck is the result of comparing the signing key with the device.
type KeyCheck struct {
	Port         string
	KeyPath      string
	KeyDigest    keymgr.Digest
	DeviceDigest keymgr.Digest
	Match        bool
}

// CheckKey compares the signing key's public key digest with the digest in
// the device's key block. A mismatch returns the KeyCheck together with
// ErrDigestMismatch.
func (p *Provisioner) CheckKey(ctx context.Context, t Target) (*KeyCheck, error) {
	rec := newRecord("check-key")

	key, err := p.resolveKey(rec, t.Key)
	if err != nil {
		return nil, err
	}

	res := &KeyCheck{KeyPath: key}
	if err := rec.step(StepPort, func() error {
		port, err := p.ports.Resolve(t.Port)
		res.Port = port
		return err
	}); err != nil {
		return nil, err
	}

	if err := rec.step(StepDigest, func() error {
		d, err := p.keys.PublicKeyDigest(ctx, key)
		res.KeyDigest = d
		return err
	}); err != nil {
		return nil, err
	}

	if err := rec.step(StepKeyBlock, func() error {
		d, err := p.inspector.ReadKeyDigest(ctx, res.Port)
		res.DeviceDigest = d
		return err
	}); err != nil {
		return nil, err
	}

	res.Match = digestsMatch(res.KeyDigest, res.DeviceDigest)
	p.log.Info("Compared key digests",
		slog.String("port", res.Port),
		slog.String("key_digest", res.KeyDigest.String()),
		slog.String("device_digest", res.DeviceDigest.String()),
		slog.Bool("match", res.Match))
	if !res.Match {
		return res, interfaces.ErrDigestMismatch
	}
	return res, nil
}
