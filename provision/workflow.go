package provision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/esp-secure-provisioning/interfaces"
	"github.com/ruteri/esp-secure-provisioning/signer"
)

// WorkflowOptions configures the end-to-end secure boot enablement.
type WorkflowOptions struct {
	Target
	// SkipBuild uses the existing build outputs.
	SkipBuild bool
	// SkipUpload assumes the signed images are already on the device.
	SkipUpload bool
	// DirectFlash uploads with esptool instead of `pio run -t upload`.
	DirectFlash bool
}

// Workflow runs build, sign, validate, upload, final validation and the
// secure boot burn as one flow.
type Workflow struct {
	p    *Provisioner
	opts WorkflowOptions
}

// NewWorkflow creates the enablement workflow.
func (p *Provisioner) NewWorkflow(opts WorkflowOptions) *Workflow {
	return &Workflow{p: p, opts: opts}
}

func (w *Workflow) needsPio() bool {
	return !w.opts.SkipBuild || (!w.opts.SkipUpload && !w.opts.DirectFlash)
}

// Run executes the workflow. The first failing step aborts with a *StepError.
func (w *Workflow) Run(ctx context.Context) (*Outcome, error) {
	p := w.p
	rec := newRecord("enable-secure-boot")
	rec.Env = p.cfg.Env

	if w.needsPio() {
		if err := rec.step(StepDeps, func() error { return w.checkDependencies(ctx) }); err != nil {
			return p.finish(ctx, rec, err)
		}
	} else {
		rec.skip(StepDeps)
	}

	tgt, err := p.preflight(ctx, rec, w.opts.Target)
	if err != nil {
		return p.finish(ctx, rec, err)
	}

	if err := rec.step(StepEnv, func() error {
		if p.cfg.Env == "" {
			return fmt.Errorf("no PlatformIO environment configured")
		}
		return nil
	}); err != nil {
		return p.finish(ctx, rec, err)
	}
	p.progress("PlatformIO environment: " + p.cfg.Env)

	if w.opts.SkipBuild {
		rec.skip(StepBuild)
		p.progress("Skipping build")
	} else if err := rec.step(StepBuild, func() error { return w.build(ctx) }); err != nil {
		return p.finish(ctx, rec, err)
	}

	if err := rec.step(StepSign, func() error {
		_, err := p.signer.SignAll(ctx, p.Binaries().Signed(), tgt.key, signer.SignOpts{})
		return err
	}); err != nil {
		return p.finish(ctx, rec, err)
	}

	if err := p.validate(ctx, rec, StepValidate, tgt.key); err != nil {
		return p.finish(ctx, rec, err)
	}

	if w.opts.SkipUpload {
		rec.skip(StepUpload)
		p.progress("Skipping upload")
	} else if err := rec.step(StepUpload, func() error { return w.upload(ctx, tgt.port) }); err != nil {
		return p.finish(ctx, rec, err)
	}

	if err := p.validate(ctx, rec, StepFinalValidate, tgt.key); err != nil {
		return p.finish(ctx, rec, err)
	}

	err = p.burnSecureBoot(ctx, rec, tgt)
	if err == nil {
		p.progress("Secure boot enablement complete. Keep the signing key safe.")
	}
	return p.finish(ctx, rec, err)
}

func (w *Workflow) checkDependencies(ctx context.Context) error {
	_, err := w.p.runner.Run(ctx, interfaces.Command{
		Tool:    interfaces.ToolPio,
		Args:    []string{"--version"},
		Timeout: w.p.cfg.Station.Timeouts.Deps,
	})
	if err != nil {
		return fmt.Errorf("PlatformIO (pio) not usable, install PlatformIO first: %w", err)
	}
	return nil
}

func (w *Workflow) pio(ctx context.Context, timeout time.Duration, args ...string) error {
	p := w.p
	_, err := p.runner.Run(ctx, interfaces.Command{
		Tool:    interfaces.ToolPio,
		Args:    args,
		Dir:     p.cfg.ProjectDir,
		Env:     []string{"PIOENV=" + p.cfg.Env},
		Stream:  p.cfg.Stream,
		Timeout: timeout,
	})
	return err
}

func (w *Workflow) build(ctx context.Context) error {
	p := w.p
	p.progress(fmt.Sprintf("Building firmware (environment: %s)...", p.cfg.Env))
	start := time.Now()
	if err := w.pio(ctx, p.cfg.Station.Timeouts.Build, "run", "-e", p.cfg.Env); err != nil {
		return err
	}
	p.log.Info("Firmware built", slog.String("env", p.cfg.Env), slog.Duration("duration", time.Since(start)))
	return nil
}

func (w *Workflow) upload(ctx context.Context, port string) error {
	p := w.p
	p.progress(fmt.Sprintf("Uploading signed binaries to %s...", port))
	if !w.opts.DirectFlash {
		return w.pio(ctx, p.cfg.Station.Timeouts.Upload, "run", "-t", "upload", "-e", p.cfg.Env, "--upload-port", port)
	}

	plan, err := p.flasher.FirmwarePlan(port, p.Binaries(), "")
	if err != nil {
		return err
	}
	return p.flasher.Upload(ctx, plan)
}
