package provision

import (
	"context"
	"io"
	"log/slog"

	"github.com/ruteri/esp-secure-provisioning/artifacts"
	"github.com/ruteri/esp-secure-provisioning/burner"
	"github.com/ruteri/esp-secure-provisioning/flasher"
	"github.com/ruteri/esp-secure-provisioning/inspector"
	"github.com/ruteri/esp-secure-provisioning/interfaces"
	"github.com/ruteri/esp-secure-provisioning/keymgr"
	"github.com/ruteri/esp-secure-provisioning/projectconfig"
	"github.com/ruteri/esp-secure-provisioning/serialport"
	"github.com/ruteri/esp-secure-provisioning/signer"
	"github.com/ruteri/esp-secure-provisioning/validator"
)

// Operator is the person at the station. It receives progress and warnings
// and supplies the burn confirmation.
type Operator interface {
	// Progress reports a completed or starting stage.
	Progress(msg string)
	// Warn shows a warning block. Irreversible operations are announced here.
	Warn(title string, lines ...string)
	// ConfirmInput prompts for the confirmation phrase and returns the reader
	// the answer is typed into.
	ConfirmInput(phrase string) io.Reader
}

// Config describes the project and station a Provisioner works on.
type Config struct {
	ProjectDir string
	// Env is the resolved PlatformIO environment.
	Env string
	// ProgName overrides the firmware image name (PROGNAME).
	ProgName   string
	PlatformIO *projectconfig.PlatformIO
	Station    *projectconfig.Station
	// Stream copies long-running tool output to the operator.
	Stream bool
}

// Provisioner sequences the provisioning flows. Each exported flow runs a
// fixed list of steps and stops at the first failing one.
type Provisioner struct {
	cfg      Config
	runner   interfaces.ToolRunner
	operator Operator
	log      *slog.Logger

	ports     *serialport.Resolver
	keys      *keymgr.Manager
	inspector *inspector.Inspector
	signer    *signer.Signer
	validator *validator.Validator
	flasher   *flasher.Flasher

	archiveBackend interfaces.StorageBackend
}

// New wires a Provisioner over runner.
func New(cfg Config, runner interfaces.ToolRunner, operator Operator, log *slog.Logger) *Provisioner {
	if cfg.Station == nil {
		cfg.Station = projectconfig.DefaultStation()
	}
	t := cfg.Station.Timeouts
	sign := signer.New(runner, t.Sign, log)

	return &Provisioner{
		cfg:       cfg,
		runner:    runner,
		operator:  operator,
		log:       log,
		ports:     serialport.NewResolver(),
		keys:      keymgr.NewManager(cfg.ProjectDir, cfg.Env, cfg.PlatformIO, runner, log),
		inspector: inspector.New(runner, t.Inspect, log),
		signer:    sign,
		validator: validator.New(sign, log),
		flasher:   flasher.New(runner, cfg.Station.Flash, t.Upload, log).WithStream(cfg.Stream),
	}
}

// WithArchive stores a Record of every burn flow in backend.
func (p *Provisioner) WithArchive(backend interfaces.StorageBackend) *Provisioner {
	p.archiveBackend = backend
	return p
}

// WithResolver replaces the serial port resolver.
func (p *Provisioner) WithResolver(r *serialport.Resolver) *Provisioner {
	p.ports = r
	return p
}

// Binaries returns the build outputs of the configured environment.
func (p *Provisioner) Binaries() artifacts.Binaries {
	return artifacts.Locate(p.cfg.ProjectDir, p.cfg.Env, p.cfg.ProgName)
}

// Target selects the key and device a flow acts on. Empty fields are resolved.
type Target struct {
	Port string
	Key  string
}

// target is a resolved Target.
type target struct {
	key  string
	port string
	chip interfaces.ChipType
}

func (p *Provisioner) progress(msg string) {
	if p.operator != nil {
		p.operator.Progress(msg)
	}
}

func (p *Provisioner) warn(title string, lines ...string) {
	p.log.Warn(title)
	if p.operator != nil {
		p.operator.Warn(title, lines...)
	}
}

// resolveKey applies key precedence and validates the result.
func (p *Provisioner) resolveKey(rec *Record, explicit string) (string, error) {
	var key string
	err := rec.step(StepKey, func() error {
		path, source := p.keys.ResolveKeyPath(explicit)
		p.log.Info("Using signing key", slog.String("path", path), slog.String("source", string(source)))
		key = path
		return keymgr.ValidateKeyFile(path)
	})
	rec.KeyPath = key
	return key, err
}

// preflight resolves key, port and chip and checks the device answers.
func (p *Provisioner) preflight(ctx context.Context, rec *Record, t Target) (*target, error) {
	key, err := p.resolveKey(rec, t.Key)
	if err != nil {
		return nil, err
	}
	p.progress("Using signing key: " + key)

	res := &target{key: key}
	if err := rec.step(StepPort, func() error {
		port, err := p.ports.Resolve(t.Port)
		res.port = port
		return err
	}); err != nil {
		return nil, err
	}
	rec.Port = res.port

	if err := rec.step(StepProbe, func() error {
		return serialport.Probe(ctx, p.runner, res.port)
	}); err != nil {
		return nil, err
	}
	p.progress("Device port: " + res.port)

	if err := rec.step(StepChip, func() error {
		chip, err := p.inspector.DetectChip(ctx, res.port)
		res.chip = chip
		return err
	}); err != nil {
		return nil, err
	}
	rec.Chip = string(res.chip)
	p.progress("Chip type: " + string(res.chip))
	return res, nil
}

// validate runs the pre-burn gate over the current build outputs.
func (p *Provisioner) validate(ctx context.Context, rec *Record, s Step, key string) error {
	return rec.step(s, func() error {
		bins := p.Binaries()
		if err := bins.RequireExist(); err != nil {
			return err
		}
		report := p.validator.PreBurn(ctx, key, bins)
		for _, w := range report.Warnings() {
			p.warn(w.Name, w.Detail)
		}
		return report.Err()
	})
}

func (p *Provisioner) newBurner(port string, chip interfaces.ChipType) *burner.Burner {
	return burner.New(p.runner, port, burner.Options{
		Chip:    chip,
		Timeout: p.cfg.Station.Timeouts.Burn,
		LockDir: p.cfg.Station.LockDir,
		Stream:  p.cfg.Stream,
	}, p.log)
}

// confirm shows the irreversible warning and gates b on the operator's answer.
func (p *Provisioner) confirm(rec *Record, b *burner.Burner, title string, lines ...string) error {
	return rec.step(StepConfirm, func() error {
		p.warn(title, lines...)
		var in io.Reader = eofReader{}
		if p.operator != nil {
			in = p.operator.ConfirmInput(burner.ConfirmPhrase)
		}
		return b.Confirm(in)
	})
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
