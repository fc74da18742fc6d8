package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ruteri/esp-secure-provisioning/artifacts"
	"github.com/ruteri/esp-secure-provisioning/keymgr"
)

// ErrPreBurnFailed is returned by Report.Err when at least one check failed.
var ErrPreBurnFailed = errors.New("pre-burn validation failed")

// Status is the outcome of a single check.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Check is one named pre-burn check.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
	Err    error  `json:"-"`
}

// Report collects every check of one validation run.
type Report struct {
	Checks []Check `json:"checks"`
	Passed bool    `json:"passed"`
}

func (r *Report) add(c Check) {
	r.Checks = append(r.Checks, c)
	if c.Status == StatusFail {
		r.Passed = false
	}
}

// Failed returns the failing checks.
func (r *Report) Failed() []Check {
	var failed []Check
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			failed = append(failed, c)
		}
	}
	return failed
}

// Warnings returns the checks that passed with a warning.
func (r *Report) Warnings() []Check {
	var warn []Check
	for _, c := range r.Checks {
		if c.Status == StatusWarn {
			warn = append(warn, c)
		}
	}
	return warn
}

// Err returns nil when the gate passed, otherwise ErrPreBurnFailed joined
// with the error of every failing check.
func (r *Report) Err() error {
	if r.Passed {
		return nil
	}
	errs := []error{ErrPreBurnFailed}
	for _, c := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", c.Name, c.Err))
	}
	return errors.Join(errs...)
}

// Verifier checks an image signature against a signing key.
type Verifier interface {
	Verify(ctx context.Context, binary, key string) error
}

// Validator runs the pre-burn gate.
type Validator struct {
	verifier  Verifier
	tolerance time.Duration
	log       *slog.Logger
}

// New creates a Validator using artifacts.TimestampTolerance.
func New(verifier Verifier, log *slog.Logger) *Validator {
	return &Validator{
		verifier:  verifier,
		tolerance: artifacts.TimestampTolerance,
		log:       log,
	}
}

// PreBurn validates the key and both signed images. All checks run even
// after a failure. The timestamp check can only warn, unless the files
// cannot be stat'ed at all.
func (v *Validator) PreBurn(ctx context.Context, key string, bins artifacts.Binaries) *Report {
	report := &Report{Passed: true}

	if err := keymgr.ValidateKeyFile(key); err != nil {
		report.add(Check{Name: "signing key", Status: StatusFail, Err: err})
	} else {
		report.add(Check{Name: "signing key", Status: StatusPass, Detail: key})
	}

	for _, bin := range bins.Signed() {
		name := filepath.Base(bin) + " signature"
		if err := v.verifier.Verify(ctx, bin, key); err != nil {
			report.add(Check{Name: name, Status: StatusFail, Err: err})
			continue
		}
		report.add(Check{Name: name, Status: StatusPass})
	}

	ts, err := bins.CheckTimestamps(v.tolerance)
	switch {
	case err != nil:
		report.add(Check{Name: "build timestamps", Status: StatusFail, Err: err})
	case !ts.Within:
		report.add(Check{
			Name:   "build timestamps",
			Status: StatusWarn,
			Detail: fmt.Sprintf("bootloader and firmware built %s apart, they may come from different builds", ts.Diff.Round(time.Second)),
		})
	default:
		report.add(Check{Name: "build timestamps", Status: StatusPass})
	}

	for _, c := range report.Checks {
		attrs := []any{slog.String("check", c.Name), slog.String("status", string(c.Status))}
		if c.Detail != "" {
			attrs = append(attrs, slog.String("detail", c.Detail))
		}
		switch c.Status {
		case StatusFail:
			v.log.Error("Pre-burn check failed", append(attrs, "err", c.Err)...)
		case StatusWarn:
			v.log.Warn("Pre-burn check warning", attrs...)
		default:
			v.log.Debug("Pre-burn check passed", attrs...)
		}
	}
	return report
}
