package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/ruteri/esp-secure-provisioning/burner"
	"github.com/ruteri/esp-secure-provisioning/cmd/flags"
	"github.com/ruteri/esp-secure-provisioning/console"
	"github.com/ruteri/esp-secure-provisioning/interfaces"
	"github.com/ruteri/esp-secure-provisioning/keymgr"
	"github.com/ruteri/esp-secure-provisioning/provision"
	"github.com/ruteri/esp-secure-provisioning/storage"
	"github.com/ruteri/esp-secure-provisioning/toolexec"
	"github.com/urfave/cli/v2"
)

// lockWait bounds how long a read or flash waits for a port held by a burn.
const lockWait = 5 * time.Second

// station is everything a subcommand needs: logger, project, tool runner and
// the operator console.
type station struct {
	log     *slog.Logger
	project *flags.Project
	runner  *toolexec.Runner
	console *console.Console
}

func setup(cCtx *cli.Context) (*station, error) {
	log := flags.SetupLogger(cCtx)

	project, err := flags.LoadProject(cCtx)
	if err != nil {
		return nil, err
	}
	log.Debug("Project loaded",
		slog.String("dir", project.Dir),
		slog.String("env", project.Env),
		slog.Int("storage_backends", len(project.Station.Storage)))

	return &station{
		log:     log,
		project: project,
		runner:  toolexec.NewRunner(project.Station.Tools, log),
		console: console.Stdio(),
	}, nil
}

func (s *station) keys() *keymgr.Manager {
	p := s.project
	return keymgr.NewManager(p.Dir, p.Env, p.PlatformIO, s.runner, s.log)
}

// archive opens the configured storage backends. It returns nil, not an
// error, when none are configured.
func (s *station) archive() (interfaces.StorageBackend, error) {
	uris := s.project.Station.Storage
	if len(uris) == 0 {
		return nil, nil
	}
	return storage.NewStorageBackendFactory(s.log).CreateMultiBackend(uris)
}

func (s *station) provisioner(stream bool) *provision.Provisioner {
	p := s.project
	prov := provision.New(provision.Config{
		ProjectDir: p.Dir,
		Env:        p.Env,
		ProgName:   p.ProgName,
		PlatformIO: p.PlatformIO,
		Station:    p.Station,
		Stream:     stream,
	}, s.runner, s.console, s.log)

	archive, err := s.archive()
	if err != nil {
		s.log.Warn("Records will not be archived", "err", err)
		return prov
	}
	if archive != nil {
		prov = prov.WithArchive(archive)
	}
	return prov
}

// lockPort takes the per-port burn lock so a flash or read cannot interleave
// with a burn from another process.
func (s *station) lockPort(ctx context.Context, port string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()
	lock, err := burner.LockPort(lockCtx, s.project.Station.LockDir, port)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			s.log.Warn("Failed to release port lock", slog.String("port", port), "err", err)
		}
	}, nil
}

func target(cCtx *cli.Context) provision.Target {
	return provision.Target{
		Port: cCtx.String(flags.PortFlag.Name),
		Key:  cCtx.String(flags.KeyFlag.Name),
	}
}

// report prints the outcome of a burn flow.
func (s *station) report(out *provision.Outcome) {
	if out == nil || out.Record == nil {
		return
	}
	rec := out.Record
	s.console.Field("Result", rec.Result)
	if rec.Port != "" {
		s.console.Field("Port", rec.Port)
	}
	if rec.Chip != "" {
		s.console.Field("Chip", rec.Chip)
	}
	if rec.MAC != "" {
		s.console.Field("MAC", rec.MAC)
	}
	if rec.KeyDigest != "" {
		s.console.Field("Key digest", rec.KeyDigest)
	}
	for _, fuse := range rec.Fuses {
		s.console.Field("Burned", fuse)
	}
	if out.ArchiveID != "" {
		s.console.Field("Record", out.ArchiveID)
	}
}
