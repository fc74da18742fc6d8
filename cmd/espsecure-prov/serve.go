package main

import (
	"github.com/ruteri/esp-secure-provisioning/cmd/flags"
	"github.com/ruteri/esp-secure-provisioning/httpserver"
	"github.com/ruteri/esp-secure-provisioning/inspector"
	"github.com/ruteri/esp-secure-provisioning/serialport"
	"github.com/urfave/cli/v2"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Serve the read-only station status API",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "listen-addr",
			Value: "127.0.0.1:8080",
			Usage: "address to listen on for API",
		},
		flags.PprofFlag,
		flags.DrainSecondsFlag,
	}, flags.ProjectFlags...),
	Action: func(cCtx *cli.Context) error {
		s, err := setup(cCtx)
		if err != nil {
			return err
		}

		archive, err := s.archive()
		if err != nil {
			s.log.Warn("Record lookups disabled", "err", err)
			archive = nil
		}

		st := s.project.Station
		handler := httpserver.NewHandler(
			serialport.NewResolver(),
			inspector.New(s.runner, st.Timeouts.Inspect, s.log),
			archive,
			st.LockDir,
			s.log,
		)

		cfg := flags.ConfigureServer(cCtx, s.log, cCtx.String("listen-addr"))
		server := httpserver.New(cfg, handler)
		server.RunInBackground()

		s.log.Info("Server is running, press Ctrl+C to stop")
		<-cCtx.Context.Done()
		s.log.Info("Shutdown signal received")

		server.Shutdown()
		s.log.Info("Server shutdown complete")
		return nil
	},
}
