package flags

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/esp-secure-provisioning/common"
	"github.com/ruteri/esp-secure-provisioning/httpserver"
	"github.com/ruteri/esp-secure-provisioning/projectconfig"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// Project is the PlatformIO project and station configuration a command works on.
type Project struct {
	Dir        string
	Env        string
	ProgName   string
	PlatformIO *projectconfig.PlatformIO
	Station    *projectconfig.Station
}

// LoadProject reads platformio.ini and the station config named by the flags.
func LoadProject(cCtx *cli.Context) (*Project, error) {
	dir, err := filepath.Abs(cCtx.String(ProjectDirFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid project directory: %w", err)
	}

	pio, err := projectconfig.LoadPlatformIO(dir)
	if err != nil {
		return nil, err
	}

	station, err := projectconfig.LoadStation(cCtx.String(ConfigFlag.Name))
	if err != nil {
		return nil, err
	}

	return &Project{
		Dir:        dir,
		Env:        projectconfig.ResolveEnv(cCtx.String(EnvFlag.Name), pio),
		ProgName:   cCtx.String(ProgNameFlag.Name),
		PlatformIO: pio,
		Station:    station,
	}, nil
}

var PortFlag = &cli.StringFlag{
	Name:    "port",
	Aliases: []string{"p"},
	EnvVars: []string{"UPLOAD_PORT"},
	Usage:   "serial port of the device; auto-detected when empty",
}

var KeyFlag = &cli.StringFlag{
	Name:    "key",
	Aliases: []string{"k"},
	EnvVars: []string{"ESPSECURE_KEY"},
	Usage:   "secure boot signing key; defaults to the sdkconfig key or esp32_secure_boot.pem",
}

var ProjectDirFlag = &cli.StringFlag{
	Name:    "project-dir",
	Aliases: []string{"d"},
	EnvVars: []string{"PROJECT_DIR"},
	Value:   ".",
	Usage:   "PlatformIO project directory",
}

var EnvFlag = &cli.StringFlag{
	Name:    "env",
	Aliases: []string{"e"},
	EnvVars: []string{"PIOENV"},
	Usage:   "PlatformIO environment; defaults to the first default_envs entry",
}

var ProgNameFlag = &cli.StringFlag{
	Name:    "prog-name",
	EnvVars: []string{"PROGNAME"},
	Usage:   "firmware image name without .bin",
}

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	EnvVars: []string{"ESPSECURE_CONFIG"},
	Usage:   "station YAML config (tool paths, timeouts, flash layout, storage)",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 5,
	Usage: "seconds to wait in drain before shutting down",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

var ProjectFlags = []cli.Flag{
	ProjectDirFlag,
	EnvFlag,
	ProgNameFlag,
	ConfigFlag,
}

var CommonFlags = append(append([]cli.Flag{PortFlag, KeyFlag}, ProjectFlags...), LogFlags...)
