package projectconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

const (
	// PlatformIOFile is the project file name.
	PlatformIOFile = "platformio.ini"

	// FallbackEnv is used when neither PIOENV nor default_envs names an environment.
	FallbackEnv = "esp32-c3"

	sdkconfigOption = "board_build.sdkconfig"
)

// PlatformIO is a parsed platformio.ini. A nil *PlatformIO behaves like an
// empty project file.
type PlatformIO struct {
	file *ini.File
}

// LoadPlatformIO reads <projectDir>/platformio.ini. A missing file is not an
// error and yields nil.
func LoadPlatformIO(projectDir string) (*PlatformIO, error) {
	path := filepath.Join(projectDir, PlatformIOFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	f, err := ini.LoadSources(ini.LoadOptions{
		AllowPythonMultilineValues: true,
		SpaceBeforeInlineComment:   true,
		IgnoreContinuation:         true,
		Insensitive:                false,
	}, path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &PlatformIO{file: f}, nil
}

// DefaultEnvs returns the [platformio] default_envs entries in order.
func (p *PlatformIO) DefaultEnvs() []string {
	if p == nil {
		return nil
	}
	raw := p.file.Section("platformio").Key("default_envs").String()
	return splitList(raw)
}

// Sdkconfig returns the board_build.sdkconfig value of [env:<env>], unquoted.
// The value may sit on the line following the key.
func (p *PlatformIO) Sdkconfig(env string) string {
	if p == nil {
		return ""
	}
	section, err := p.file.GetSection("env:" + env)
	if err != nil || !section.HasKey(sdkconfigOption) {
		return ""
	}
	for _, line := range strings.Split(section.Key(sdkconfigOption).String(), "\n") {
		if v := unquote(strings.TrimSpace(line)); v != "" {
			return v
		}
	}
	return ""
}

// ResolveEnv picks the build environment: explicit (normally PIOENV) first,
// then the first default_envs entry, then FallbackEnv.
func ResolveEnv(explicit string, p *PlatformIO) string {
	if explicit != "" {
		return explicit
	}
	if envs := p.DefaultEnvs(); len(envs) > 0 {
		return envs[0]
	}
	return FallbackEnv
}

func splitList(raw string) []string {
	var out []string
	for _, field := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n'
	}) {
		if v := strings.TrimSpace(field); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func unquote(s string) string {
	return strings.Trim(s, `"'`)
}
