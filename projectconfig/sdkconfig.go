package projectconfig

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SigningKeyOption is the sdkconfig option naming the secure boot signing key.
const SigningKeyOption = "CONFIG_SECURE_BOOT_SIGNING_KEY"

// Sdkconfig holds the KEY=VALUE pairs of an ESP-IDF sdkconfig file, values unquoted.
type Sdkconfig map[string]string

// ReadSdkconfig parses an sdkconfig file, skipping blank and comment lines.
func ReadSdkconfig(path string) (Sdkconfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sdkconfig: %w", err)
	}
	defer f.Close()

	cfg := make(Sdkconfig)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		cfg[strings.TrimSpace(key)] = unquote(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sdkconfig: %w", err)
	}
	return cfg, nil
}

// ConfiguredSigningKey follows platformio.ini [env:<env>] board_build.sdkconfig
// to the sdkconfig and returns its signing key path, resolved against projectDir.
// Returns "" when any link of the chain is missing.
func ConfiguredSigningKey(projectDir, env string, p *PlatformIO) string {
	rel := p.Sdkconfig(env)
	if rel == "" {
		return ""
	}

	sdkPath := resolvePath(projectDir, rel)
	if _, err := os.Stat(sdkPath); err != nil {
		return ""
	}

	cfg, err := ReadSdkconfig(sdkPath)
	if err != nil {
		return ""
	}
	key := cfg[SigningKeyOption]
	if key == "" {
		return ""
	}
	return resolvePath(projectDir, key)
}

func resolvePath(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
