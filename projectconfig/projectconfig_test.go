package projectconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const platformioINI = `; PlatformIO Project Configuration File
[platformio]
default_envs = esp32-s3, esp32-c3

[env]
framework = espidf

[env:esp32-c3]
platform = espressif32
board = esp32-c3-devkitm-1
board_build.sdkconfig =
    "sdkconfig.secure"
extra_scripts = post:scripts/sign_binaries.py

[env:esp32-s3]
board = esp32-s3-devkitc-1
board_build.sdkconfig = 'configs/sdkconfig.s3'
`

func TestLoadPlatformIOMissing(t *testing.T) {
	p, err := LoadPlatformIO(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Empty(t, p.DefaultEnvs())
	assert.Empty(t, p.Sdkconfig("esp32-c3"))
}

func TestPlatformIOSdkconfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, PlatformIOFile, platformioINI)

	p, err := LoadPlatformIO(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"esp32-s3", "esp32-c3"}, p.DefaultEnvs())
	assert.Equal(t, "sdkconfig.secure", p.Sdkconfig("esp32-c3"), "value on the following line")
	assert.Equal(t, "configs/sdkconfig.s3", p.Sdkconfig("esp32-s3"))
	assert.Empty(t, p.Sdkconfig("esp32-c6"))
}

func TestResolveEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, PlatformIOFile, platformioINI)
	p, err := LoadPlatformIO(dir)
	require.NoError(t, err)

	assert.Equal(t, "custom", ResolveEnv("custom", p))
	assert.Equal(t, "esp32-s3", ResolveEnv("", p))
	assert.Equal(t, FallbackEnv, ResolveEnv("", nil))
}

func TestConfiguredSigningKey(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, PlatformIOFile, platformioINI)
	writeFile(t, dir, "sdkconfig.secure", `# Automatically generated file
CONFIG_SECURE_BOOT=y
CONFIG_SECURE_BOOT_SIGNING_KEY="keys/secure_boot_signing_key.pem"
`)
	writeFile(t, dir, "configs/sdkconfig.s3", "CONFIG_SECURE_BOOT_SIGNING_KEY=/etc/keys/s3.pem\n")

	p, err := LoadPlatformIO(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "keys/secure_boot_signing_key.pem"), ConfiguredSigningKey(dir, "esp32-c3", p))
	assert.Equal(t, "/etc/keys/s3.pem", ConfiguredSigningKey(dir, "esp32-s3", p))
	assert.Empty(t, ConfiguredSigningKey(dir, "esp32-c6", p))
}

func TestConfiguredSigningKeyMissingSdkconfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, PlatformIOFile, platformioINI)
	p, err := LoadPlatformIO(dir)
	require.NoError(t, err)

	assert.Empty(t, ConfiguredSigningKey(dir, "esp32-c3", p))
}

func TestReadSdkconfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sdkconfig", `
# comment
CONFIG_A=y
CONFIG_B="quoted value"
not a pair
CONFIG_C=
`)
	cfg, err := ReadSdkconfig(path)
	require.NoError(t, err)
	assert.Equal(t, Sdkconfig{"CONFIG_A": "y", "CONFIG_B": "quoted value", "CONFIG_C": ""}, cfg)
}

func TestLoadStation(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s, err := LoadStation("")
		require.NoError(t, err)
		assert.Equal(t, 300*time.Second, s.Timeouts.Build)
		assert.Equal(t, "0x210000", s.Flash.LittleFSOffset)
	})

	t.Run("overrides", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "station.yaml", `
tools:
  espefuse: [espefuse.py]
timeouts:
  build: 10m
flash:
  baud: 921600
storage:
  - file:///var/lib/espsecure
`)
		s, err := LoadStation(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"espefuse.py"}, s.Tools["espefuse"])
		assert.Equal(t, 10*time.Minute, s.Timeouts.Build)
		assert.Equal(t, 60*time.Second, s.Timeouts.Upload)
		assert.Equal(t, 921600, s.Flash.Baud)
		assert.Equal(t, "dio", s.Flash.Mode)
		assert.Equal(t, []string{"file:///var/lib/espsecure"}, s.Storage)
	})

	t.Run("empty file", func(t *testing.T) {
		s, err := LoadStation(writeFile(t, t.TempDir(), "station.yaml", ""))
		require.NoError(t, err)
		assert.Equal(t, 460800, s.Flash.Baud)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := LoadStation(writeFile(t, t.TempDir(), "station.yaml", "bogus: 1\n"))
		require.Error(t, err)
	})
}

func TestParseSize(t *testing.T) {
	n, err := ParseSize("0x1e0000")
	require.NoError(t, err)
	assert.Equal(t, int64(1966080), n)

	_, err = ParseSize("big")
	require.Error(t, err)
}
