package artifacts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte{0xe9}, 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestLocate(t *testing.T) {
	b := Locate("/proj", "esp32-c3", "")
	assert.Equal(t, "/proj/.pio/build/esp32-c3/bootloader.bin", b.Bootloader)
	assert.Equal(t, "/proj/.pio/build/esp32-c3/firmware.bin", b.Firmware)
	assert.Equal(t, "/proj/.pio/build/esp32-c3/partitions.bin", b.Partitions)

	b = Locate("/proj", "esp32-s3", "espwifi")
	assert.Equal(t, "/proj/.pio/build/esp32-s3/espwifi.bin", b.Firmware)
}

func TestMissing(t *testing.T) {
	dir := t.TempDir()
	b := Locate(dir, "esp32-c3", "")

	assert.Equal(t, []string{"bootloader.bin", "firmware.bin"}, b.Missing())
	require.ErrorIs(t, b.RequireExist(), ErrMissingBinaries)

	touch(t, b.Bootloader, time.Now())
	assert.Equal(t, []string{"firmware.bin"}, b.Missing())

	touch(t, b.Firmware, time.Now())
	assert.Empty(t, b.Missing())
	require.NoError(t, b.RequireExist())
}

func TestCheckTimestamps(t *testing.T) {
	dir := t.TempDir()
	b := Locate(dir, "esp32-c3", "")
	now := time.Now()

	touch(t, b.Bootloader, now)
	touch(t, b.Firmware, now.Add(-10*time.Second))
	check, err := b.CheckTimestamps(TimestampTolerance)
	require.NoError(t, err)
	assert.True(t, check.Within)
	assert.Equal(t, 10*time.Second, check.Diff)

	touch(t, b.Firmware, now.Add(2*time.Minute))
	check, err = b.CheckTimestamps(TimestampTolerance)
	require.NoError(t, err)
	assert.False(t, check.Within)
	assert.Equal(t, 2*time.Minute, check.Diff)
}

func TestCheckTimestampsMissing(t *testing.T) {
	_, err := Locate(t.TempDir(), "esp32-c3", "").CheckTimestamps(TimestampTolerance)
	require.Error(t, err)
}
