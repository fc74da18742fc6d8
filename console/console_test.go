package console

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainOutput(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader(""), &out)

	c.Banner("SECURE BOOT")
	c.Warn("IRREVERSIBLE", "first line", "second line")
	c.Success("done")
	c.Fail("broken")
	c.Field("Port", "/dev/ttyUSB0")

	text := out.String()
	assert.Contains(t, text, "SECURE BOOT")
	assert.Contains(t, text, "WARNING: IRREVERSIBLE\n  first line\n  second line\n")
	assert.Contains(t, text, "OK  done")
	assert.Contains(t, text, "ERR broken")
	assert.Contains(t, text, "Port:")
	assert.Contains(t, text, "/dev/ttyUSB0")
	assert.NotContains(t, text, "\x1b[", "no styling when output is not a terminal")
}

func TestConfirmInputSharesReader(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader("BURN\nnext\n"), &out)

	in := c.ConfirmInput("BURN")
	assert.Contains(t, out.String(), "Type 'BURN' to continue")

	buf := make([]byte, 5)
	_, err := io.ReadFull(in, buf)
	require.NoError(t, err)
	assert.Equal(t, "BURN\n", string(buf))
}

func TestReadPassphraseNeedsTerminal(t *testing.T) {
	c := New(strings.NewReader("secret\n"), io.Discard)
	_, err := c.ReadPassphrase("Passphrase", false)
	require.ErrorIs(t, err, ErrNoTerminal)
}
