package inspector

import (
	"encoding/hex"
	"math/bits"
	"regexp"
	"strconv"
	"strings"

	"github.com/ruteri/esp-secure-provisioning/interfaces"
	"github.com/ruteri/esp-secure-provisioning/keymgr"
)

var (
	byteToken   = regexp.MustCompile(`\b([0-9a-f]{2})\b`)
	wordToken   = regexp.MustCompile(`\b([0-9a-f]{8})\b`)
	offsetToken = regexp.MustCompile(`^[0-9a-f]+$`)
)

var (
	secureBootDisabled = []string{"false", "0", "0b0"}
	secureBootEnabled  = []string{"true", "1", "0b1"}
	cryptCntDisabled   = []string{"disable"}
	cryptCntEnabled    = []string{"enable"}
)

// ParseSummary classifies `espefuse summary` output. Lines are matched
// case-insensitively; a value that fits neither list leaves the field Unknown.
func ParseSummary(text string) interfaces.DeviceState {
	var state interfaces.DeviceState

	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "detecting chip type"):
			if _, name, ok := strings.Cut(line, "..."); ok && strings.TrimSpace(name) != "" {
				state.ChipName = strings.TrimSpace(name)
			}
		case strings.Contains(lower, "chip is ") && state.ChipName == "":
			_, name, _ := strings.Cut(line, "is ")
			state.ChipName = strings.TrimSpace(name)
		case strings.Contains(lower, "secure_boot_en"):
			if state.SecureBoot == interfaces.Unknown {
				state.SecureBoot = classify(fuseValue(lower), secureBootDisabled, secureBootEnabled)
			}
		case strings.Contains(lower, "spi_boot_crypt_cnt"), strings.Contains(lower, "flash_crypt_cnt"):
			if state.FlashEncryption == interfaces.Unknown {
				state.FlashEncryption = classifyCryptCnt(fuseValue(lower))
			}
		case strings.Contains(lower, "mac (block1)") && strings.Contains(lower, "="):
			if mac := firstField(line[strings.Index(line, "=")+1:]); strings.Contains(mac, ":") {
				state.MAC = mac
			}
		}
	}

	state.Chip = interfaces.ChipFromName(state.ChipName)
	return state
}

// fuseValue returns the first token after the " = " value separator.
func fuseValue(lower string) string {
	idx := strings.LastIndex(lower, "= ")
	if idx == -1 {
		return ""
	}
	return firstField(lower[idx+2:])
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func classify(value string, disabled, enabled []string) interfaces.TriState {
	for _, v := range disabled {
		if value == v {
			return interfaces.Disabled
		}
	}
	for _, v := range enabled {
		if value == v {
			return interfaces.Enabled
		}
	}
	return interfaces.Unknown
}

// classifyCryptCnt reads a flash encryption counter. Encryption is on when an
// odd number of its bits is set.
func classifyCryptCnt(value string) interfaces.TriState {
	if state := classify(value, cryptCntDisabled, cryptCntEnabled); state != interfaces.Unknown {
		return state
	}
	n, err := strconv.ParseUint(value, 0, 64)
	if err != nil {
		return interfaces.Unknown
	}
	if bits.OnesCount64(n)%2 == 1 {
		return interfaces.Enabled
	}
	return interfaces.Disabled
}

// keyBlockBytes collects two-digit hex tokens following the offset column of
// a byte-oriented dump ("00000000: 3b ab e8 ee ...").
func keyBlockBytes(text string) []byte {
	var out []byte
	for _, line := range strings.Split(strings.ToLower(text), "\n") {
		offset, data, ok := strings.Cut(line, ":")
		if !ok || !offsetToken.MatchString(strings.TrimSpace(offset)) {
			continue
		}
		for _, m := range byteToken.FindAllStringSubmatch(data, -1) {
			b, err := hex.DecodeString(m[1])
			if err == nil {
				out = append(out, b[0])
			}
		}
	}
	return out
}

// ParseKeyBlockDump extracts the key digest from `espefuse dump_blocks BLOCK_KEY0`.
// The block is stored as little-endian 32-bit words, so the bytes of each
// word are reversed to recover the digest as burned.
func ParseKeyBlockDump(text string) (keymgr.Digest, bool) {
	raw := keyBlockBytes(text)
	if len(raw) < len(keymgr.Digest{}) {
		return keymgr.Digest{}, false
	}

	var d keymgr.Digest
	copy(d[:], raw[:len(d)])
	return ReverseWords(d), true
}

// ParseDump extracts the first eight 32-bit register words of the BLOCK_KEY0
// (BLOCK4) section of `espefuse dump` output, concatenated as printed.
func ParseDump(text string) (keymgr.Digest, bool) {
	var words []string
	inBlock := false

	for _, line := range strings.Split(strings.ToLower(text), "\n") {
		if strings.Contains(line, "block_key0") || strings.Contains(line, "block4") {
			inBlock = true
		} else if !inBlock {
			continue
		} else if strings.TrimSpace(line) == "" {
			if len(words) >= 8 {
				break
			}
			continue
		} else if strings.Contains(line, "block") {
			// next block started
			break
		}

		for _, m := range wordToken.FindAllStringSubmatch(line, -1) {
			words = append(words, m[1])
		}
		if len(words) >= 8 {
			break
		}
	}

	if len(words) < 8 {
		return keymgr.Digest{}, false
	}
	d, err := keymgr.ParseDigest(strings.Join(words[:8], ""))
	if err != nil {
		return keymgr.Digest{}, false
	}
	return d, true
}

// KeyBlockPresent reports whether the first 32 bytes of a key block dump hold
// anything but zeros. Enabled means a key is present; Unknown means the
// output carried no recognisable data.
func KeyBlockPresent(text string) interfaces.TriState {
	if raw := keyBlockBytes(text); len(raw) >= 32 {
		return presence(raw[:32])
	}

	var words []string
	for _, line := range strings.Split(strings.ToLower(text), "\n") {
		if _, data, ok := strings.Cut(line, ":"); ok {
			line = data
		}
		for _, m := range wordToken.FindAllStringSubmatch(line, -1) {
			words = append(words, m[1])
		}
	}
	if len(words) == 0 {
		return interfaces.Unknown
	}
	if len(words) > 8 {
		words = words[:8]
	}
	for _, w := range words {
		if w != "00000000" {
			return interfaces.Enabled
		}
	}
	return interfaces.Disabled
}

func presence(raw []byte) interfaces.TriState {
	for _, b := range raw {
		if b != 0 {
			return interfaces.Enabled
		}
	}
	return interfaces.Disabled
}

// ReverseWords swaps byte order within each 32-bit word.
func ReverseWords(d keymgr.Digest) keymgr.Digest {
	var out keymgr.Digest
	for w := 0; w < len(d); w += 4 {
		out[w], out[w+1], out[w+2], out[w+3] = d[w+3], d[w+2], d[w+1], d[w]
	}
	return out
}
