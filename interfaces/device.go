package interfaces

import "strings"

// TriState is a security feature state read from a device. Unknown means the
// tool output could not be classified and must never be read as Disabled.
type TriState int

const (
	Unknown TriState = iota
	Disabled
	Enabled
)

// String returns the state name.
func (s TriState) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Enabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// MarshalText renders the state for JSON and YAML output.
func (s TriState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ChipType is the chip identifier in the form espefuse accepts for --chip.
type ChipType string

const (
	ChipUnknown ChipType = ""
	ChipESP32   ChipType = "esp32"
	ChipESP32C3 ChipType = "esp32c3"
	ChipESP32S3 ChipType = "esp32s3"
	ChipESP32C6 ChipType = "esp32c6"
)

// chipAliases is ordered longest alias first so "esp32-c3" is not swallowed by "esp32".
var chipAliases = []struct {
	alias string
	chip  ChipType
}{
	{"esp32-c3", ChipESP32C3},
	{"esp32-s3", ChipESP32S3},
	{"esp32-c6", ChipESP32C6},
	{"esp32c3", ChipESP32C3},
	{"esp32s3", ChipESP32S3},
	{"esp32c6", ChipESP32C6},
	{"esp32", ChipESP32},
}

// ChipFromName maps a human readable chip name ("ESP32-C3 (QFN32) (revision v0.4)")
// to a ChipType. Returns ChipUnknown when nothing matches.
func ChipFromName(name string) ChipType {
	lower := strings.ToLower(name)
	for _, a := range chipAliases {
		if strings.Contains(lower, a.alias) {
			return a.chip
		}
	}
	return ChipUnknown
}

// DeviceState is the security-relevant state of a connected device.
// It is recomputed on every inspection and never cached across invocations.
type DeviceState struct {
	Port            string   `json:"port"`
	ChipName        string   `json:"chip_name,omitempty"`
	Chip            ChipType `json:"chip,omitempty"`
	SecureBoot      TriState `json:"secure_boot"`
	FlashEncryption TriState `json:"flash_encryption"`
	MAC             string   `json:"mac,omitempty"`
}

// Fuse names an eFuse field as espefuse spells it.
type Fuse string

const (
	FuseSecureBootEn    Fuse = "SECURE_BOOT_EN"
	FuseFlashCryptCnt   Fuse = "FLASH_CRYPT_CNT"
	FuseSPIBootCryptCnt Fuse = "SPI_BOOT_CRYPT_CNT"
)

// KeyBlock and KeyPurpose name the key block and purpose used for the
// secure boot v2 public key digest.
const (
	KeyBlock0                = "BLOCK_KEY0"
	KeyPurposeSecureBootDig0 = "SECURE_BOOT_DIGEST0"
)
