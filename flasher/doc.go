// Package flasher uploads images with esptool and packs LittleFS images with
// mklittlefs.
package flasher
