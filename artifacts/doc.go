// Package artifacts locates PlatformIO build outputs and applies the
// same-build heuristic to bootloader and firmware modification times.
package artifacts
