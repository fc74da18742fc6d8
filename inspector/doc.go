// Package inspector reads ESP32 eFuse state by running espefuse and
// classifying its text output.
//
// All text scraping lives in parse.go as pure functions over captured output,
// so a structured output mode can replace them without touching callers.
// Values that do not match a known form are reported as Unknown, never as
// Disabled.
package inspector
