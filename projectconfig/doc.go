// Package projectconfig reads the configuration the toolkit consumes but does
// not own: the PlatformIO project file, the ESP-IDF sdkconfig it points to,
// and the optional YAML station file with tool paths, timeouts, flash layout
// and archive locations.
package projectconfig
