// Package console is the operator-facing side of the CLI: banners, irreversible
// operation warnings and the typed burn confirmation. Diagnostics go to slog;
// this package only prints what a person at the station needs to read.
package console
