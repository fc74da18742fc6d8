// Package burner performs the irreversible eFuse writes.
//
// A Burner moves Idle -> Confirmed -> Burning -> Done or Failed. No espefuse
// write is issued before the operator typed ConfirmPhrase, and every write
// holds an exclusive lock file for its serial port so two processes cannot
// burn the same device at once. A write that fails or times out after the
// tool started is reported as interfaces.ErrUncertainState: the device may be
// partially provisioned.
package burner
