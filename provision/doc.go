// Package provision sequences the secure boot and flash encryption flows.
//
// Every flow is a fixed list of steps (key, port, probe, chip, validation,
// device inspection, confirmation, burn) recorded in a Record. The first
// failing step stops the flow with a *StepError naming it. A device that is
// already provisioned is reported as such and never written again.
//
// Workflow extends the secure boot flow with build, sign and upload stages
// so a fresh checkout can be taken to a locked device in one run.
package provision
