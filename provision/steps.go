package provision

import "fmt"

// Step names one stage of a provisioning flow.
type Step string

const (
	StepDeps          Step = "deps"
	StepKey           Step = "key"
	StepPort          Step = "port"
	StepProbe         Step = "probe"
	StepChip          Step = "chip"
	StepEnv           Step = "env"
	StepBuild         Step = "build"
	StepSign          Step = "sign"
	StepValidate      Step = "validate"
	StepUpload        Step = "upload"
	StepFinalValidate Step = "final-validate"
	StepDeviceInfo    Step = "device-info"
	StepKeyBlock      Step = "key-block"
	StepDigest        Step = "digest"
	StepConfirm       Step = "confirm"
	StepBurn          Step = "burn"
)

var stepMessages = map[Step]string{
	StepDeps:          "required tools are not available",
	StepKey:           "signing key is not usable",
	StepPort:          "could not resolve serial port",
	StepProbe:         "device not accessible",
	StepChip:          "could not detect chip type",
	StepEnv:           "could not determine build environment",
	StepBuild:         "build failed",
	StepSign:          "signing failed",
	StepValidate:      "binary validation failed",
	StepUpload:        "upload failed",
	StepFinalValidate: "final pre-burn validation failed",
	StepDeviceInfo:    "could not read device state",
	StepKeyBlock:      "key block check failed",
	StepDigest:        "could not compute public key digest",
	StepConfirm:       "burn aborted",
	StepBurn:          "eFuse burn failed",
}

// Message is the operator-facing description of a failure in this step.
func (s Step) Message() string {
	if m, ok := stepMessages[s]; ok {
		return m
	}
	return string(s) + " failed"
}

// StepError reports the step a flow stopped at.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step.Message(), e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
